package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LLM providers.
const (
	ProviderDashScope = "dashscope"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Store backends.
const (
	StoreSQLite    = "sqlite"
	StorePathstore = "pathstore"
)

type Config struct {
	Port string

	// Auth; empty disables bearer auth
	DocreviewAPIKey string
	CORSOrigins     []string

	// LLM
	LLMProvider      string
	DashScopeAPIKey  string
	DashScopeModel   string
	DashScopeBaseURL string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicModel   string
	LLMTemperature   float64

	// Review tuning
	MaxRetries          int
	MaxTokensPerSection int
	FuzzyThreshold      float64
	CJKCharsPerToken    float64
	OtherCharsPerToken  float64
	CommentAuthor       string
	ParseCacheSize      int

	// Files
	MaxUploadBytes int64
	UploadDir      string
	StorageDir     string
	UploadMaxAge   time.Duration

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Job state
	JobTTL time.Duration

	// Persistence
	StoreBackend    string
	DatabasePath    string
	PathstoreURL    string
	PathstoreAPIKey string

	// Object storage mirror; disabled when S3Endpoint is empty
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

// Load reads the environment, after loading a .env file from the working
// directory if one exists. Variables already set are not overridden.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	cfg := Config{
		Port: envOr("PORT", "8000"),

		DocreviewAPIKey: os.Getenv("DOCREVIEW_API_KEY"),
		CORSOrigins:     envList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		LLMProvider:      strings.ToLower(envOr("LLM_PROVIDER", ProviderDashScope)),
		DashScopeAPIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		DashScopeModel:   envOr("DASHSCOPE_MODEL", "qwen3-max"),
		DashScopeBaseURL: envOr("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      envOr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:   envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		LLMTemperature:   envFloat("LLM_TEMPERATURE", 0.3),

		MaxRetries:          envInt("MAX_RETRIES", 3),
		MaxTokensPerSection: envInt("MAX_TOKENS_PER_SECTION", 4000),
		FuzzyThreshold:      envFloat("FUZZY_THRESHOLD", 0.70),
		CJKCharsPerToken:    envFloat("CJK_CHARS_PER_TOKEN", 1.5),
		OtherCharsPerToken:  envFloat("OTHER_CHARS_PER_TOKEN", 4),
		CommentAuthor:       envOr("COMMENT_AUTHOR", "AI审核"),
		ParseCacheSize:      envInt("PARSE_CACHE_SIZE", 64),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 10485760), // 10MB
		UploadDir:      envOr("UPLOAD_DIR", "uploads"),
		StorageDir:     envOr("STORAGE_DIR", "storage"),
		UploadMaxAge:   envDuration("UPLOAD_MAX_AGE", 24*time.Hour),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		StoreBackend:    strings.ToLower(envOr("STORE_BACKEND", StoreSQLite)),
		DatabasePath:    envOr("DATABASE_PATH", "contract_review.db"),
		PathstoreURL:    envOr("PATHSTORE_URL", "http://localhost:8080"),
		PathstoreAPIKey: os.Getenv("PATHSTORE_API_KEY"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Bucket:    envOr("S3_BUCKET", "docreview"),
		S3UseSSL:    envBool("S3_USE_SSL", false),
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxTokensPerSection <= 0 {
		cfg.MaxTokensPerSection = 4000
	}
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		cfg.FuzzyThreshold = 0.70
	}
	if cfg.CJKCharsPerToken <= 0 {
		cfg.CJKCharsPerToken = 1.5
	}
	if cfg.OtherCharsPerToken <= 0 {
		cfg.OtherCharsPerToken = 4
	}
	if cfg.LLMTemperature < 0 {
		cfg.LLMTemperature = 0.3
	}
	if cfg.ParseCacheSize <= 0 {
		cfg.ParseCacheSize = 64
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10485760
	}
	if cfg.UploadMaxAge <= 0 {
		cfg.UploadMaxAge = 24 * time.Hour
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

// Validate checks the keys the selected backends need.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case ProviderDashScope:
		if c.DashScopeAPIKey == "" {
			return fmt.Errorf("DASHSCOPE_API_KEY is required")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.StoreBackend {
	case StoreSQLite:
	case StorePathstore:
		if c.PathstoreURL == "" {
			return fmt.Errorf("PATHSTORE_URL is required")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.S3Endpoint != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required with S3_ENDPOINT")
	}
	return nil
}

// AuthEnabled reports whether API requests need a bearer token.
func (c Config) AuthEnabled() bool {
	return c.DocreviewAPIKey != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated value, dropping blanks.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
