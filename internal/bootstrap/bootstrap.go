// Package bootstrap builds the shared components of the server and the CLI
// from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docreview/internal/artifacts"
	"github.com/dgallion1/docreview/internal/chunker"
	"github.com/dgallion1/docreview/internal/config"
	"github.com/dgallion1/docreview/internal/drafting"
	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/locate"
	"github.com/dgallion1/docreview/internal/metrics"
	"github.com/dgallion1/docreview/internal/pathstore"
	"github.com/dgallion1/docreview/internal/review"
	"github.com/dgallion1/docreview/internal/store"
)

// LLMClient is a completer that holds connections.
type LLMClient interface {
	extract.Completer
	Close()
}

// NewLLMClient returns the client for cfg.LLMProvider. DashScope goes
// through its OpenAI-compatible endpoint.
func NewLLMClient(cfg config.Config) (LLMClient, error) {
	temp := float32(cfg.LLMTemperature)
	switch cfg.LLMProvider {
	case config.ProviderDashScope:
		base := cfg.DashScopeBaseURL
		if base == "" {
			base = extract.DashScopeBaseURL
		}
		return extract.NewOpenAIClient(extract.ClientConfig{
			Provider:    config.ProviderDashScope,
			APIKey:      cfg.DashScopeAPIKey,
			Model:       cfg.DashScopeModel,
			BaseURL:     base,
			Temperature: temp,
		}), nil
	case config.ProviderOpenAI:
		return extract.NewOpenAIClient(extract.ClientConfig{
			Provider:    config.ProviderOpenAI,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			BaseURL:     cfg.OpenAIBaseURL,
			Temperature: temp,
		}), nil
	case config.ProviderAnthropic:
		return extract.NewClaudeClient(extract.ClientConfig{
			APIKey:      cfg.AnthropicAPIKey,
			Model:       cfg.AnthropicModel,
			Temperature: temp,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// NewService wires the review service. client may be nil for offline use;
// stats and m may be nil.
func NewService(cfg config.Config, client extract.Completer, stats *extract.LLMStats, m *metrics.Metrics, log *slog.Logger) (*review.Service, error) {
	var ex *extract.Extractor
	if client != nil {
		ex = extract.NewExtractor(client, extract.Options{
			MaxRetries: cfg.MaxRetries,
			Stats:      stats,
			Observe:    m.ObserveLLM,
			Logger:     log,
		})
	}
	return review.NewService(ex, locate.NewMatcher(cfg.FuzzyThreshold), review.Config{
		MaxTokensPerSection: cfg.MaxTokensPerSection,
		Estimator:           chunker.NewEstimator(cfg.CJKCharsPerToken, cfg.OtherCharsPerToken),
		CacheSize:           cfg.ParseCacheSize,
		Logger:              log,
	})
}

// NewDrafter shares the review service's extractor for contract drafting.
// It returns nil when no LLM is configured.
func NewDrafter(cfg config.Config, svc *review.Service, log *slog.Logger) *drafting.Generator {
	ex := svc.Extractor()
	if ex == nil {
		return nil
	}
	return drafting.NewGenerator(ex, drafting.Options{
		Model:      ex.Client().Model(),
		MaxRetries: cfg.MaxRetries,
		Logger:     log,
	})
}

// OpenStore opens the configured persistence backend.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite, "":
		return store.OpenSQLite(ctx, cfg.DatabasePath)
	case config.StorePathstore:
		return store.NewPathStore(pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// NewMirror returns the S3 mirror, or nil when S3_ENDPOINT is unset.
func NewMirror(cfg config.Config) (artifacts.Mirror, error) {
	if cfg.S3Endpoint == "" {
		return nil, nil
	}
	m, err := artifacts.NewS3Mirror(artifacts.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
