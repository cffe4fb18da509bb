package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
)

// Completer is an LLM text-completion backend.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Provider() string
	Model() string
}

// Result is the parsed body of one review response.
type Result struct {
	Issues  []Issue `json:"issues"`
	Summary string  `json:"summary"`
	Dropped int     `json:"-"` // Issues that failed validation
}

// FormatError means the model answered but not with the expected JSON.
type FormatError struct {
	Raw    string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid review response: %s (raw: %s)", e.Reason, truncate(e.Raw, 200))
}

// Options tunes an Extractor. Zero values take defaults.
type Options struct {
	MaxRetries       int           // Format retries after the first attempt
	TransportRetries int           // Retries of RetryableError per call
	BackoffBase      time.Duration // First transport retry delay
	BackoffMax       time.Duration // Cap on a single delay
	Stats            *LLMStats
	Observe          func(provider string, d time.Duration)
	Logger           *slog.Logger
}

// Extractor turns review prompts into validated issues.
type Extractor struct {
	client           Completer
	maxRetries       int
	transportRetries uint64
	backoffBase      time.Duration
	backoffMax       time.Duration
	stats            *LLMStats
	observe          func(provider string, d time.Duration)
	log              *slog.Logger
}

func NewExtractor(client Completer, opts Options) *Extractor {
	e := &Extractor{
		client:           client,
		maxRetries:       opts.MaxRetries,
		transportRetries: 3,
		backoffBase:      opts.BackoffBase,
		backoffMax:       opts.BackoffMax,
		stats:            opts.Stats,
		observe:          opts.Observe,
		log:              opts.Logger,
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	}
	if opts.TransportRetries > 0 {
		e.transportRetries = uint64(opts.TransportRetries)
	}
	if e.backoffBase <= 0 {
		e.backoffBase = time.Second
	}
	if e.backoffMax <= 0 {
		e.backoffMax = 30 * time.Second
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Client returns the underlying completer.
func (e *Extractor) Client() Completer {
	return e.client
}

// Stats returns the latency recorder, or nil when none was configured.
func (e *Extractor) Stats() *LLMStats {
	return e.stats
}

// ReviewContract reviews a whole contract in one request.
func (e *Extractor) ReviewContract(ctx context.Context, contractText string) (*Result, error) {
	return e.Run(ctx, BuildContractReviewPrompt(contractText))
}

// ReviewSection reviews part n of total.
func (e *Extractor) ReviewSection(ctx context.Context, text string, n, total int) (*Result, error) {
	return e.Run(ctx, BuildSectionReviewPrompt(text, n, total))
}

// Run sends prompt and parses the answer. A response that does not parse
// is retried up to MaxRetries times with the format reminder appended.
func (e *Extractor) Run(ctx context.Context, prompt string) (*Result, error) {
	current := prompt
	for attempt := 0; ; attempt++ {
		raw, err := e.complete(ctx, current)
		if err != nil {
			return nil, err
		}
		res, err := ParseResult(raw)
		if err == nil {
			if res.Dropped > 0 {
				e.log.Warn("dropped invalid issues", "count", res.Dropped)
			}
			return res, nil
		}
		var fe *FormatError
		if !errors.As(err, &fe) || attempt >= e.maxRetries {
			return nil, err
		}
		e.log.Warn("review response not valid json, retrying",
			"attempt", attempt+1, "max_retries", e.maxRetries, "reason", fe.Reason)
		current = BuildRetryPrompt(prompt)
	}
}

func (e *Extractor) complete(ctx context.Context, prompt string) (string, error) {
	return e.Complete(ctx, SystemPrompt, prompt)
}

// Complete sends one prompt with the given system message, retrying
// transport failures with backoff. The answer is returned as is.
func (e *Extractor) Complete(ctx context.Context, system, prompt string) (string, error) {
	backoff := retry.WithMaxRetries(e.transportRetries,
		retry.WithJitter(50*time.Millisecond,
			retry.WithCappedDuration(e.backoffMax, retry.NewExponential(e.backoffBase))))

	var raw string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		start := time.Now()
		out, err := e.client.Complete(ctx, system, prompt)
		e.record(time.Since(start))
		if err != nil {
			var re *RetryableError
			if errors.As(err, &re) {
				e.log.Warn("llm call failed, will retry", "provider", e.client.Provider(), "status", re.StatusCode)
				return retry.RetryableError(err)
			}
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (e *Extractor) record(d time.Duration) {
	if e.stats != nil {
		e.stats.Record(d.Milliseconds())
	}
	if e.observe != nil {
		e.observe(e.client.Provider(), d)
	}
}

// ParseResult reads {"issues": [...], "summary": "..."} from a model
// answer. Code fences and prose around the object are tolerated. Issues
// that fail validation are dropped and counted.
func ParseResult(raw string) (*Result, error) {
	doc, err := ParseObject(raw)
	if err != nil {
		return nil, err
	}
	list := doc.Get("issues")
	if list.Exists() && !list.IsArray() {
		return nil, &FormatError{Raw: raw, Reason: "issues is not an array"}
	}

	res := &Result{
		Issues:  []Issue{},
		Summary: doc.Get("summary").String(),
	}
	for _, item := range list.Array() {
		var is Issue
		if err := json.Unmarshal([]byte(item.Raw), &is); err != nil {
			res.Dropped++
			continue
		}
		if err := ValidateIssue(&is); err != nil {
			res.Dropped++
			continue
		}
		res.Issues = append(res.Issues, is)
	}
	return res, nil
}

// ParseObject extracts the JSON object from a model answer, tolerating
// code fences and surrounding prose.
func ParseObject(raw string) (gjson.Result, error) {
	s := stripCodeBlock(raw)
	if !gjson.Valid(s) {
		s = outermostObject(s)
	}
	if s == "" || !gjson.Valid(s) {
		return gjson.Result{}, &FormatError{Raw: raw, Reason: "not valid json"}
	}
	doc := gjson.Parse(s)
	if !doc.IsObject() {
		return gjson.Result{}, &FormatError{Raw: raw, Reason: "top level is not an object"}
	}
	return doc, nil
}

func outermostObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
