// Package review runs a contract through parse, LLM review and issue
// location.
package review

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dgallion1/docreview/internal/chunker"
	"github.com/dgallion1/docreview/internal/doctree"
	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/locate"
	"github.com/dgallion1/docreview/internal/parser"
)

const (
	DefaultMaxTokensPerSection = 4000
	DefaultCacheSize           = 64
)

// Outcome is the result of reviewing one document. Success is false when
// the single-pass review failed or every chunk failed; Error then holds
// the reason.
type Outcome struct {
	Success     bool            `json:"success"`
	Issues      []extract.Issue `json:"issues"`
	Summary     string          `json:"summary"`
	Total       int             `json:"total_issues"`
	High        int             `json:"high_risk_count"`
	Medium      int             `json:"medium_risk_count"`
	Low         int             `json:"low_risk_count"`
	Error       string          `json:"error,omitempty"`
	ChunkErrors []string        `json:"chunk_errors,omitempty"`
	Chunks      int             `json:"chunks"`
}

// ProgressFunc is called after each chunk with the number done so far.
type ProgressFunc func(done, total int)

// Config tunes a Service. Zero values take defaults.
type Config struct {
	MaxTokensPerSection int
	Estimator           chunker.Estimator
	CacheSize           int
	Logger              *slog.Logger
}

// Service composes the parser, chunker, extractor and matcher. It is safe
// for concurrent use.
type Service struct {
	parser    parser.Parser
	extractor *extract.Extractor
	matcher   *locate.Matcher
	estimator chunker.Estimator
	budget    int

	cache *lru.Cache[string, *doctree.ParsedDocument]
	group singleflight.Group
	log   *slog.Logger
}

// NewService returns a Service. extractor may be nil for callers that only
// parse and locate.
func NewService(extractor *extract.Extractor, matcher *locate.Matcher, cfg Config) (*Service, error) {
	if cfg.MaxTokensPerSection <= 0 {
		cfg.MaxTokensPerSection = DefaultMaxTokensPerSection
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Estimator.CJKCharsPerToken <= 0 || cfg.Estimator.OtherCharsPerToken <= 0 {
		cfg.Estimator = chunker.NewEstimator(cfg.Estimator.CJKCharsPerToken, cfg.Estimator.OtherCharsPerToken)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if matcher == nil {
		matcher = locate.NewMatcher(locate.DefaultThreshold)
	}
	cache, err := lru.New[string, *doctree.ParsedDocument](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("parse cache: %w", err)
	}
	return &Service{
		parser:    parser.New(),
		extractor: extractor,
		matcher:   matcher,
		estimator: cfg.Estimator,
		budget:    cfg.MaxTokensPerSection,
		cache:     cache,
		log:       cfg.Logger,
	}, nil
}

// Extractor returns the configured extractor, or nil.
func (s *Service) Extractor() *extract.Extractor {
	return s.extractor
}

// Budget returns the per-request token budget.
func (s *Service) Budget() int {
	return s.budget
}

// Estimator returns the token estimator used for splitting.
func (s *Service) Estimator() chunker.Estimator {
	return s.estimator
}

// ParseFile parses the document at path, reusing a cached parse of
// identical content.
func (s *Service) ParseFile(path string) (*doctree.ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s.Parse(data)
}

// Parse parses data, keyed in the cache by its SHA-256. Concurrent calls
// for the same content share one parse.
func (s *Service) Parse(data []byte) (*doctree.ParsedDocument, error) {
	key := ContentHash(data)
	if doc, ok := s.cache.Get(key); ok {
		return doc, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		doc, err := s.parser.Parse(data)
		if err != nil {
			return nil, err
		}
		s.cache.Add(key, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*doctree.ParsedDocument), nil
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ReviewDocument parses the document at path and reviews it, in one
// request when it fits the budget and chunk by chunk otherwise. The
// returned error covers input problems only; review failures are
// reported through Outcome.
func (s *Service) ReviewDocument(ctx context.Context, path string, progress ProgressFunc) (*Outcome, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("review: no LLM client configured")
	}
	doc, err := s.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return s.Review(ctx, doc, progress), nil
}

// Review reviews an already parsed document.
func (s *Service) Review(ctx context.Context, doc *doctree.ParsedDocument, progress ProgressFunc) *Outcome {
	if progress == nil {
		progress = func(int, int) {}
	}
	if !s.estimator.ShouldSplit(doc, s.budget) {
		return s.reviewSingle(ctx, doc.FullText, progress)
	}
	return s.reviewChunks(ctx, s.estimator.Split(doc, s.budget), progress)
}

func (s *Service) reviewSingle(ctx context.Context, text string, progress ProgressFunc) *Outcome {
	res, err := s.extractor.ReviewContract(ctx, text)
	progress(1, 1)
	if err != nil {
		s.log.Error("review failed", "error", err)
		return &Outcome{Issues: []extract.Issue{}, Summary: "审核失败", Error: err.Error(), Chunks: 1}
	}
	out := newOutcome(res.Issues, res.Summary)
	out.Chunks = 1
	return out
}

func (s *Service) reviewChunks(ctx context.Context, chunks []doctree.Chunk, progress ProgressFunc) *Outcome {
	total := len(chunks)
	var issues []extract.Issue
	var errs *multierror.Error
	var chunkErrors []string

	for i, c := range chunks {
		res, err := s.extractor.ReviewSection(ctx, c.Text, c.SectionNumber, total)
		progress(i+1, total)
		if err != nil {
			s.log.Error("chunk review failed", "chunk", c.SectionNumber, "total", total, "error", err)
			err = fmt.Errorf("chunk %d: %w", c.SectionNumber, err)
			errs = multierror.Append(errs, err)
			chunkErrors = append(chunkErrors, err.Error())
			continue
		}
		issues = append(issues, res.Issues...)
	}

	if errs != nil && len(errs.Errors) == total {
		return &Outcome{
			Issues:      []extract.Issue{},
			Summary:     "审核失败",
			Error:       errs.Error(),
			ChunkErrors: chunkErrors,
			Chunks:      total,
		}
	}

	out := newOutcome(issues, "")
	out.Summary = MergedSummary(out.Total, out.High, out.Medium, out.Low)
	out.ChunkErrors = chunkErrors
	out.Chunks = total
	return out
}

func newOutcome(issues []extract.Issue, summary string) *Outcome {
	if issues == nil {
		issues = []extract.Issue{}
	}
	high, medium, low := extract.CountSeverities(issues)
	return &Outcome{
		Success: true,
		Issues:  issues,
		Summary: summary,
		Total:   len(issues),
		High:    high,
		Medium:  medium,
		Low:     low,
	}
}

// MergedSummary is the summary written for a chunked review.
func MergedSummary(total, high, medium, low int) string {
	return fmt.Sprintf("共发现 %d 个风险点，其中高风险 %d 个，中风险 %d 个，低风险 %d 个", total, high, medium, low)
}

// LocateIssues finds the paragraph each issue refers to in the document
// at path. Output order matches issues.
func (s *Service) LocateIssues(path string, issues []extract.Issue) ([]locate.LocatedIssue, error) {
	doc, err := s.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return s.matcher.LocateAll(doc, issues), nil
}
