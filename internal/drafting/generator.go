// Package drafting writes contracts from a plain-language requirement and
// renders them as Word documents.
package drafting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/docreview/internal/extract"
)

// Completer sends one prompt under a system message. *extract.Extractor
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Analysis is what the model read out of a requirement.
type Analysis struct {
	ContractType string
	Title        string
	Elements     string // key_elements as raw JSON
}

// Generated is a freshly written contract.
type Generated struct {
	Analysis
	Content string
	Model   string
}

// ErrEmptyAnswer is returned when the model answers with no text.
var ErrEmptyAnswer = errors.New("model returned no content")

// Options tunes a Generator.
type Options struct {
	Model      string // Recorded on generated drafts
	MaxRetries int    // Format retries of the JSON analysis call
	Logger     *slog.Logger
}

// Generator drives the analyze, generate and refine calls.
type Generator struct {
	llm        Completer
	model      string
	maxRetries int
	log        *slog.Logger
}

func NewGenerator(llm Completer, opts Options) *Generator {
	g := &Generator{llm: llm, model: opts.Model, maxRetries: opts.MaxRetries, log: opts.Logger}
	if g.maxRetries < 0 {
		g.maxRetries = 0
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g
}

// Analyze extracts the contract type, a suggested title and the key
// elements. Unparseable answers are retried with the JSON reminder.
func (g *Generator) Analyze(ctx context.Context, requirement string) (*Analysis, error) {
	prompt := BuildAnalysisPrompt(requirement)
	current := prompt
	for attempt := 0; ; attempt++ {
		raw, err := g.llm.Complete(ctx, AnalysisSystem, current)
		if err != nil {
			return nil, fmt.Errorf("analyze requirement: %w", err)
		}
		doc, err := extract.ParseObject(raw)
		if err == nil {
			a := &Analysis{
				ContractType: doc.Get("contract_type").String(),
				Title:        doc.Get("contract_title").String(),
				Elements:     "{}",
			}
			if a.ContractType == "" {
				a.ContractType = "自定义"
			}
			if el := doc.Get("key_elements"); el.IsObject() {
				a.Elements = el.Raw
			}
			return a, nil
		}
		var fe *extract.FormatError
		if !errors.As(err, &fe) || attempt >= g.maxRetries {
			return nil, fmt.Errorf("analyze requirement: %w", err)
		}
		g.log.Warn("analysis response not valid json, retrying",
			"attempt", attempt+1, "max_retries", g.maxRetries, "reason", fe.Reason)
		current = extract.BuildRetryPrompt(prompt)
	}
}

// Generate analyzes the requirement and writes the contract text.
func (g *Generator) Generate(ctx context.Context, requirement string) (*Generated, error) {
	a, err := g.Analyze(ctx, requirement)
	if err != nil {
		return nil, err
	}
	raw, err := g.llm.Complete(ctx, GenerationSystem,
		BuildGenerationPrompt(requirement, a.ContractType, a.Elements))
	if err != nil {
		return nil, fmt.Errorf("generate contract: %w", err)
	}
	content := cleanText(raw)
	if content == "" {
		return nil, fmt.Errorf("generate contract: %w", ErrEmptyAnswer)
	}
	return &Generated{Analysis: *a, Content: content, Model: g.model}, nil
}

// Refine rewrites content according to feedback and returns the whole
// revised contract.
func (g *Generator) Refine(ctx context.Context, content, feedback string) (string, error) {
	raw, err := g.llm.Complete(ctx, RefinementSystem, BuildRefinementPrompt(content, feedback))
	if err != nil {
		return "", fmt.Errorf("refine contract: %w", err)
	}
	out := cleanText(raw)
	if out == "" {
		return "", fmt.Errorf("refine contract: %w", ErrEmptyAnswer)
	}
	return out, nil
}

// cleanText drops a fence the model may wrap plain text in.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = ""
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
