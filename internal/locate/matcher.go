package locate

import (
	"regexp"
	"strings"

	"github.com/dgallion1/docreview/internal/doctree"
	"github.com/dgallion1/docreview/internal/extract"
)

// DefaultThreshold is the minimum similarity accepted by fuzzy matching.
const DefaultThreshold = 0.70

// LocationParagraph is the only location type produced.
const LocationParagraph = "paragraph"

// Location is a resolved paragraph for an issue.
type Location struct {
	Type       string  `json:"type"`
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// LocatedIssue pairs an issue with its location, if any.
type LocatedIssue struct {
	Issue    extract.Issue `json:"issue"`
	Location *Location     `json:"location"`
	Located  bool          `json:"located"`
}

var articleHintRe = regexp.MustCompile(`第([一二三四五六七八九十百\d０-９]+)条`)

// Matcher resolves quoted text back to paragraph indices.
type Matcher struct {
	threshold float64
}

// NewMatcher returns a Matcher accepting fuzzy matches at or above
// threshold. Values outside (0, 1] fall back to DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the fuzzy acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Locate finds the paragraph that issue.OriginalText came from. An exact
// substring match inside the hinted section wins, then one anywhere in
// the document, then the most similar paragraph inside the hinted
// section if it clears the threshold. It returns nil when nothing does.
func (m *Matcher) Locate(doc *doctree.ParsedDocument, issue extract.Issue) *Location {
	text := strings.TrimSpace(issue.OriginalText)
	if text == "" || doc == nil {
		return nil
	}
	scope := SearchRange(doc, issue.LocationHint)

	if loc := exactMatch(scope, text); loc != nil {
		return loc
	}
	if loc := exactMatch(doc.Paragraphs, text); loc != nil {
		return loc
	}
	return m.fuzzyMatch(scope, text)
}

// LocateAll locates every issue, preserving order.
func (m *Matcher) LocateAll(doc *doctree.ParsedDocument, issues []extract.Issue) []LocatedIssue {
	out := make([]LocatedIssue, len(issues))
	for i, is := range issues {
		loc := m.Locate(doc, is)
		out[i] = LocatedIssue{Issue: is, Location: loc, Located: loc != nil}
	}
	return out
}

// SearchRange narrows the paragraphs to the section named by a "第N条"
// hint. Without a usable hint, or when no section has that number, the
// whole document is returned.
func SearchRange(doc *doctree.ParsedDocument, hint string) []doctree.Paragraph {
	if hint == "" {
		return doc.Paragraphs
	}
	m := articleHintRe.FindStringSubmatch(hint)
	if m == nil {
		return doc.Paragraphs
	}
	start, end, ok := doc.Structure.Range(ChineseNumeral(m[1]), len(doc.Paragraphs))
	if !ok || start >= end {
		return doc.Paragraphs
	}
	return doc.Paragraphs[start:end]
}

func exactMatch(paras []doctree.Paragraph, text string) *Location {
	for _, p := range paras {
		if strings.Contains(p.Text, text) {
			return newLocation(p, 1.0)
		}
	}
	return nil
}

func (m *Matcher) fuzzyMatch(paras []doctree.Paragraph, text string) *Location {
	best := -1
	bestScore := 0.0
	for i, p := range paras {
		if s := Similarity(text, p.Text); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 || bestScore < m.threshold {
		return nil
	}
	return newLocation(paras[best], bestScore)
}

func newLocation(p doctree.Paragraph, confidence float64) *Location {
	return &Location{
		Type:       LocationParagraph,
		Index:      p.Index,
		Text:       p.Text,
		Confidence: confidence,
	}
}
