package chunker

import "github.com/dgallion1/docreview/internal/doctree"

// Estimator gives a rough token count from character classes. It sizes
// chunks only and is not billing-accurate.
type Estimator struct {
	CJKCharsPerToken   float64
	OtherCharsPerToken float64
}

// DefaultEstimator counts ~1.5 CJK characters or ~4 other characters per token.
var DefaultEstimator = Estimator{CJKCharsPerToken: 1.5, OtherCharsPerToken: 4}

// NewEstimator returns an Estimator, substituting defaults for
// non-positive ratios.
func NewEstimator(cjk, other float64) Estimator {
	e := DefaultEstimator
	if cjk > 0 {
		e.CJKCharsPerToken = cjk
	}
	if other > 0 {
		e.OtherCharsPerToken = other
	}
	return e
}

// Estimate returns floor(cjk/CJKCharsPerToken + other/OtherCharsPerToken),
// where cjk counts runes in U+4E00..U+9FFF.
func (e Estimator) Estimate(text string) int {
	var cjk, other int
	for _, r := range text {
		if r >= '\u4e00' && r <= '\u9fff' {
			cjk++
		} else {
			other++
		}
	}
	return int(float64(cjk)/e.CJKCharsPerToken + float64(other)/e.OtherCharsPerToken)
}

// ShouldSplit reports whether the document's full text exceeds budget.
func (e Estimator) ShouldSplit(doc *doctree.ParsedDocument, budget int) bool {
	return e.Estimate(doc.FullText) > budget
}

// EstimateTokens uses DefaultEstimator.
func EstimateTokens(text string) int {
	return DefaultEstimator.Estimate(text)
}

// ShouldSplit uses DefaultEstimator.
func ShouldSplit(doc *doctree.ParsedDocument, budget int) bool {
	return DefaultEstimator.ShouldSplit(doc, budget)
}
