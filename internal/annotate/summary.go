package annotate

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/ooxml"
)

const (
	summaryTitle      = "=== AI审查报告 ==="
	summaryMaxIssues  = 10
	summaryProblemLen = 50
)

// AddReviewSummary inserts a paragraph listing up to ten issues before
// the first body paragraph. Paragraph indices shift by one afterwards, so
// call it only once every annotation has been added.
func (s *Session) AddReviewSummary(issues []extract.Issue) bool {
	if len(s.paragraphs) == 0 {
		return false
	}
	first := s.paragraphs[0]
	parent := first.Parent()
	if parent == nil {
		return false
	}
	ensureWPrefix(s.doc.Root())

	p := etree.NewElement("w:p")
	r := p.CreateElement("w:r")
	rPr := r.CreateElement("w:rPr")
	rPr.CreateElement("w:b")
	r.AddChild(textElement(summaryTitle))

	for i, is := range issues {
		if i == summaryMaxIssues {
			break
		}
		line := p.CreateElement("w:r")
		line.CreateElement("w:br")
		line.AddChild(textElement(fmt.Sprintf("%d. [%s] %s: %s", i+1, is.Severity, is.Category, clip(is.Problem, summaryProblemLen))))
	}

	parent.InsertChildAt(first.Index(), p)
	s.paragraphs = append([]*etree.Element{p}, s.paragraphs...)
	s.dirty = true
	return true
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ParagraphText returns the visible text of the paragraph at index.
func (s *Session) ParagraphText(index int) (string, bool) {
	if index < 0 || index >= len(s.paragraphs) {
		return "", false
	}
	return ooxml.PlainText(s.paragraphs[index]), true
}
