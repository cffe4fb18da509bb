package chunker

import (
	"strings"

	"github.com/dgallion1/docreview/internal/doctree"
)

// Split partitions the document's paragraphs into ordered chunks of at
// most budget estimated tokens. Every section start opens a new chunk;
// inside a section, and everywhere when no sections were detected,
// paragraphs are packed greedily. A paragraph is never split, so a single
// oversized paragraph becomes its own chunk.
func (e Estimator) Split(doc *doctree.ParsedDocument, budget int) []doctree.Chunk {
	var (
		chunks  []doctree.Chunk
		pending []doctree.Paragraph
		tokens  int
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		chunks = append(chunks, newChunk(len(chunks)+1, pending))
		pending = nil
		tokens = 0
	}

	starts := make(map[int]bool, len(doc.Structure.Sections))
	for _, s := range doc.Structure.Sections {
		starts[s.StartIndex] = true
	}

	for _, p := range doc.Paragraphs {
		n := e.Estimate(p.Text)
		if starts[p.Index] {
			flush()
		} else if tokens+n > budget && len(pending) > 0 {
			flush()
		}
		pending = append(pending, p)
		tokens += n
	}
	flush()

	return chunks
}

// Split uses DefaultEstimator.
func Split(doc *doctree.ParsedDocument, budget int) []doctree.Chunk {
	return DefaultEstimator.Split(doc, budget)
}

func newChunk(number int, paras []doctree.Paragraph) doctree.Chunk {
	texts := make([]string, len(paras))
	for i, p := range paras {
		texts[i] = p.Text
	}
	return doctree.Chunk{
		SectionNumber: number,
		Paragraphs:    paras,
		Text:          strings.Join(texts, "\n"),
	}
}
