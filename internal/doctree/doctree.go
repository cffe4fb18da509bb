package doctree

// ParsedDocument is the flat view of a Word document used for review.
type ParsedDocument struct {
	Paragraphs []Paragraph // Direct body paragraphs, in document order
	Tables     []Table
	FullText   string // Non-blank paragraph texts joined by "\n"
	Structure  Structure
}

// Paragraph is a single body paragraph. Index is its zero-based position
// among the body's paragraphs and is never reassigned after parse.
type Paragraph struct {
	Text  string `json:"text"`
	Style string `json:"style"`
	Index int    `json:"index"`
}

// Table holds cell text by row.
type Table [][]string

// Structure is the heading outline detected over the paragraphs.
type Structure struct {
	Sections []Section `json:"sections"`
}

// Section is a heading-delimited region. Number is assigned in detection
// order starting at 1, not parsed from the heading text.
type Section struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// Chunk is a contiguous run of paragraphs sized for one LLM request.
type Chunk struct {
	SectionNumber int         // 1-based chunk counter
	Paragraphs    []Paragraph // Never split mid-paragraph
	Text          string
}

// Len returns the paragraph count.
func (d *ParsedDocument) Len() int {
	return len(d.Paragraphs)
}

// SectionByNumber returns the section with the given number, or nil.
func (s Structure) SectionByNumber(n int) *Section {
	for i := range s.Sections {
		if s.Sections[i].Number == n {
			return &s.Sections[i]
		}
	}
	return nil
}

// Range returns the half-open paragraph range [start, end) covered by the
// section numbered n, where end is the next section's start or total.
func (s Structure) Range(n, total int) (start, end int, ok bool) {
	for i := range s.Sections {
		if s.Sections[i].Number != n {
			continue
		}
		start = s.Sections[i].StartIndex
		end = total
		if i+1 < len(s.Sections) {
			end = s.Sections[i+1].StartIndex
		}
		if end > total {
			end = total
		}
		return start, end, true
	}
	return 0, 0, false
}
