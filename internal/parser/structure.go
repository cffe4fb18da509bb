package parser

import (
	"regexp"
	"strings"

	"github.com/dgallion1/docreview/internal/doctree"
)

var headingStyleMarkers = []string{"Heading", "标题", "Title"}

var numberedTitlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^第[一二三四五六七八九十百零〇\d０-９]+条`),
	regexp.MustCompile(`^[\d０-９]+[.．]`),
	regexp.MustCompile(`^[一二三四五六七八九十]+、`),
}

// IsHeadingStyle reports whether a style name marks a heading.
func IsHeadingStyle(style string) bool {
	for _, m := range headingStyleMarkers {
		if strings.Contains(style, m) {
			return true
		}
	}
	return false
}

// IsNumberedTitle reports whether text opens with an article or list
// number such as 第三条, 12. or 四、.
func IsNumberedTitle(text string) bool {
	text = strings.TrimSpace(text)
	for _, re := range numberedTitlePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// DetectStructure opens a section at every heading paragraph and extends
// the open section over the paragraphs that follow it. Paragraphs before
// the first heading belong to no section.
func DetectStructure(paras []doctree.Paragraph) doctree.Structure {
	st := doctree.Structure{Sections: []doctree.Section{}}
	for _, p := range paras {
		if IsHeadingStyle(p.Style) || IsNumberedTitle(p.Text) {
			st.Sections = append(st.Sections, doctree.Section{
				Number:     len(st.Sections) + 1,
				Title:      strings.TrimSpace(p.Text),
				StartIndex: p.Index,
				EndIndex:   p.Index,
			})
			continue
		}
		if n := len(st.Sections); n > 0 {
			st.Sections[n-1].EndIndex = p.Index
		}
	}
	return st
}
