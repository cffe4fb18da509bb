package drafting

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/docreview/internal/parser"
)

// Font sizes in half-points.
const (
	titleSize  = "36"
	clauseSize = "28"
	bodySize   = "24"
)

const (
	headingFont = "黑体"
	bodyFont    = "宋体"
)

var partyPrefixes = []string{"甲方", "乙方", "出租方", "承租方", "委托方", "受托方"}

var unsafeTitleChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// SafeTitle makes title usable as a file name.
func SafeTitle(title string) string {
	title = strings.TrimSpace(unsafeTitleChars.ReplaceAllString(title, "_"))
	if title == "" {
		return "合同"
	}
	return title
}

// BuildDocument renders contract text as .docx. Each line becomes one
// paragraph: numbered clause titles are bold, party lines stay flush
// left, other lines get a two-character first-line indent. A signature
// block for both parties closes the document.
func BuildDocument(title, content string) ([]byte, error) {
	f := docx.New().WithDefaultTheme().WithA4Page()

	if title = strings.TrimSpace(title); title != "" {
		f.AddParagraph().Justification("center").
			AddText(title).Bold().Size(titleSize).Font(headingFont, headingFont, headingFont, "eastAsia")
		f.AddParagraph()
	}

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		p := f.AddParagraph()
		switch {
		case line == "":
		case parser.IsNumberedTitle(line):
			p.AddText(line).Bold().Size(clauseSize).Font(headingFont, headingFont, headingFont, "eastAsia")
		case isPartyLine(line):
			bodyRun(p, line)
		default:
			p.Properties = &docx.ParagraphProperties{Ind: &docx.Ind{FirstLineChars: 200}}
			bodyRun(p, line)
		}
	}

	addSignatures(f)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("build document: %w", err)
	}
	return buf.Bytes(), nil
}

func addSignatures(f *docx.Docx) {
	f.AddParagraph()
	f.AddParagraph()
	bodyRun(f.AddParagraph().Justification("center"), "（以下无正文）")
	f.AddParagraph()
	f.AddParagraph()
	for i, party := range []string{"甲方", "乙方"} {
		if i > 0 {
			f.AddParagraph()
		}
		bodyRun(f.AddParagraph(), party+"（盖章）：")
		f.AddParagraph()
		bodyRun(f.AddParagraph(), "日期：    年    月    日")
	}
}

func bodyRun(p *docx.Paragraph, text string) {
	p.AddText(text).Size(bodySize).Font(bodyFont, bodyFont, bodyFont, "eastAsia")
}

func isPartyLine(line string) bool {
	for _, prefix := range partyPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
