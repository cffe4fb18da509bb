package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/dgallion1/docreview/internal/doctree"
	"github.com/dgallion1/docreview/internal/ooxml"
	"github.com/fumiama/go-docx"
)

// DefaultStyle is reported for paragraphs without an explicit pStyle.
const DefaultStyle = "Normal"

// DOCXParser handles .docx files.
type DOCXParser struct{}

// ParseFile reads and parses a .docx from disk.
func (p *DOCXParser) ParseFile(path string) (*doctree.ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p.Parse(data)
}

// Parse decomposes a .docx into body paragraphs, tables and a detected
// section structure. Paragraph indices follow the order of w:p elements
// directly under w:body.
func (p *DOCXParser) Parse(data []byte) (*doctree.ParsedDocument, error) {
	pkg, err := ooxml.Read(data)
	if err != nil {
		return nil, err
	}
	mainPart, err := pkg.MainDocumentPath()
	if err != nil {
		return nil, err
	}
	styles, err := pkg.StyleNames(mainPart)
	if err != nil {
		return nil, err
	}

	src := data
	if mainPart != ooxml.DefaultMainPart {
		// go-docx only looks at word/document.xml.
		main, _ := pkg.Part(mainPart)
		if src, err = singlePartZip(ooxml.DefaultMainPart, main); err != nil {
			return nil, err
		}
	}

	doc, err := docx.Parse(bytes.NewReader(src), int64(len(src)))
	if err != nil {
		return nil, &ooxml.UnreadableDocumentError{Err: fmt.Errorf("decode body: %w", err)}
	}

	texts, err := bodyTexts(pkg, mainPart)
	if err != nil {
		return nil, err
	}

	parsed := &doctree.ParsedDocument{
		Paragraphs: []doctree.Paragraph{},
		Tables:     []doctree.Table{},
	}
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			i := len(parsed.Paragraphs)
			text := docxParagraphText(it)
			if len(texts) > i {
				text = texts[i]
			}
			parsed.Paragraphs = append(parsed.Paragraphs, doctree.Paragraph{
				Text:  text,
				Style: docxStyleName(it, styles),
				Index: i,
			})
		case *docx.Table:
			parsed.Tables = append(parsed.Tables, docxTable(it))
		}
	}

	parsed.FullText = FullText(parsed.Paragraphs)
	parsed.Structure = DetectStructure(parsed.Paragraphs)
	return parsed, nil
}

// FullText joins the non-blank paragraph texts with newlines.
func FullText(paras []doctree.Paragraph) string {
	var sb strings.Builder
	for _, para := range paras {
		if strings.TrimSpace(para.Text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(para.Text)
	}
	return sb.String()
}

// bodyTexts reads the text of each w:p directly under w:body the same
// way the annotator does, so runs nested in w:ins, w:smartTag or
// w:fldSimple count as paragraph text.
func bodyTexts(pkg *ooxml.Package, mainPart string) ([]string, error) {
	doc, err := pkg.ReadXML(mainPart)
	if err != nil {
		return nil, err
	}
	body, err := ooxml.Body(doc)
	if err != nil {
		return nil, err
	}
	paras := ooxml.WChildren(body, "p")
	texts := make([]string, len(paras))
	for i, p := range paras {
		texts[i] = ooxml.PlainText(p)
	}
	return texts, nil
}

func docxStyleName(para *docx.Paragraph, styles map[string]string) string {
	if para.Properties == nil || para.Properties.Style == nil || para.Properties.Style.Val == "" {
		return DefaultStyle
	}
	id := para.Properties.Style.Val
	if name, ok := styles[id]; ok && name != "" {
		return name
	}
	return id
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRunText(&buf, c)
		case *docx.Hyperlink:
			writeRunText(&buf, &c.Run)
		}
	}
	return buf.String()
}

func writeRunText(buf *strings.Builder, run *docx.Run) {
	for _, rc := range run.Children {
		switch t := rc.(type) {
		case *docx.Text:
			buf.WriteString(t.Text)
		case *docx.Tab:
			buf.WriteByte('\t')
		case *docx.BarterRabbet:
			if t.Type == "" || t.Type == "textWrapping" {
				buf.WriteByte('\n')
			}
		}
	}
}

// docxTable flattens a table to cell text; multi-paragraph cells are
// joined with newlines. Nested tables are ignored.
func docxTable(tbl *docx.Table) doctree.Table {
	rows := make(doctree.Table, 0, len(tbl.TableRows))
	for _, tr := range tbl.TableRows {
		cells := make([]string, 0, len(tr.TableCells))
		for _, tc := range tr.TableCells {
			texts := make([]string, 0, len(tc.Paragraphs))
			for _, para := range tc.Paragraphs {
				texts = append(texts, docxParagraphText(para))
			}
			cells = append(cells, strings.Join(texts, "\n"))
		}
		rows = append(rows, cells)
	}
	return rows
}

func singlePartZip(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		return nil, fmt.Errorf("repack main part: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("repack main part: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("repack main part: %w", err)
	}
	return buf.Bytes(), nil
}
