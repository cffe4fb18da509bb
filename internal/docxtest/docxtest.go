// Package docxtest builds small .docx fixtures in memory for tests.
package docxtest

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/fumiama/go-docx"
)

// Para describes one body paragraph. Runs, when set, become separate
// w:r elements; otherwise Text becomes a single run. A zero Para is an
// empty paragraph.
type Para struct {
	Text  string
	Style string
	Runs  []string
}

// Doc describes a fixture document.
type Doc struct {
	Paragraphs []Para
	Tables     [][][]string
}

// Texts is shorthand for unstyled single-run paragraphs.
func Texts(texts ...string) []Para {
	paras := make([]Para, len(texts))
	for i, t := range texts {
		paras[i] = Para{Text: t}
	}
	return paras
}

// Build renders d as .docx bytes.
func Build(tb testing.TB, d Doc) []byte {
	tb.Helper()

	f := docx.New().WithDefaultTheme()
	for _, p := range d.Paragraphs {
		para := f.AddParagraph()
		if p.Style != "" {
			para.Style(p.Style)
		}
		if len(p.Runs) > 0 {
			for _, r := range p.Runs {
				para.AddText(r)
			}
		} else if p.Text != "" {
			para.AddText(p.Text)
		}
	}
	for _, rows := range d.Tables {
		if len(rows) == 0 {
			continue
		}
		tbl := f.AddTable(len(rows), len(rows[0]), 0, nil)
		for i, row := range rows {
			for j, cell := range row {
				tbl.TableRows[i].TableCells[j].AddParagraph().AddText(cell)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		tb.Fatalf("build docx: %v", err)
	}
	return buf.Bytes()
}

// BuildTexts renders unstyled paragraphs.
func BuildTexts(tb testing.TB, texts ...string) []byte {
	tb.Helper()
	return Build(tb, Doc{Paragraphs: Texts(texts...)})
}

// Zip writes the given name/content pairs into a bare ZIP archive, for
// containers that go-docx would refuse to produce.
func Zip(tb testing.TB, files map[string]string) []byte {
	tb.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			tb.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			tb.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// Part extracts one part from a container.
func Part(tb testing.TB, data []byte, name string) string {
	tb.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		tb.Fatalf("open zip: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			tb.Fatalf("open %s: %v", name, err)
		}
		defer rc.Close()
		var b bytes.Buffer
		if _, err := b.ReadFrom(rc); err != nil {
			tb.Fatalf("read %s: %v", name, err)
		}
		return b.String()
	}
	return ""
}
