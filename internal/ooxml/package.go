// Package ooxml reads and rewrites the ZIP container behind .docx files.
// Parts are held in memory in their original order so a rewrite changes
// only what callers explicitly replace.
package ooxml

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/beevik/etree"
)

const (
	NSWordprocessing = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	NSRelationships  = "http://schemas.openxmlformats.org/package/2006/relationships"
	NSContentTypes   = "http://schemas.openxmlformats.org/package/2006/content-types"

	RelTypeOfficeDocument = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	RelTypeStyles         = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles"
	RelTypeComments       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/comments"

	ContentTypeComments = "application/vnd.openxmlformats-officedocument.wordprocessingml.comments+xml"

	ContentTypesPart = "[Content_Types].xml"
	PackageRelsPart  = "_rels/.rels"
	DefaultMainPart  = "word/document.xml"
)

type part struct {
	name     string
	method   uint16
	modified time.Time
	data     []byte
}

// Package is an in-memory OOXML container.
type Package struct {
	parts []*part
	index map[string]int
}

// Read loads every part of a container into memory.
func Read(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &UnreadableDocumentError{Err: err}
	}

	p := &Package{index: make(map[string]int, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &UnreadableDocumentError{Err: fmt.Errorf("open %s: %w", f.Name, err)}
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &UnreadableDocumentError{Err: fmt.Errorf("read %s: %w", f.Name, err)}
		}
		p.index[f.Name] = len(p.parts)
		p.parts = append(p.parts, &part{
			name:     f.Name,
			method:   f.Method,
			modified: f.Modified,
			data:     b,
		})
	}

	if !p.Has(ContentTypesPart) {
		return nil, &UnreadableDocumentError{Err: fmt.Errorf("missing %s", ContentTypesPart)}
	}
	return p, nil
}

// ReadFile loads a container from disk.
func ReadFile(filename string) (*Package, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	return Read(data)
}

// Has reports whether the named part exists.
func (p *Package) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Part returns the raw bytes of a part.
func (p *Package) Part(name string) ([]byte, bool) {
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return p.parts[i].data, true
}

// SetPart replaces a part's bytes, appending it if new.
func (p *Package) SetPart(name string, data []byte) {
	if i, ok := p.index[name]; ok {
		p.parts[i].data = data
		return
	}
	p.index[name] = len(p.parts)
	p.parts = append(p.parts, &part{
		name:     name,
		method:   zip.Deflate,
		modified: time.Now(),
		data:     data,
	})
}

// Names lists part names in container order.
func (p *Package) Names() []string {
	names := make([]string, len(p.parts))
	for i, pt := range p.parts {
		names[i] = pt.name
	}
	return names
}

// ReadXML parses a part with etree.
func (p *Package) ReadXML(name string) (*etree.Document, error) {
	data, ok := p.Part(name)
	if !ok {
		return nil, &MalformedStructureError{Part: name, Reason: "part not found"}
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &UnreadableDocumentError{Err: fmt.Errorf("parse %s: %w", name, err)}
	}
	return doc, nil
}

// SetXML serializes doc into the named part.
func (p *Package) SetXML(name string, doc *etree.Document) error {
	b, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", name, err)
	}
	p.SetPart(name, b)
	return nil
}

// MainDocumentPath resolves the officeDocument relationship from the
// package rels, falling back to word/document.xml.
func (p *Package) MainDocumentPath() (string, error) {
	target := DefaultMainPart
	if p.Has(PackageRelsPart) {
		if t, ok, err := p.FindRelationship("", RelTypeOfficeDocument); err != nil {
			return "", err
		} else if ok {
			target = t
		}
	}
	if !p.Has(target) {
		return "", &MalformedStructureError{Part: target, Reason: "main document part missing"}
	}
	return target, nil
}

// WriteTo serializes the container. [Content_Types].xml is always written
// first; other parts keep their original order.
func (p *Package) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)

	ordered := make([]*part, 0, len(p.parts))
	if i, ok := p.index[ContentTypesPart]; ok {
		ordered = append(ordered, p.parts[i])
	}
	for _, pt := range p.parts {
		if pt.name != ContentTypesPart {
			ordered = append(ordered, pt)
		}
	}

	for _, pt := range ordered {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     pt.name,
			Method:   pt.method,
			Modified: pt.modified,
		})
		if err != nil {
			return cw.n, fmt.Errorf("create %s: %w", pt.name, err)
		}
		if _, err := fw.Write(pt.data); err != nil {
			return cw.n, fmt.Errorf("write %s: %w", pt.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("close zip: %w", err)
	}
	return cw.n, nil
}

// Bytes serializes the container into memory.
func (p *Package) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

// resolveTarget turns a relationship target into a part name relative to
// the package root.
func resolveTarget(source, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Join(path.Dir(source), target)
}
