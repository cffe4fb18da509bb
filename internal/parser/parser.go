package parser

import (
	"path/filepath"
	"strings"

	"github.com/dgallion1/docreview/internal/doctree"
)

// Parser converts raw document bytes into a ParsedDocument.
type Parser interface {
	Parse(data []byte) (*doctree.ParsedDocument, error)
	ParseFile(path string) (*doctree.ParsedDocument, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = []string{".docx"}

// New returns the parser for Word documents.
func New() Parser {
	return &DOCXParser{}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
