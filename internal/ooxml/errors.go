package ooxml

import "fmt"

// UnreadableDocumentError means the input is not a usable OOXML container:
// not a ZIP archive, missing [Content_Types].xml, or an undecodable part.
type UnreadableDocumentError struct {
	Err error
}

func (e *UnreadableDocumentError) Error() string {
	return fmt.Sprintf("unreadable document: %v", e.Err)
}

func (e *UnreadableDocumentError) Unwrap() error {
	return e.Err
}

// MalformedStructureError means the container is valid but the main
// document content cannot be located inside it.
type MalformedStructureError struct {
	Part   string
	Reason string
}

func (e *MalformedStructureError) Error() string {
	if e.Part == "" {
		return "malformed document: " + e.Reason
	}
	return fmt.Sprintf("malformed document: %s: %s", e.Part, e.Reason)
}
