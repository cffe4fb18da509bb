package ooxml

import (
	"strings"

	"github.com/beevik/etree"
)

// IsW reports whether e is the WordprocessingML element with local name tag.
// Elements outside a parsed tree fall back to the conventional "w" prefix.
func IsW(e *etree.Element, tag string) bool {
	if e == nil || e.Tag != tag {
		return false
	}
	if ns := e.NamespaceURI(); ns != "" {
		return ns == NSWordprocessing
	}
	return e.Space == "w"
}

// WAttr returns the value of a w:-namespaced attribute by local name.
func WAttr(e *etree.Element, key string) string {
	for _, a := range e.Attr {
		if a.Key == key && a.Space != "xmlns" {
			return a.Value
		}
	}
	return ""
}

// WChildren returns the direct children of e with local name tag.
func WChildren(e *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range e.ChildElements() {
		if IsW(c, tag) {
			out = append(out, c)
		}
	}
	return out
}

// WChild returns the first direct child of e with local name tag.
func WChild(e *etree.Element, tag string) *etree.Element {
	for _, c := range e.ChildElements() {
		if IsW(c, tag) {
			return c
		}
	}
	return nil
}

// Body returns w:body of a parsed main document part.
func Body(doc *etree.Document) (*etree.Element, error) {
	root := doc.Root()
	if root == nil || !IsW(root, "document") {
		return nil, &MalformedStructureError{Reason: "no w:document root"}
	}
	body := WChild(root, "body")
	if body == nil {
		return nil, &MalformedStructureError{Reason: "no w:body element"}
	}
	return body, nil
}

// PlainText returns the visible text of a paragraph or run subtree:
// w:t content, with w:tab as "\t" and w:br/w:cr as "\n".
func PlainText(e *etree.Element) string {
	var sb strings.Builder
	var walk func(*etree.Element)
	walk = func(el *etree.Element) {
		for _, c := range el.ChildElements() {
			switch {
			case IsW(c, "t"):
				sb.WriteString(c.Text())
			case IsW(c, "tab"):
				sb.WriteString("\t")
			case IsW(c, "br"), IsW(c, "cr"):
				sb.WriteString("\n")
			case IsW(c, "pPr"), IsW(c, "rPr"), IsW(c, "delText"):
			default:
				walk(c)
			}
		}
	}
	walk(e)
	return sb.String()
}

// StyleNames maps paragraph style ids to their display names, read from
// the styles part related to mainPart. A document without styles yields
// an empty map.
func (p *Package) StyleNames(mainPart string) (map[string]string, error) {
	names := make(map[string]string)

	stylesPart, ok, err := p.FindRelationship(mainPart, RelTypeStyles)
	if err != nil {
		return names, err
	}
	if !ok {
		stylesPart = resolveTarget(mainPart, "styles.xml")
	}
	if !p.Has(stylesPart) {
		return names, nil
	}

	doc, err := p.ReadXML(stylesPart)
	if err != nil {
		return names, err
	}
	root := doc.Root()
	if root == nil {
		return names, nil
	}
	for _, st := range WChildren(root, "style") {
		id := WAttr(st, "styleId")
		if id == "" {
			continue
		}
		if n := WChild(st, "name"); n != nil {
			names[id] = WAttr(n, "val")
		}
	}
	return names, nil
}
