package ooxml

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// RelsPath returns the relationships part for source. An empty source
// means the package itself.
func RelsPath(source string) string {
	if source == "" {
		return PackageRelsPart
	}
	return path.Join(path.Dir(source), "_rels", path.Base(source)+".rels")
}

func (p *Package) relationships(source string) (*etree.Document, error) {
	name := RelsPath(source)
	if !p.Has(name) {
		doc := etree.NewDocument()
		doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
		root := doc.CreateElement("Relationships")
		root.CreateAttr("xmlns", NSRelationships)
		return doc, nil
	}
	doc, err := p.ReadXML(name)
	if err != nil {
		return nil, err
	}
	if doc.Root() == nil || doc.Root().Tag != "Relationships" {
		return nil, &MalformedStructureError{Part: name, Reason: "no Relationships root"}
	}
	return doc, nil
}

// FindRelationship returns the resolved part name of the first
// relationship of relType from source.
func (p *Package) FindRelationship(source, relType string) (string, bool, error) {
	doc, err := p.relationships(source)
	if err != nil {
		return "", false, err
	}
	for _, rel := range doc.Root().SelectElements("Relationship") {
		if rel.SelectAttrValue("Type", "") != relType {
			continue
		}
		if rel.SelectAttrValue("TargetMode", "") == "External" {
			continue
		}
		return resolveTarget(source, rel.SelectAttrValue("Target", "")), true, nil
	}
	return "", false, nil
}

// AddRelationship registers target from source with the next free rIdN
// and returns that id. target is written as given (relative to source).
func (p *Package) AddRelationship(source, relType, target string) (string, error) {
	doc, err := p.relationships(source)
	if err != nil {
		return "", err
	}
	root := doc.Root()

	maxID := 0
	for _, rel := range root.SelectElements("Relationship") {
		id := rel.SelectAttrValue("Id", "")
		if n, err := strconv.Atoi(strings.TrimPrefix(id, "rId")); err == nil && n > maxID {
			maxID = n
		}
	}
	id := fmt.Sprintf("rId%d", maxID+1)

	rel := root.CreateElement("Relationship")
	rel.CreateAttr("Id", id)
	rel.CreateAttr("Type", relType)
	rel.CreateAttr("Target", target)

	if err := p.SetXML(RelsPath(source), doc); err != nil {
		return "", err
	}
	return id, nil
}

// EnsureOverride adds a content-type Override for partName if none exists.
func (p *Package) EnsureOverride(partName, contentType string) error {
	doc, err := p.ReadXML(ContentTypesPart)
	if err != nil {
		return err
	}
	root := doc.Root()
	if root == nil || root.Tag != "Types" {
		return &MalformedStructureError{Part: ContentTypesPart, Reason: "no Types root"}
	}
	want := "/" + strings.TrimPrefix(partName, "/")
	for _, o := range root.SelectElements("Override") {
		if strings.EqualFold(o.SelectAttrValue("PartName", ""), want) {
			return nil
		}
	}
	o := root.CreateElement("Override")
	o.CreateAttr("PartName", want)
	o.CreateAttr("ContentType", contentType)
	return p.SetXML(ContentTypesPart, doc)
}
