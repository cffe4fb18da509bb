package annotate

import (
	"path"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/dgallion1/docreview/internal/ooxml"
)

const commentDateLayout = "2006-01-02T15:04:05Z"

// loadComments picks up an existing comments part. A part that cannot be
// parsed is remembered as an error so every anchor attempt falls back.
func (s *Session) loadComments() {
	name, ok, err := s.pkg.FindRelationship(s.mainPart, ooxml.RelTypeComments)
	if err != nil {
		s.commentsErr = err
		return
	}
	if !ok {
		s.commentsPart = path.Join(path.Dir(s.mainPart), "comments.xml")
		return
	}
	s.commentsPart = name
	s.commentsLinked = true
	if !s.pkg.Has(name) {
		return
	}

	doc, err := s.pkg.ReadXML(name)
	if err != nil {
		s.log.Warn("existing comments part unreadable", "part", name, "error", err)
		s.commentsErr = err
		return
	}
	if doc.Root() == nil || !ooxml.IsW(doc.Root(), "comments") {
		s.commentsErr = &ooxml.MalformedStructureError{Part: name, Reason: "no w:comments root"}
		return
	}
	if n := maxCommentID(doc.Root()) + 1; n > s.nextID {
		s.nextID = n
	}
	s.comments = doc
}

// ensureComments returns the comments root. On first use it creates the
// content-type override, the part itself and then the relationship, so a
// failure part way leaves at worst an unreferenced part.
func (s *Session) ensureComments() (*etree.Element, error) {
	if s.commentsErr != nil {
		return nil, s.commentsErr
	}
	if s.comments != nil {
		return s.comments.Root(), nil
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	root := doc.CreateElement("w:comments")
	root.CreateAttr("xmlns:w", ooxml.NSWordprocessing)

	if err := s.pkg.EnsureOverride(s.commentsPart, ooxml.ContentTypeComments); err != nil {
		return nil, err
	}
	if err := s.pkg.SetXML(s.commentsPart, doc); err != nil {
		return nil, err
	}
	if !s.commentsLinked {
		target := strings.TrimPrefix(s.commentsPart, path.Dir(s.mainPart)+"/")
		if _, err := s.pkg.AddRelationship(s.mainPart, ooxml.RelTypeComments, target); err != nil {
			return nil, err
		}
		s.commentsLinked = true
	}
	s.comments = doc
	return root, nil
}

// newComment builds a w:comment with one paragraph per line of text.
func (s *Session) newComment(id int, text, author string) *etree.Element {
	c := etree.NewElement("w:comment")
	c.CreateAttr("w:id", strconv.Itoa(id))
	c.CreateAttr("w:author", author)
	c.CreateAttr("w:date", s.now().UTC().Format(commentDateLayout))
	c.CreateAttr("w:initials", initials(author))

	for _, line := range strings.Split(text, "\n") {
		p := c.CreateElement("w:p")
		p.CreateElement("w:pPr").CreateElement("w:pStyle").CreateAttr("w:val", "CommentText")
		r := p.CreateElement("w:r")
		r.AddChild(textElement(line))
	}
	return c
}

func initials(author string) string {
	r := []rune(strings.TrimSpace(author))
	if len(r) > 2 {
		r = r[:2]
	}
	return string(r)
}

func textElement(s string) *etree.Element {
	t := etree.NewElement("w:t")
	t.CreateAttr("xml:space", "preserve")
	t.SetText(s)
	return t
}
