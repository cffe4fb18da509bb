package annotate

import (
	"errors"
	"strconv"

	"github.com/beevik/etree"

	"github.com/dgallion1/docreview/internal/ooxml"
)

// Inline containers a target run may sit in. Runs inside w:del and
// w:moveFrom are deleted text and never anchored.
var runContainers = map[string]bool{
	"hyperlink":  true,
	"ins":        true,
	"moveTo":     true,
	"smartTag":   true,
	"customXml":  true,
	"fldSimple":  true,
	"sdt":        true,
	"sdtContent": true,
	"bdo":        true,
	"dir":        true,
}

// rPrOrder is the CT_RPr child sequence, used to place w:shd.
var rPrOrder = map[string]int{
	"rStyle": 0, "rFonts": 1, "b": 2, "bCs": 3, "i": 4, "iCs": 5,
	"caps": 6, "smallCaps": 7, "strike": 8, "dstrike": 9, "outline": 10,
	"shadow": 11, "emboss": 12, "imprint": 13, "noProof": 14,
	"snapToGrid": 15, "vanish": 16, "webHidden": 17, "color": 18,
	"spacing": 19, "w": 20, "kern": 21, "position": 22, "sz": 23,
	"szCs": 24, "highlight": 25, "u": 26, "effect": 27, "bdr": 28,
	"shd": 29, "fitText": 30, "vertAlign": 31, "rtl": 32, "cs": 33,
	"em": 34, "lang": 35, "eastAsianLayout": 36, "specVanish": 37,
	"oMath": 38, "rPrChange": 39,
}

var errNoParent = errors.New("target run has no parent")

// tryStructuralAnchor wraps the paragraph's first run in a comment range
// and appends the comment. On error the paragraph is restored from a
// snapshot and no comment is written.
func (s *Session) tryStructuralAnchor(index int, text, author string) error {
	p := s.paragraphs[index]
	snapshot := p.Copy()

	err := s.anchor(p, text, author)
	if err == nil {
		return nil
	}

	if parent := p.Parent(); parent != nil {
		at := p.Index()
		parent.RemoveChildAt(at)
		parent.InsertChildAt(at, snapshot)
		s.paragraphs[index] = snapshot
	}
	return err
}

func (s *Session) anchor(p *etree.Element, text, author string) error {
	run := targetRun(p)
	if run == nil {
		run = materializeRun(p)
	}
	container := run.Parent()
	if container == nil {
		return errNoParent
	}

	setShading(run)

	id := strconv.Itoa(s.nextID)
	start := etree.NewElement("w:commentRangeStart")
	start.CreateAttr("w:id", id)
	ref := referenceRun(id)
	end := etree.NewElement("w:commentRangeEnd")
	end.CreateAttr("w:id", id)

	at := run.Index()
	container.InsertChildAt(at, start)
	container.InsertChildAt(at+2, ref)
	container.InsertChildAt(at+3, end)

	root, err := s.ensureComments()
	if err != nil {
		return err
	}
	root.AddChild(s.newComment(s.nextID, text, author))
	s.nextID++
	return nil
}

// targetRun returns the first direct w:r of p, else the first run nested
// in an inline container, else nil.
func targetRun(p *etree.Element) *etree.Element {
	if r := ooxml.WChild(p, "r"); r != nil {
		return r
	}
	var find func(*etree.Element) *etree.Element
	find = func(e *etree.Element) *etree.Element {
		for _, c := range e.ChildElements() {
			if ooxml.IsW(c, "r") {
				return c
			}
			if !isRunContainer(c) {
				continue
			}
			if r := find(c); r != nil {
				return r
			}
		}
		return nil
	}
	return find(p)
}

func isRunContainer(e *etree.Element) bool {
	return runContainers[e.Tag] && ooxml.IsW(e, e.Tag)
}

// materializeRun replaces every child but w:pPr with one run holding the
// paragraph's plain text.
func materializeRun(p *etree.Element) *etree.Element {
	text := ooxml.PlainText(p)
	for _, c := range p.ChildElements() {
		if !ooxml.IsW(c, "pPr") {
			p.RemoveChild(c)
		}
	}
	r := p.CreateElement("w:r")
	r.AddChild(textElement(text))
	return r
}

// setShading highlights run yellow, replacing any existing w:shd.
func setShading(run *etree.Element) {
	rPr := ooxml.WChild(run, "rPr")
	if rPr == nil {
		rPr = etree.NewElement("w:rPr")
		run.InsertChildAt(0, rPr)
	}
	if old := ooxml.WChild(rPr, "shd"); old != nil {
		rPr.RemoveChild(old)
	}

	shd := etree.NewElement("w:shd")
	shd.CreateAttr("w:val", "clear")
	shd.CreateAttr("w:color", "auto")
	shd.CreateAttr("w:fill", "FFFF00")

	at := len(rPr.Child)
	for _, c := range rPr.ChildElements() {
		if rank, ok := rPrOrder[c.Tag]; ok && rank > rPrOrder["shd"] {
			at = c.Index()
			break
		}
	}
	rPr.InsertChildAt(at, shd)
}

func referenceRun(id string) *etree.Element {
	r := etree.NewElement("w:r")
	r.CreateElement("w:rPr").CreateElement("w:rStyle").CreateAttr("w:val", "CommentReference")
	r.CreateElement("w:commentReference").CreateAttr("w:id", id)
	return r
}

// ensureWPrefix declares the w prefix on root so inserted w: elements
// resolve even in documents that bind the namespace differently.
func ensureWPrefix(root *etree.Element) {
	if root == nil {
		return
	}
	for _, a := range root.Attr {
		if a.Space == "xmlns" && a.Key == "w" {
			return
		}
	}
	root.CreateAttr("xmlns:w", ooxml.NSWordprocessing)
}
