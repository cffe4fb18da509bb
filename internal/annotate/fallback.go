package annotate

import (
	"errors"
	"strings"

	"github.com/beevik/etree"
)

// fallbackInlineMarker appends a red "\n[author: text]" run to p.
// Newlines in text become w:br.
func fallbackInlineMarker(p *etree.Element, text, author string) error {
	if p == nil {
		return errors.New("no paragraph element")
	}

	r := etree.NewElement("w:r")
	rPr := r.CreateElement("w:rPr")
	rPr.CreateElement("w:color").CreateAttr("w:val", "FF0000")
	rPr.CreateElement("w:sz").CreateAttr("w:val", "20")

	r.CreateElement("w:br")
	for i, line := range strings.Split("["+author+": "+text+"]", "\n") {
		if i > 0 {
			r.CreateElement("w:br")
		}
		r.AddChild(textElement(line))
	}

	p.AddChild(r)
	return nil
}
