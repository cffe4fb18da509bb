// Package annotate writes review comments into a .docx. A Session owns the
// parsed main document part from Open until Save; it is not safe for
// concurrent use.
package annotate

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/dgallion1/docreview/internal/fsutil"
	"github.com/dgallion1/docreview/internal/locate"
	"github.com/dgallion1/docreview/internal/ooxml"
)

// DefaultAuthor signs comments when no author is given.
const DefaultAuthor = "AI审核"

// Stats counts annotations by the path that produced them.
type Stats struct {
	Structural int `json:"structural"`
	Fallback   int `json:"fallback"`
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock sets the time source for comment dates.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session is one open document being annotated.
type Session struct {
	original   []byte
	pkg        *ooxml.Package
	mainPart   string
	doc        *etree.Document
	paragraphs []*etree.Element

	comments       *etree.Document
	commentsPart   string
	commentsLinked bool  // Main part already has a comments relationship
	commentsErr    error // Set when an existing comments part cannot be used

	nextID int
	dirty  bool
	stats  Stats
	log    *slog.Logger
	now    func() time.Time
}

// Open parses a .docx for annotation.
func Open(data []byte, opts ...Option) (*Session, error) {
	pkg, err := ooxml.Read(data)
	if err != nil {
		return nil, err
	}
	mainPart, err := pkg.MainDocumentPath()
	if err != nil {
		return nil, err
	}
	doc, err := pkg.ReadXML(mainPart)
	if err != nil {
		return nil, err
	}
	body, err := ooxml.Body(doc)
	if err != nil {
		return nil, err
	}

	s := &Session{
		original:   data,
		pkg:        pkg,
		mainPart:   mainPart,
		doc:        doc,
		paragraphs: ooxml.WChildren(body, "p"),
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	s.nextID = maxCommentID(doc.Root()) + 1
	s.loadComments()
	return s, nil
}

// OpenFile reads and opens a .docx from disk.
func OpenFile(path string, opts ...Option) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Open(data, opts...)
}

// Len returns the number of body paragraphs.
func (s *Session) Len() int {
	return len(s.paragraphs)
}

// Stats returns the annotation counts so far.
func (s *Session) Stats() Stats {
	return s.stats
}

// AddAnnotation attaches text to the paragraph at index. It returns false,
// leaving the document untouched, when index is out of range or the
// paragraph has no visible text. Otherwise the comment is anchored
// structurally, or appended as a visible inline marker if anchoring fails,
// and it returns true.
func (s *Session) AddAnnotation(index int, text, author string) bool {
	if index < 0 || index >= len(s.paragraphs) {
		return false
	}
	p := s.paragraphs[index]
	if strings.TrimSpace(ooxml.PlainText(p)) == "" {
		return false
	}
	if author == "" {
		author = DefaultAuthor
	}
	ensureWPrefix(s.doc.Root())

	err := s.tryStructuralAnchor(index, text, author)
	if err == nil {
		s.stats.Structural++
		s.dirty = true
		return true
	}
	s.log.Warn("comment anchor failed, using inline marker", "paragraph", index, "error", err)

	if err := fallbackInlineMarker(s.paragraphs[index], text, author); err != nil {
		s.log.Warn("inline marker failed", "paragraph", index, "error", err)
		return true
	}
	s.stats.Fallback++
	s.dirty = true
	return true
}

// AddIssuesAsComments annotates every located issue in order and returns
// how many were added. Items without a location are skipped.
func (s *Session) AddIssuesAsComments(items []locate.LocatedIssue, author string) int {
	if author == "" {
		author = DefaultAuthor
	}
	added := 0
	for _, it := range items {
		if it.Location == nil || it.Location.Index < 0 {
			continue
		}
		if s.AddAnnotation(it.Location.Index, CommentBody(it), author) {
			added++
		}
	}
	return added
}

// CommentBody formats an issue as comment text.
func CommentBody(it locate.LocatedIssue) string {
	return fmt.Sprintf("【%s风险】%s\n建议：%s", it.Issue.Severity, it.Issue.Problem, it.Issue.Suggestion)
}

// Bytes serializes the annotated package. An untouched session returns
// the bytes it was opened with.
func (s *Session) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.writeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the annotated package to path atomically and returns the
// number of bytes written.
func (s *Session) Save(path string) (int64, error) {
	return fsutil.WriteFileAtomic(path, 0o644, s.writeTo)
}

func (s *Session) writeTo(w io.Writer) (int64, error) {
	if !s.dirty {
		n, err := w.Write(s.original)
		return int64(n), err
	}
	if err := s.pkg.SetXML(s.mainPart, s.doc); err != nil {
		return 0, err
	}
	if s.comments != nil {
		if err := s.pkg.SetXML(s.commentsPart, s.comments); err != nil {
			return 0, err
		}
	}
	return s.pkg.WriteTo(w)
}

// maxCommentID returns the highest comment id referenced under root, or -1.
func maxCommentID(root *etree.Element) int {
	maxID := -1
	if root == nil {
		return maxID
	}
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, c := range e.ChildElements() {
			switch {
			case ooxml.IsW(c, "comment"), ooxml.IsW(c, "commentRangeStart"),
				ooxml.IsW(c, "commentRangeEnd"), ooxml.IsW(c, "commentReference"):
				if n, err := strconv.Atoi(ooxml.WAttr(c, "id")); err == nil && n > maxID {
					maxID = n
				}
			}
			walk(c)
		}
	}
	walk(root)
	return maxID
}
