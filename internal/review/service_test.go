package review

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreview/internal/docxtest"
	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/locate"
	"github.com/dgallion1/docreview/internal/ooxml"
)

// fakeLLM answers by looking for a marker in the prompt.
type fakeLLM struct {
	mu      sync.Mutex
	answer  func(prompt string) (string, error)
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, _, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.answer(prompt)
}

func (f *fakeLLM) Provider() string { return "fake" }
func (f *fakeLLM) Model() string    { return "fake-1" }

func newService(t *testing.T, llm *fakeLLM, budget int) *Service {
	t.Helper()
	ex := extract.NewExtractor(llm, extract.Options{
		MaxRetries:       1,
		TransportRetries: 1,
		BackoffBase:      time.Millisecond,
		BackoffMax:       time.Millisecond,
	})
	s, err := NewService(ex, locate.NewMatcher(0), Config{MaxTokensPerSection: budget})
	require.NoError(t, err)
	return s
}

func writeDocx(t *testing.T, texts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contract.docx")
	require.NoError(t, os.WriteFile(path, docxtest.BuildTexts(t, texts...), 0o644))
	return path
}

const contractReply = `{"issues":[
 {"category":"违约责任","severity":"高","location_hint":"第二条","original_text":"违约金比例为30%","problem":"违约金过高","suggestion":"下调"},
 {"category":"争议解决","severity":"low","location_hint":"第三条","original_text":"提交仲裁","problem":"未约定仲裁机构","suggestion":"明确机构"}
],"summary":"存在两处风险"}`

func TestReviewDocument_SinglePass(t *testing.T) {
	llm := &fakeLLM{answer: func(string) (string, error) { return contractReply, nil }}
	s := newService(t, llm, 4000)
	path := writeDocx(t, "第一条 标的", "第二条 违约金比例为30%。", "第三条 提交仲裁。")

	var calls [][2]int
	out, err := s.ReviewDocument(context.Background(), path, func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "存在两处风险", out.Summary)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 1, out.High)
	assert.Equal(t, 1, out.Low)
	assert.Equal(t, extract.SeverityLow, out.Issues[1].Severity)
	assert.Equal(t, [][2]int{{1, 1}}, calls)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "第二条 违约金比例为30%。")
}

func TestReviewDocument_SinglePassFailure(t *testing.T) {
	llm := &fakeLLM{answer: func(string) (string, error) { return "not json", nil }}
	s := newService(t, llm, 4000)

	out, err := s.ReviewDocument(context.Background(), writeDocx(t, "合同正文"), nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
	assert.Empty(t, out.Issues)
	assert.Len(t, llm.prompts, 2, "one attempt plus one format retry")
}

func chunkedContract() []string {
	body := strings.Repeat("款", 30)
	return []string{
		"第一条 标的", body,
		"第二条 价款", body,
		"第三条 争议", body,
	}
}

func TestReviewDocument_ChunkedMergesAndSummarizes(t *testing.T) {
	llm := &fakeLLM{answer: func(p string) (string, error) {
		switch {
		case strings.Contains(p, "合同的 1/3 部分"):
			return `{"issues":[{"category":"a","severity":"高","problem":"p1"}],"summary":"s1"}`, nil
		case strings.Contains(p, "合同的 2/3 部分"):
			return `{"issues":[{"category":"b","severity":"中","problem":"p2"},{"category":"c","severity":"bogus","problem":"dropped"}],"summary":"s2"}`, nil
		default:
			return `{"issues":[{"category":"d","severity":"低","problem":"p3"}],"summary":"s3"}`, nil
		}
	}}
	s := newService(t, llm, 30)

	var done []int
	out, err := s.ReviewDocument(context.Background(), writeDocx(t, chunkedContract()...), func(d, total int) {
		assert.Equal(t, 3, total)
		done = append(done, d)
	})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 3, out.Chunks)
	assert.Equal(t, []int{1, 2, 3}, done)
	var problems []string
	for _, is := range out.Issues {
		problems = append(problems, is.Problem)
	}
	assert.Equal(t, []string{"p1", "p2", "p3"}, problems)
	assert.Equal(t, "共发现 3 个风险点，其中高风险 1 个，中风险 1 个，低风险 1 个", out.Summary)
	assert.Empty(t, out.ChunkErrors)
}

func TestReviewDocument_ChunkFailureIsIsolated(t *testing.T) {
	llm := &fakeLLM{answer: func(p string) (string, error) {
		if strings.Contains(p, "合同的 2/3 部分") {
			return "", errors.New("boom")
		}
		return `{"issues":[{"category":"a","severity":"高","problem":"p"}],"summary":""}`, nil
	}}
	s := newService(t, llm, 30)

	out, err := s.ReviewDocument(context.Background(), writeDocx(t, chunkedContract()...), nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Total)
	require.Len(t, out.ChunkErrors, 1)
	assert.Contains(t, out.ChunkErrors[0], "chunk 2")
}

func TestReviewDocument_AllChunksFailing(t *testing.T) {
	llm := &fakeLLM{answer: func(string) (string, error) { return "", errors.New("down") }}
	s := newService(t, llm, 30)

	out, err := s.ReviewDocument(context.Background(), writeDocx(t, chunkedContract()...), nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Len(t, out.ChunkErrors, 3)
	assert.Contains(t, out.Error, "3 errors occurred")
}

func TestReviewDocument_InputErrors(t *testing.T) {
	s := newService(t, &fakeLLM{answer: func(string) (string, error) { return contractReply, nil }}, 4000)

	_, err := s.ReviewDocument(context.Background(), filepath.Join(t.TempDir(), "missing.docx"), nil)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.docx")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))
	_, err = s.ReviewDocument(context.Background(), bad, nil)
	var unreadable *ooxml.UnreadableDocumentError
	assert.ErrorAs(t, err, &unreadable)
}

func TestReviewDocument_NoClient(t *testing.T) {
	s, err := NewService(nil, nil, Config{})
	require.NoError(t, err)
	_, err = s.ReviewDocument(context.Background(), writeDocx(t, "x"), nil)
	assert.Error(t, err)
}

func TestLocateIssues_PreservesOrder(t *testing.T) {
	s, err := NewService(nil, nil, Config{})
	require.NoError(t, err)
	path := writeDocx(t, "第一条 标的", "甲方采购设备。", "第二条 违约金比例为30%。")

	located, err := s.LocateIssues(path, []extract.Issue{
		{Problem: "a", OriginalText: "违约金比例为30%"},
		{Problem: "b", OriginalText: "完全无关的内容在这里出现"},
		{Problem: "c", OriginalText: "甲方采购设备"},
	})
	require.NoError(t, err)
	require.Len(t, located, 3)

	assert.True(t, located[0].Located)
	assert.Equal(t, 2, located[0].Location.Index)
	assert.False(t, located[1].Located)
	assert.Nil(t, located[1].Location)
	assert.Equal(t, 1, located[2].Location.Index)
	assert.Equal(t, 1.0, located[2].Location.Confidence)
}

func TestParse_CachesByContent(t *testing.T) {
	s, err := NewService(nil, nil, Config{CacheSize: 2})
	require.NoError(t, err)
	data := docxtest.BuildTexts(t, "甲", "乙")

	first, err := s.Parse(data)
	require.NoError(t, err)
	second, err := s.Parse(append([]byte(nil), data...))
	require.NoError(t, err)
	assert.Same(t, first, second)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := s.Parse(data)
			assert.NoError(t, err)
			assert.Equal(t, 2, doc.Len())
		}()
	}
	wg.Wait()
}

func TestMergedSummary(t *testing.T) {
	assert.Equal(t, "共发现 0 个风险点，其中高风险 0 个，中风险 0 个，低风险 0 个", MergedSummary(0, 0, 0, 0))
}

func TestContentHash_KnownVectors(t *testing.T) {
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", ContentHash([]byte("hello world")))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ContentHash(nil))
	assert.NotEqual(t, ContentHash([]byte("aaa")), ContentHash([]byte("bbb")))
}
