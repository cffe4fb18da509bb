package drafting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreview/internal/extract"
)

type call struct {
	system string
	prompt string
}

// scripted answers each call with the next canned reply.
type scripted struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   []call
}

func (s *scripted) Complete(_ context.Context, system, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{system, prompt})
	i := len(s.calls) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i >= len(s.replies) {
		return "", errors.New("script exhausted")
	}
	return s.replies[i], nil
}

const analysisReply = "```json\n" + `{"contract_type":"租赁合同","contract_title":"房屋租赁合同","key_elements":{"party_a":"张三","subject":"住宅"}}` + "\n```"

func TestGenerator_Generate(t *testing.T) {
	llm := &scripted{replies: []string{analysisReply, "```\n第一条 租赁物\n```"}}
	g := NewGenerator(llm, Options{Model: "m-1", MaxRetries: 2})

	out, err := g.Generate(context.Background(), "出租一套两居室")
	require.NoError(t, err)
	assert.Equal(t, "租赁合同", out.ContractType)
	assert.Equal(t, "房屋租赁合同", out.Title)
	assert.Equal(t, "第一条 租赁物", out.Content)
	assert.Equal(t, "m-1", out.Model)

	require.Len(t, llm.calls, 2)
	assert.Equal(t, AnalysisSystem, llm.calls[0].system)
	assert.Contains(t, llm.calls[0].prompt, "出租一套两居室")
	assert.Equal(t, GenerationSystem, llm.calls[1].system)
	assert.Contains(t, llm.calls[1].prompt, "合同类型：租赁合同")
	assert.Contains(t, llm.calls[1].prompt, `"party_a":"张三"`)
}

func TestGenerator_AnalysisRetriesOnBadJSON(t *testing.T) {
	llm := &scripted{replies: []string{"我无法输出 JSON", "[]", `{"key_elements":"none"}`, "合同正文"}}
	g := NewGenerator(llm, Options{MaxRetries: 2})

	out, err := g.Generate(context.Background(), "需求")
	require.NoError(t, err)
	assert.Equal(t, "自定义", out.ContractType, "missing type falls back")
	assert.Equal(t, "{}", out.Elements, "non-object elements are ignored")

	require.Len(t, llm.calls, 4)
	assert.False(t, strings.HasSuffix(llm.calls[0].prompt, extract.RetryEnforcement))
	assert.True(t, strings.HasSuffix(llm.calls[1].prompt, extract.RetryEnforcement))
	assert.Equal(t, 1, strings.Count(llm.calls[2].prompt, extract.RetryEnforcement))
}

func TestGenerator_AnalysisGivesUp(t *testing.T) {
	llm := &scripted{replies: []string{"no", "still no"}}
	_, err := NewGenerator(llm, Options{MaxRetries: 1}).Generate(context.Background(), "需求")

	var fe *extract.FormatError
	assert.ErrorAs(t, err, &fe)
	assert.Len(t, llm.calls, 2)
}

func TestGenerator_TransportErrorIsNotRetried(t *testing.T) {
	boom := errors.New("boom")
	llm := &scripted{errs: []error{boom}}
	_, err := NewGenerator(llm, Options{MaxRetries: 3}).Generate(context.Background(), "需求")
	assert.ErrorIs(t, err, boom)
	assert.Len(t, llm.calls, 1)
}

func TestGenerator_EmptyContent(t *testing.T) {
	llm := &scripted{replies: []string{analysisReply, "  \n "}}
	_, err := NewGenerator(llm, Options{}).Generate(context.Background(), "需求")
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestGenerator_Refine(t *testing.T) {
	llm := &scripted{replies: []string{"第一条 租赁物（修订）"}}
	out, err := NewGenerator(llm, Options{}).Refine(context.Background(), "第一条 租赁物", "补充面积")
	require.NoError(t, err)
	assert.Equal(t, "第一条 租赁物（修订）", out)

	require.Len(t, llm.calls, 1)
	assert.Equal(t, RefinementSystem, llm.calls[0].system)
	assert.Contains(t, llm.calls[0].prompt, "当前合同内容：\n第一条 租赁物")
	assert.Contains(t, llm.calls[0].prompt, "用户反馈：\n补充面积")
}

func TestExtractorSatisfiesCompleter(t *testing.T) {
	var _ Completer = (*extract.Extractor)(nil)
}
