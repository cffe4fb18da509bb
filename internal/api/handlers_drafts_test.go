package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreview/internal/drafting"
	"github.com/dgallion1/docreview/internal/parser"
	"github.com/dgallion1/docreview/internal/store"
)

const draftedContract = "甲方：张三\n乙方：李四\n第一条 租赁物\n房屋一套。\n第二条 违约责任\n违约金比例为30%，按日计算。"

type draftLLM struct{}

func (draftLLM) Complete(_ context.Context, system, prompt string) (string, error) {
	switch system {
	case drafting.AnalysisSystem:
		return `{"contract_type":"租赁合同","contract_title":"房屋租赁合同","key_elements":{"party_a":"张三"}}`, nil
	case drafting.RefinementSystem:
		return strings.Replace(draftedContract, "房屋一套。", "房屋一套，面积八十平方米。", 1), nil
	default:
		return draftedContract, nil
	}
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func createDraft(t *testing.T, env *testEnv, body string) string {
	t.Helper()
	rec := env.do(t, jsonRequest(http.MethodPost, "/api/writing/drafts", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode(t, rec)
	assert.Equal(t, store.DraftNew, d["status"])
	return d["id"].(string)
}

func TestDraftFlow_EndToEnd(t *testing.T) {
	env := newTestEnv(t, "")
	id := createDraft(t, env, `{"title":"房屋租赁合同","user_requirement":"出租一套两居室，违约金按日计算"}`)
	base := "/api/writing/drafts/" + id

	rec := env.do(t, httptest.NewRequest(http.MethodPost, base+"/generate", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	gen := decode(t, rec)
	assert.Equal(t, "合同生成完成", gen["message"])
	d := gen["draft"].(map[string]any)
	assert.Equal(t, store.DraftGenerated, d["status"])
	assert.Equal(t, "租赁合同", d["contract_type"])
	assert.Equal(t, draftedContract, d["generated_content"])
	assert.Equal(t, draftedContract, d["final_content"])
	assert.Equal(t, "stub-1", d["model"])

	rec = env.do(t, jsonRequest(http.MethodPut, base+"/content", `{"final_content":"`+strings.ReplaceAll(draftedContract, "\n", `\n`)+`\n第三条 附则"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d = decode(t, rec)
	assert.Equal(t, store.DraftEditing, d["status"])
	assert.True(t, strings.HasSuffix(d["final_content"].(string), "第三条 附则"))

	rec = env.do(t, jsonRequest(http.MethodPost, base+"/refine", `{"user_feedback":"补充房屋面积"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d = decode(t, rec)["draft"].(map[string]any)
	assert.Equal(t, store.DraftGenerated, d["status"])
	assert.Contains(t, d["final_content"], "面积八十平方米")
	assert.Equal(t, draftedContract, d["generated_content"], "refinement leaves the generated text alone")

	rec = env.do(t, jsonRequest(http.MethodPost, base+"/regenerate", `{}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d = decode(t, rec)["draft"].(map[string]any)
	assert.EqualValues(t, 2, d["version"])
	assert.Equal(t, draftedContract, d["final_content"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, base+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, docxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	doc, err := parser.New().Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "房屋租赁合同", doc.Paragraphs[0].Text)
	require.Len(t, doc.Structure.Sections, 2)
	saved, err := env.st.GetDraft(context.Background(), id)
	require.NoError(t, err)
	assert.FileExists(t, saved.FilePath)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, base+"/finalize", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	fin := decode(t, rec)
	assert.Equal(t, "草稿已定稿", fin["message"])
	assert.NotEmpty(t, fin["finalized_at"])

	rec = env.do(t, httptest.NewRequest(http.MethodPost, base+"/to-review", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conv := decode(t, rec)
	assert.Equal(t, "已转入审查流程", conv["message"])
	contractID := conv["contract_id"].(string)

	saved, err = env.st.GetDraft(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.DraftConverted, saved.Status)
	assert.Equal(t, contractID, saved.ContractID)

	c, err := env.st.GetContract(context.Background(), contractID)
	require.NoError(t, err)
	assert.Equal(t, store.SourceDraft, c.Source)
	assert.Equal(t, store.ContractPending, c.Status)
	assert.Equal(t, draftedContract, c.ContentText)
	assert.Equal(t, env.files.StoragePath(contractID, "original_"+contractID+".docx"), c.FilePath)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/reviews/"+contractID+"/start", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	reviewID := decode(t, rec)["id"].(string)

	var body map[string]any
	require.Eventually(t, func() bool {
		body = decode(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/reviews/"+reviewID, nil)))
		return body["status"] == "completed" || body["status"] == "failed"
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, "completed", body["status"], body)
	assert.EqualValues(t, 1, body["progress"].(map[string]any)["comments_added"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/reviews/"+reviewID+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/reviews/contracts/"+contractID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["files_deleted"])
	assert.NoFileExists(t, c.FilePath)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, base, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "草稿已删除", decode(t, rec)["message"])
	assert.NoFileExists(t, saved.FilePath)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, base, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrafts_Errors(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, jsonRequest(http.MethodPost, "/api/writing/drafts", `{"user_requirement":"无标题"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, jsonRequest(http.MethodPost, "/api/writing/drafts", `{"title":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/writing/drafts/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "草稿不存在", decode(t, rec)["error"])

	id := createDraft(t, env, `{"title":"空白草稿"}`)
	base := "/api/writing/drafts/" + id

	rec = env.do(t, httptest.NewRequest(http.MethodGet, base+"?user_id=other", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "无权访问此草稿", decode(t, rec)["error"])

	rec = env.do(t, httptest.NewRequest(http.MethodPost, base+"/generate", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "请先提供合同需求描述", decode(t, rec)["error"])

	tests := []struct {
		method, path, body, want string
	}{
		{http.MethodPost, "/refine", `{"user_feedback":"改一下"}`, "没有可优化的内容"},
		{http.MethodGet, "/download", "", "没有可下载的内容"},
		{http.MethodPost, "/finalize", "", "没有可定稿的内容"},
		{http.MethodPost, "/to-review", "", "没有可转入审查的内容"},
	}
	for _, tt := range tests {
		rec = env.do(t, jsonRequest(tt.method, base+tt.path, tt.body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, tt.path)
		assert.Equal(t, tt.want, decode(t, rec)["error"], tt.path)
	}

	rec = env.do(t, jsonRequest(http.MethodPost, base+"/refine", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "feedback is required")

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/writing/drafts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["drafts"], 1)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/writing/drafts?user_id=other", nil))
	assert.Empty(t, decode(t, rec)["drafts"])
}

func TestDrafts_WithoutLLM(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.deps.Drafts = nil
	id := createDraft(t, env, `{"title":"租赁合同","user_requirement":"出租房屋"}`)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/writing/drafts/"+id+"/generate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	d, err := env.st.GetDraft(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.DraftNew, d.Status, "nothing ran")

	rec = env.do(t, jsonRequest(http.MethodPut, "/api/writing/drafts/"+id+"/content", `{"title":"新标题","final_content":"第一条 手写条款"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/writing/drafts/"+id+"/to-review", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "hand-written drafts can be reviewed")
}

type failingLLM struct{}

func (failingLLM) Complete(context.Context, string, string) (string, error) {
	return "", &failure{}
}

type failure struct{}

func (*failure) Error() string { return "model unavailable" }

func TestDrafts_GenerationFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.deps.Drafts = drafting.NewGenerator(failingLLM{}, drafting.Options{})
	id := createDraft(t, env, `{"title":"租赁合同","user_requirement":"出租房屋"}`)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/writing/drafts/"+id+"/generate", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "model unavailable")

	d, err := env.st.GetDraft(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.DraftFailed, d.Status)
	assert.Contains(t, d.ErrorMessage, "model unavailable")
}
