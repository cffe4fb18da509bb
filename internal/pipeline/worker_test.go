package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreview/internal/artifacts"
	"github.com/dgallion1/docreview/internal/config"
	"github.com/dgallion1/docreview/internal/docxtest"
	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/locate"
	"github.com/dgallion1/docreview/internal/metrics"
	"github.com/dgallion1/docreview/internal/review"
	"github.com/dgallion1/docreview/internal/store"
)

type scriptedLLM struct {
	answer func(prompt string) (string, error)
}

func (s *scriptedLLM) Complete(_ context.Context, _, prompt string) (string, error) {
	return s.answer(prompt)
}
func (s *scriptedLLM) Provider() string { return "fake" }
func (s *scriptedLLM) Model() string    { return "fake-1" }

type memMirror struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memMirror) Put(_ context.Context, contractID, name string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[artifacts.ObjectKey(contractID, name)] = data
	return nil
}
func (m *memMirror) Presign(context.Context, string, string) (string, error) { return "", nil }
func (m *memMirror) Delete(context.Context, string) error                    { return nil }

type fixture struct {
	deps     Deps
	st       *store.SQLiteStore
	contract *store.Contract
	review   *store.Review
	mirror   *memMirror
}

func newFixture(t *testing.T, budget int, answer func(string) (string, error), texts ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.OpenSQLite(ctx, filepath.Join(dir, "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	files, err := artifacts.NewLocal(filepath.Join(dir, "uploads"), filepath.Join(dir, "storage"))
	require.NoError(t, err)
	uploadPath, err := files.SaveUpload("采购合同.docx", docxtest.BuildTexts(t, texts...))
	require.NoError(t, err)

	ex := extract.NewExtractor(&scriptedLLM{answer: answer}, extract.Options{
		MaxRetries:       1,
		TransportRetries: 1,
		BackoffBase:      time.Millisecond,
		BackoffMax:       time.Millisecond,
	})
	svc, err := review.NewService(ex, locate.NewMatcher(0), review.Config{MaxTokensPerSection: budget})
	require.NoError(t, err)

	c := &store.Contract{ID: "c-1", Title: "采购合同", OriginalFilename: "采购合同.docx", FilePath: uploadPath, Status: store.ContractReviewing}
	require.NoError(t, st.CreateContract(ctx, c))
	r := &store.Review{ID: "r-1", ContractID: c.ID, Status: store.ReviewProcessing}
	require.NoError(t, st.CreateReview(ctx, r))

	mirror := &memMirror{objects: map[string][]byte{}}
	return &fixture{
		deps: Deps{
			Service: svc,
			Store:   st,
			Files:   files,
			Mirror:  mirror,
			Metrics: metrics.New(nil),
			Author:  "法务",
		},
		st:       st,
		contract: c,
		review:   r,
		mirror:   mirror,
	}
}

func (f *fixture) job() *Job {
	return NewJob(f.review.ID, f.contract.ID, store.DefaultUserID, f.contract.FilePath, f.contract.Title)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const oneIssue = `{"issues":[{"category":"违约责任","severity":"高","location_hint":"第二条","original_text":"违约金比例为30%","problem":"违约金过高","suggestion":"下调至合理比例"}],"summary":"存在一处高风险"}`

func zipEntry(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(b)
	}
	return ""
}

func TestWorker_ProcessCompletes(t *testing.T) {
	f := newFixture(t, 4000, func(string) (string, error) { return oneIssue, nil },
		"第一条 标的", "第二条 违约金比例为30%。", "第三条 争议解决")
	job := f.job()

	NewWorker(f.deps, discardLogger()).Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Empty(t, snap.Progress.Errors)
	assert.Equal(t, 1, snap.Progress.IssuesFound)
	assert.Equal(t, 1, snap.Progress.IssuesLocated)
	assert.Equal(t, 1, snap.Progress.CommentsAdded)

	rec, err := f.st.GetReview(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, store.ReviewCompleted, rec.Status)
	assert.Equal(t, "存在一处高风险", rec.Summary)
	assert.Equal(t, 1, rec.HighRiskCount)
	require.Len(t, rec.Issues, 1)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, "reviewed_"+filepath.Base(f.contract.FilePath), filepath.Base(rec.ReviewedFilePath))
	assert.Equal(t, ReportName, filepath.Base(rec.ReportPath))

	annotated, err := os.ReadFile(rec.ReviewedFilePath)
	require.NoError(t, err)
	comments := zipEntry(t, annotated, "word/comments.xml")
	assert.Contains(t, comments, "违约金过高")
	assert.Contains(t, comments, `w:author="法务"`)

	reportText, err := os.ReadFile(rec.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(reportText), "合同审查报告")
	assert.Contains(t, string(reportText), "违约金过高")

	c, err := f.st.GetContract(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, store.ContractCompleted, c.Status)

	assert.Len(t, f.mirror.objects, 2)
	assert.Contains(t, f.mirror.objects, artifacts.ObjectKey("c-1", ReportName))
}

func TestWorker_ReviewFailureMarksRecordFailed(t *testing.T) {
	f := newFixture(t, 4000, func(string) (string, error) { return "no json here", nil }, "合同正文")
	job := f.job()

	NewWorker(f.deps, discardLogger()).Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "reviewing", snap.Phase)
	require.NotEmpty(t, snap.Progress.Errors)

	rec, err := f.st.GetReview(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, store.ReviewFailed, rec.Status)
	assert.NotEmpty(t, rec.ErrorMessage)
	assert.Nil(t, rec.CompletedAt)

	c, err := f.st.GetContract(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, store.ContractReviewing, c.Status)
	assert.Empty(t, f.mirror.objects)
}

func TestWorker_ChunkFailureIsPartial(t *testing.T) {
	body := strings.Repeat("款", 30)
	f := newFixture(t, 30, func(p string) (string, error) {
		if strings.Contains(p, "合同的 2/3 部分") {
			return "garbage", nil
		}
		return `{"issues":[{"category":"a","severity":"低","problem":"p"}],"summary":"s"}`, nil
	}, "第一条 标的", body, "第二条 价款", body, "第三条 争议", body)
	job := f.job()

	NewWorker(f.deps, discardLogger()).Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, 3, snap.Progress.TotalChunks)
	assert.Equal(t, 3, snap.Progress.ChunksProcessed)
	require.Len(t, snap.Progress.Errors, 1)
	assert.True(t, strings.HasPrefix(snap.Progress.Errors[0], "chunk 2:"))

	rec, err := f.st.GetReview(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, store.ReviewCompleted, rec.Status)
	assert.Equal(t, 2, rec.LowRiskCount)
	assert.Equal(t, "共发现 2 个风险点，其中高风险 0 个，中风险 0 个，低风险 2 个", rec.Summary)
}

func TestWorker_MissingUploadFails(t *testing.T) {
	f := newFixture(t, 4000, func(string) (string, error) { return oneIssue, nil }, "合同正文")
	require.NoError(t, os.Remove(f.contract.FilePath))
	job := f.job()

	NewWorker(f.deps, discardLogger()).Process(context.Background(), job)

	assert.Equal(t, StatusFailed, job.Snapshot().Status)
	assert.Equal(t, "parsing", job.Snapshot().Phase)
	rec, err := f.st.GetReview(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, store.ReviewFailed, rec.Status)
}

func TestOrchestrator_SubmitRunsJob(t *testing.T) {
	f := newFixture(t, 4000, func(string) (string, error) { return oneIssue, nil },
		"第二条 违约金比例为30%。")
	o := NewOrchestrator(config.Config{WorkerCount: 1, MaxQueueSize: 4, JobTTL: time.Hour}, f.deps, discardLogger())
	o.Start(context.Background())
	defer o.Stop()

	job := f.job()
	require.NoError(t, o.Submit(job))
	assert.Same(t, job, o.GetJob(job.ID))

	require.Eventually(t, func() bool {
		return o.GetJob(job.ID).Snapshot().Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusCompleted, o.GetJob(job.ID).Snapshot().Status)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	o := NewOrchestrator(config.Config{WorkerCount: 1, MaxQueueSize: 1}, Deps{}, discardLogger())
	// Not started: nothing drains the queue.
	require.NoError(t, o.Submit(NewJob("a", "c", "u", "", "")))
	job := NewJob("b", "c", "u", "", "")
	assert.Error(t, o.Submit(job))
	assert.Equal(t, StatusFailed, job.Snapshot().Status)
	assert.Equal(t, 1, o.QueueDepth())
}
