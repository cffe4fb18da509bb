package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/pathstore"
)

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	c1 := &Contract{ID: "c1", Title: "采购合同", OriginalFilename: "a.docx", ContentHash: "h1", CreatedAt: base}
	c2 := &Contract{ID: "c2", Title: "租赁合同", ContentHash: "h1", CreatedAt: base.Add(time.Minute)}
	c3 := &Contract{ID: "c3", Title: "他人合同", UserID: "other", ContentHash: "h1", CreatedAt: base.Add(2 * time.Minute)}
	for _, c := range []*Contract{c1, c2, c3} {
		require.NoError(t, s.CreateContract(ctx, c))
	}
	assert.Equal(t, DefaultUserID, c1.UserID)
	assert.Equal(t, ContractPending, c1.Status)
	assert.Equal(t, SourceUpload, c1.Source)

	got, err := s.GetContract(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "采购合同", got.Title)
	assert.Equal(t, "a.docx", got.OriginalFilename)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.GetContract(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListContracts(ctx, DefaultUserID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID, "newest first")

	dups, err := s.FindByHash(ctx, "", "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, dups)

	require.NoError(t, s.UpdateContractStatus(ctx, "c1", ContractReviewing))
	got, err = s.GetContract(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ContractReviewing, got.Status)
	assert.ErrorIs(t, s.UpdateContractStatus(ctx, "missing", ContractCompleted), ErrNotFound)

	r := &Review{ID: "r1", ContractID: "c1", Status: ReviewProcessing, CreatedAt: base}
	require.NoError(t, s.CreateReview(ctx, r))

	done := base.Add(5 * time.Minute)
	r.Status = ReviewCompleted
	r.Issues = Issues{{Category: "违约责任", Severity: extract.SeverityHigh, Problem: "违约金过高"}}
	r.Summary = "共发现 1 个风险点"
	r.HighRiskCount = 1
	r.ReviewedFilePath = "storage/c1/reviewed_a.docx"
	r.ReportPath = "storage/c1/review_report.txt"
	r.CompletedAt = &done
	require.NoError(t, s.UpdateReview(ctx, r))

	gotR, err := s.GetReview(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ReviewCompleted, gotR.Status)
	require.Len(t, gotR.Issues, 1)
	assert.Equal(t, "违约金过高", gotR.Issues[0].Problem)
	assert.Equal(t, 1, gotR.HighRiskCount)
	require.NotNil(t, gotR.CompletedAt)
	assert.True(t, gotR.CompletedAt.Equal(done))

	assert.ErrorIs(t, s.UpdateReview(ctx, &Review{ID: "nope"}), ErrNotFound)
	_, err = s.GetReview(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateReview(ctx, &Review{ID: "r2", ContractID: "c1", CreatedAt: base.Add(time.Hour)}))
	reviews, err := s.ListReviews(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "r2", reviews[0].ID)
	assert.Empty(t, reviews[0].Issues)

	require.NoError(t, s.DeleteContract(ctx, "c1"))
	_, err = s.GetContract(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetReview(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	dups, err = s.FindByHash(ctx, "", "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, dups)
	assert.ErrorIs(t, s.DeleteContract(ctx, "c1"), ErrNotFound)
}

// exerciseDrafts runs the draft lifecycle every backend must share.
func exerciseDrafts(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	d1 := &Draft{ID: "d1", Title: "房屋租赁合同", Requirement: "出租一套两居室", CreatedAt: base}
	d2 := &Draft{ID: "d2", Title: "采购合同", CreatedAt: base.Add(time.Minute)}
	d3 := &Draft{ID: "d3", Title: "他人草稿", UserID: "other", CreatedAt: base.Add(2 * time.Minute)}
	for _, d := range []*Draft{d1, d2, d3} {
		require.NoError(t, s.CreateDraft(ctx, d))
	}
	assert.Equal(t, DefaultUserID, d1.UserID)
	assert.Equal(t, DraftNew, d1.Status)
	assert.Equal(t, 1, d1.Version)

	got, err := s.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "出租一套两居室", got.Requirement)
	assert.Nil(t, got.FinalizedAt)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.GetDraft(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	mine, err := s.ListDrafts(ctx, DefaultUserID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "d2", mine[0].ID, "newest first")
	all, err := s.ListDrafts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	done := base.Add(time.Hour)
	got.GeneratedContent = "第一条 租赁物"
	got.FinalContent = "第一条 租赁物（修订）"
	got.Status = DraftFinalized
	got.FinalizedAt = &done
	require.NoError(t, s.UpdateDraft(ctx, got))
	got, err = s.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, DraftFinalized, got.Status)
	assert.Equal(t, "第一条 租赁物（修订）", got.Content())
	require.NotNil(t, got.FinalizedAt)
	assert.True(t, got.FinalizedAt.Equal(done))

	assert.ErrorIs(t, s.UpdateDraft(ctx, &Draft{ID: "missing"}), ErrNotFound)

	require.NoError(t, s.DeleteDraft(ctx, "d1"))
	_, err = s.GetDraft(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteDraft(ctx, "d1"), ErrNotFound)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "review.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
	exerciseDrafts(t, s)
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.db")
	s, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.CreateContract(context.Background(), &Contract{ID: "c", Title: "t"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetContract(context.Background(), "c")
	assert.NoError(t, err)
}

// fakeKV is an in-memory pathstore server.
type fakeKV struct {
	mu    sync.Mutex
	nodes map[string]json.RawMessage
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(key, "/*"):
		prefix := strings.TrimSuffix(key, "*")
		type node struct {
			Key   string          `json:"key_path"`
			Value json.RawMessage `json:"value"`
		}
		nodes := []node{}
		for k, v := range f.nodes {
			if strings.HasPrefix(k, prefix) {
				nodes = append(nodes, node{Key: k, Value: v})
			}
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
		json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
	case r.Method == http.MethodGet:
		v, ok := f.nodes[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"key_path": key, "value": v})
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.nodes[key] = req.Value
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodDelete:
		delete(f.nodes, key)
		if r.URL.Query().Get("children") == "true" {
			for k := range f.nodes {
				if strings.HasPrefix(k, key+"/") {
					delete(f.nodes, k)
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestPathStore(t *testing.T) {
	kv := &fakeKV{nodes: map[string]json.RawMessage{}}
	srv := httptest.NewServer(kv)
	defer srv.Close()

	s := NewPathStore(pathstore.NewClient(srv.URL, "k"))
	defer s.Close()
	exerciseStore(t, s)
	exerciseDrafts(t, s)

	kv.mu.Lock()
	defer kv.mu.Unlock()
	for k := range kv.nodes {
		assert.False(t, strings.HasPrefix(k, "docreview/contracts/c1/"), "left behind %s", k)
	}
}

func TestIssues_ScanNull(t *testing.T) {
	var is Issues
	require.NoError(t, is.Scan(nil))
	assert.NotNil(t, is)
	assert.Empty(t, is)

	require.NoError(t, is.Scan([]byte(`[{"category":"c","severity":"高","problem":"p"}]`)))
	assert.Len(t, is, 1)

	assert.Error(t, is.Scan(42))

	v, err := Issues(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}
