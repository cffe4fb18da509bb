package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dgallion1/docreview/internal/artifacts"
	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/ooxml"
	"github.com/dgallion1/docreview/internal/pipeline"
	"github.com/dgallion1/docreview/internal/report"
	"github.com/dgallion1/docreview/internal/review"
	"github.com/dgallion1/docreview/internal/store"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

type uploadResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ContractID  string `json:"contract_id"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

type reviewResult struct {
	Issues      []extract.Issue `json:"issues"`
	Summary     string          `json:"summary"`
	TotalIssues int             `json:"total_issues"`
	High        int             `json:"high_risk_count"`
	Medium      int             `json:"medium_risk_count"`
	Low         int             `json:"low_risk_count"`
}

type reviewResponse struct {
	ID           string             `json:"id"`
	ContractID   string             `json:"contract_id"`
	Status       string             `json:"status"`
	Phase        string             `json:"phase,omitempty"`
	Progress     *pipeline.Progress `json:"progress,omitempty"`
	Result       *reviewResult      `json:"result"`
	ErrorMessage *string            `json:"error_message"`
	DownloadURL  string             `json:"download_url,omitempty"`
	ReportURL    string             `json:"report_url,omitempty"`
	PollURL      string             `json:"poll_url,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	CompletedAt  *time.Time         `json:"completed_at"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonError(w, artifacts.TooLarge(s.cfg.MaxUploadBytes).Error(), http.StatusBadRequest)
			return
		}
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		jsonError(w, "文件名不能为空", http.StatusBadRequest)
		return
	}
	filename := sanitizeFilename(header.Filename)

	// Read file data.
	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if err := artifacts.ValidateUpload(filename, int64(len(data)), s.cfg.MaxUploadBytes); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := s.deps.Service.Parse(data)
	if err != nil {
		var unreadable *ooxml.UnreadableDocumentError
		var malformed *ooxml.MalformedStructureError
		if errors.As(err, &unreadable) || errors.As(err, &malformed) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error("parse upload failed", "filename", filename, "error", err)
		jsonError(w, "failed to parse document", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID := r.FormValue("user_id")
	if userID == "" {
		userID = store.DefaultUserID
	}
	hash := review.ContentHash(data)
	var duplicateOf string
	if ids, err := s.deps.Store.FindByHash(ctx, userID, hash); err != nil {
		s.log.Warn("dedup check failed, proceeding", "error", err)
	} else if len(ids) > 0 {
		duplicateOf = ids[0]
	}

	path, err := s.deps.Files.SaveUpload(filename, data)
	if err != nil {
		s.log.Error("save upload failed", "error", err)
		jsonError(w, "failed to save file", http.StatusInternalServerError)
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	c := &store.Contract{
		ID:               uuid.NewString(),
		UserID:           userID,
		Title:            title,
		OriginalFilename: filename,
		FilePath:         path,
		ContentText:      doc.FullText,
		ContentHash:      hash,
		Status:           store.ContractPending,
		Source:           store.SourceUpload,
	}
	if err := s.deps.Store.CreateContract(ctx, c); err != nil {
		s.log.Error("create contract failed", "error", err)
		_ = s.deps.Files.RemoveUpload(path)
		jsonError(w, "failed to record contract", http.StatusInternalServerError)
		return
	}
	s.log.Info("contract uploaded", "contract_id", c.ID, "filename", filename, "paragraphs", len(doc.Paragraphs), "duplicate_of", duplicateOf)

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:     true,
		Message:     "文件上传成功",
		ContractID:  c.ID,
		DuplicateOf: duplicateOf,
	})
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contractID := chi.URLParam(r, "contractID")
	c, err := s.deps.Store.GetContract(ctx, contractID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "合同不存在", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("load contract failed", "contract_id", contractID, "error", err)
		jsonError(w, "failed to load contract", http.StatusInternalServerError)
		return
	}

	rec := &store.Review{
		ID:         uuid.NewString(),
		ContractID: c.ID,
		UserID:     c.UserID,
		Status:     store.ReviewProcessing,
	}
	if err := s.deps.Store.CreateReview(ctx, rec); err != nil {
		s.log.Error("create review failed", "contract_id", c.ID, "error", err)
		jsonError(w, "failed to create review", http.StatusInternalServerError)
		return
	}
	if err := s.deps.Store.UpdateContractStatus(ctx, c.ID, store.ContractReviewing); err != nil {
		s.log.Warn("contract status update failed", "contract_id", c.ID, "error", err)
	}

	job := pipeline.NewJob(rec.ID, c.ID, c.UserID, c.FilePath, c.Title)
	if err := s.deps.Orchestrator.Submit(job); err != nil {
		rec.Status = store.ReviewFailed
		rec.ErrorMessage = err.Error()
		if uerr := s.deps.Store.UpdateReview(ctx, rec); uerr != nil {
			s.log.Error("mark review failed", "review_id", rec.ID, "error", uerr)
		}
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, reviewResponse{
		ID:         rec.ID,
		ContractID: c.ID,
		Status:     rec.Status,
		PollURL:    fmt.Sprintf("/api/reviews/%s", rec.ID),
		CreatedAt:  rec.CreatedAt,
	})
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	resp := reviewResponse{
		ID:          rec.ID,
		ContractID:  rec.ContractID,
		Status:      rec.Status,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
	}
	switch rec.Status {
	case store.ReviewCompleted:
		resp.Result = &reviewResult{
			Issues:      rec.Issues,
			Summary:     rec.Summary,
			TotalIssues: len(rec.Issues),
			High:        rec.HighRiskCount,
			Medium:      rec.MediumRiskCount,
			Low:         rec.LowRiskCount,
		}
		resp.DownloadURL = fmt.Sprintf("/api/reviews/%s/download", rec.ID)
		resp.ReportURL = fmt.Sprintf("/api/reviews/%s/report", rec.ID)
	case store.ReviewFailed:
		msg := rec.ErrorMessage
		resp.ErrorMessage = &msg
	}
	if job := s.deps.Orchestrator.GetJob(rec.ID); job != nil {
		snap := job.Snapshot()
		resp.Phase = snap.Phase
		resp.Progress = &snap.Progress
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.completedReview(w, r)
	if !ok {
		return
	}
	if rec.ReviewedFilePath == "" {
		jsonError(w, "文件不存在", http.StatusNotFound)
		return
	}
	name := filepath.Base(rec.ReviewedFilePath)
	if s.serveFile(w, r, rec.ReviewedFilePath, name, docxContentType) {
		return
	}
	if s.redirectToMirror(w, r, rec.ContractID, name) {
		return
	}
	jsonError(w, "文件不存在", http.StatusNotFound)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.completedReview(w, r)
	if !ok {
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "txt", "text":
		if rec.ReportPath == "" {
			jsonError(w, "报告不存在", http.StatusNotFound)
			return
		}
		if s.serveFile(w, r, rec.ReportPath, pipeline.ReportName, "text/plain; charset=utf-8") {
			return
		}
		if s.redirectToMirror(w, r, rec.ContractID, pipeline.ReportName) {
			return
		}
		jsonError(w, "报告不存在", http.StatusNotFound)
	case "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		io.WriteString(w, report.Markdown(rec.Issues, rec.Summary))
	case "html":
		html, err := report.HTML(rec.Issues, rec.Summary)
		if err != nil {
			s.log.Error("render report failed", "review_id", rec.ID, "error", err)
			jsonError(w, "failed to render report", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, html)
	default:
		jsonError(w, fmt.Sprintf("unsupported format: %s", format), http.StatusBadRequest)
	}
}

// loadReview fetches the review named in the URL, writing a 404 or 500
// response when it cannot.
func (s *Server) loadReview(w http.ResponseWriter, r *http.Request) (*store.Review, bool) {
	id := chi.URLParam(r, "reviewID")
	rec, err := s.deps.Store.GetReview(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "审查记录不存在", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.log.Error("load review failed", "review_id", id, "error", err)
		jsonError(w, "failed to load review", http.StatusInternalServerError)
		return nil, false
	}
	return rec, true
}

func (s *Server) completedReview(w http.ResponseWriter, r *http.Request) (*store.Review, bool) {
	rec, ok := s.loadReview(w, r)
	if !ok {
		return nil, false
	}
	if rec.Status != store.ReviewCompleted {
		jsonError(w, "审查尚未完成", http.StatusBadRequest)
		return nil, false
	}
	return rec, true
}

// serveFile streams path as an attachment. It returns false, writing
// nothing, when the file cannot be opened.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path, name, contentType string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
	return true
}

func (s *Server) redirectToMirror(w http.ResponseWriter, r *http.Request, contractID, name string) bool {
	if s.deps.Mirror == nil {
		return false
	}
	url, err := s.deps.Mirror.Presign(r.Context(), contractID, name)
	if err != nil {
		s.log.Warn("presign failed", "contract_id", contractID, "name", name, "error", err)
		return false
	}
	http.Redirect(w, r, url, http.StatusFound)
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
