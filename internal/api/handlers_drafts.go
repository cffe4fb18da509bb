package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dgallion1/docreview/internal/drafting"
	"github.com/dgallion1/docreview/internal/review"
	"github.com/dgallion1/docreview/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type createDraftRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	Requirement string `json:"user_requirement" validate:"max=20000"`
	UserID      string `json:"user_id" validate:"max=100"`
}

type updateDraftRequest struct {
	Title        *string `json:"title" validate:"omitnil,min=1,max=255"`
	FinalContent *string `json:"final_content"`
}

type regenerateRequest struct {
	Requirement string `json:"user_requirement" validate:"max=20000"`
}

type refineRequest struct {
	Feedback string `json:"user_feedback" validate:"required,max=5000"`
}

type generateResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	DraftID string       `json:"draft_id"`
	Draft   *store.Draft `json:"draft,omitempty"`
}

// decodeBody reads a JSON body into v and validates it. An empty body
// leaves v at its zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return false
		}
	}
	if err := validate.Struct(v); err != nil {
		jsonError(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func requestUser(r *http.Request) string {
	if u := r.URL.Query().Get("user_id"); u != "" {
		return u
	}
	return store.DefaultUserID
}

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = requestUser(r)
	}
	d := &store.Draft{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Title:       req.Title,
		Requirement: req.Requirement,
		Status:      store.DraftNew,
	}
	if err := s.deps.Store.CreateDraft(r.Context(), d); err != nil {
		s.log.Error("create draft failed", "error", err)
		jsonError(w, "failed to create draft", http.StatusInternalServerError)
		return
	}
	s.log.Info("draft created", "draft_id", d.ID)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := s.deps.Store.ListDrafts(r.Context(), requestUser(r))
	if err != nil {
		jsonError(w, "failed to list drafts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	var req updateDraftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title != nil {
		d.Title = *req.Title
	}
	if req.FinalContent != nil {
		d.FinalContent = *req.FinalContent
		d.Status = store.DraftEditing
	}
	if !s.saveDraft(w, r, d) {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteDraft(r.Context(), d.ID); err != nil {
		s.log.Error("delete draft failed", "draft_id", d.ID, "error", err)
		jsonError(w, "failed to delete draft", http.StatusInternalServerError)
		return
	}
	if err := s.deps.Files.DeleteDraft(d.ID); err != nil {
		s.log.Warn("delete draft files failed", "draft_id", d.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "草稿已删除"})
}

func (s *Server) handleGenerateDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	if d.Requirement == "" {
		jsonError(w, "请先提供合同需求描述", http.StatusBadRequest)
		return
	}
	s.generate(w, r, d, "合同生成完成")
}

func (s *Server) handleRegenerateDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	var req regenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Requirement != "" {
		d.Requirement = req.Requirement
	}
	if d.Requirement == "" {
		jsonError(w, "请先提供合同需求描述", http.StatusBadRequest)
		return
	}
	d.Version++
	s.generate(w, r, d, "合同重新生成完成")
}

// generate writes the contract for d's requirement. The draft reads as
// generating while the model runs and as failed if it errors.
func (s *Server) generate(w http.ResponseWriter, r *http.Request, d *store.Draft, message string) {
	if s.deps.Drafts == nil {
		jsonError(w, "未配置大模型，无法生成合同", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	log := s.log.With("draft_id", d.ID)

	d.Status = store.DraftGenerating
	d.ErrorMessage = ""
	if !s.saveDraft(w, r, d) {
		return
	}

	start := time.Now()
	out, err := s.deps.Drafts.Generate(ctx, d.Requirement)
	if err != nil {
		log.Error("contract generation failed", "error", err)
		d.Status = store.DraftFailed
		d.ErrorMessage = err.Error()
		if uerr := s.deps.Store.UpdateDraft(ctx, d); uerr != nil {
			log.Error("mark draft failed", "error", uerr)
		}
		jsonError(w, "合同生成失败: "+err.Error(), http.StatusBadGateway)
		return
	}

	d.ContractType = out.ContractType
	d.GeneratedContent = out.Content
	d.FinalContent = out.Content
	d.Status = store.DraftGenerated
	d.Model = out.Model
	if !s.saveDraft(w, r, d) {
		return
	}
	log.Info("contract generated", "contract_type", d.ContractType, "chars", len([]rune(d.Content())), "elapsed", time.Since(start))
	writeJSON(w, http.StatusOK, generateResponse{Success: true, Message: message, DraftID: d.ID, Draft: d})
}

func (s *Server) handleRefineDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	var req refineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	content := d.Content()
	if content == "" {
		jsonError(w, "没有可优化的内容", http.StatusBadRequest)
		return
	}
	if s.deps.Drafts == nil {
		jsonError(w, "未配置大模型，无法优化合同", http.StatusServiceUnavailable)
		return
	}

	refined, err := s.deps.Drafts.Refine(r.Context(), content, req.Feedback)
	if err != nil {
		s.log.Error("contract refinement failed", "draft_id", d.ID, "error", err)
		jsonError(w, "合同优化失败: "+err.Error(), http.StatusBadGateway)
		return
	}
	d.FinalContent = refined
	d.Status = store.DraftGenerated
	if !s.saveDraft(w, r, d) {
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Success: true, Message: "合同优化完成", DraftID: d.ID, Draft: d})
}

func (s *Server) handleDownloadDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	content := d.Content()
	if content == "" {
		jsonError(w, "没有可下载的内容", http.StatusBadRequest)
		return
	}
	data, err := drafting.BuildDocument(d.Title, content)
	if err != nil {
		s.log.Error("build draft document failed", "draft_id", d.ID, "error", err)
		jsonError(w, "failed to build document", http.StatusInternalServerError)
		return
	}
	name := drafting.SafeTitle(d.Title) + ".docx"
	path, err := s.deps.Files.WriteDraft(d.ID, name, data)
	if err != nil {
		s.log.Error("write draft document failed", "draft_id", d.ID, "error", err)
		jsonError(w, "failed to save document", http.StatusInternalServerError)
		return
	}
	d.FilePath = path
	if err := s.deps.Store.UpdateDraft(r.Context(), d); err != nil {
		s.log.Warn("record draft file failed", "draft_id", d.ID, "error", err)
	}
	if !s.serveFile(w, r, path, name, docxContentType) {
		jsonError(w, "文件不存在", http.StatusNotFound)
	}
}

func (s *Server) handleFinalizeDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	if d.Content() == "" {
		jsonError(w, "没有可定稿的内容", http.StatusBadRequest)
		return
	}
	now := time.Now().UTC()
	d.Status = store.DraftFinalized
	d.FinalizedAt = &now
	if !s.saveDraft(w, r, d) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "草稿已定稿",
		"draft_id":     d.ID,
		"finalized_at": now,
	})
}

// handleDraftToReview turns the draft into a pending contract whose
// original is the rendered draft, ready for /api/reviews/{id}/start.
func (s *Server) handleDraftToReview(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDraft(w, r)
	if !ok {
		return
	}
	content := d.Content()
	if content == "" {
		jsonError(w, "没有可转入审查的内容", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	log := s.log.With("draft_id", d.ID)

	data, err := drafting.BuildDocument(d.Title, content)
	if err != nil {
		log.Error("build draft document failed", "error", err)
		jsonError(w, "failed to build document", http.StatusInternalServerError)
		return
	}

	contractID := uuid.NewString()
	path, err := s.deps.Files.WriteFile(contractID, fmt.Sprintf("original_%s.docx", contractID), data)
	if err != nil {
		log.Error("write contract original failed", "error", err)
		jsonError(w, "failed to save document", http.StatusInternalServerError)
		return
	}
	c := &store.Contract{
		ID:               contractID,
		UserID:           d.UserID,
		Title:            d.Title,
		OriginalFilename: drafting.SafeTitle(d.Title) + ".docx",
		FilePath:         path,
		ContentText:      content,
		ContentHash:      review.ContentHash(data),
		Status:           store.ContractPending,
		Source:           store.SourceDraft,
	}
	if err := s.deps.Store.CreateContract(ctx, c); err != nil {
		log.Error("create contract failed", "error", err)
		_ = s.deps.Files.DeleteContract(contractID)
		jsonError(w, "failed to record contract", http.StatusInternalServerError)
		return
	}

	d.Status = store.DraftConverted
	d.ContractID = c.ID
	if !s.saveDraft(w, r, d) {
		return
	}
	log.Info("draft sent to review", "contract_id", c.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "已转入审查流程",
		"draft_id":    d.ID,
		"contract_id": c.ID,
	})
}

// loadDraft fetches the draft named in the URL and checks that it belongs
// to the requesting user.
func (s *Server) loadDraft(w http.ResponseWriter, r *http.Request) (*store.Draft, bool) {
	id := chi.URLParam(r, "draftID")
	d, err := s.deps.Store.GetDraft(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "草稿不存在", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.log.Error("load draft failed", "draft_id", id, "error", err)
		jsonError(w, "failed to load draft", http.StatusInternalServerError)
		return nil, false
	}
	if d.UserID != requestUser(r) {
		jsonError(w, "无权访问此草稿", http.StatusForbidden)
		return nil, false
	}
	return d, true
}

func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request, d *store.Draft) bool {
	if err := s.deps.Store.UpdateDraft(r.Context(), d); err != nil {
		s.log.Error("update draft failed", "draft_id", d.ID, "error", err)
		jsonError(w, "failed to update draft", http.StatusInternalServerError)
		return false
	}
	return true
}
