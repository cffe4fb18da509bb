package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docreview/internal/store"
)

// handleListContracts lists contracts, newest first, optionally for one user.
func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := s.deps.Store.ListContracts(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		jsonError(w, "failed to list contracts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	for i := range contracts {
		contracts[i].ContentText = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": contracts})
}

// handleGetContract returns one contract with its reviews.
func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContract(w, r)
	if !ok {
		return
	}
	reviews, err := s.deps.Store.ListReviews(r.Context(), c.ID)
	if err != nil {
		jsonError(w, "failed to list reviews: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contract": c,
		"reviews":  reviews,
	})
}

// handleDeleteContract removes the contract rows, its outputs, mirrored
// objects and the original upload.
func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContract(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log := s.log.With("contract_id", c.ID)

	if err := s.deps.Store.DeleteContract(ctx, c.ID); err != nil {
		log.Error("delete contract failed", "error", err)
		jsonError(w, "failed to delete contract", http.StatusInternalServerError)
		return
	}

	filesDeleted := true
	if err := s.deps.Files.DeleteContract(c.ID); err != nil {
		log.Warn("delete outputs failed", "error", err)
		filesDeleted = false
	}
	// Drafted contracts keep their original with the other outputs.
	if c.Source != store.SourceDraft {
		if err := s.deps.Files.RemoveUpload(c.FilePath); err != nil {
			log.Warn("delete upload failed", "error", err)
			filesDeleted = false
		}
	}
	mirrorDeleted := false
	if s.deps.Mirror != nil {
		if err := s.deps.Mirror.Delete(ctx, c.ID); err != nil {
			log.Warn("delete mirrored objects failed", "error", err)
		} else {
			mirrorDeleted = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contract_id":    c.ID,
		"deleted":        true,
		"files_deleted":  filesDeleted,
		"mirror_deleted": mirrorDeleted,
	})
}

func (s *Server) loadContract(w http.ResponseWriter, r *http.Request) (*store.Contract, bool) {
	id := chi.URLParam(r, "contractID")
	c, err := s.deps.Store.GetContract(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "合同不存在", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.log.Error("load contract failed", "contract_id", id, "error", err)
		jsonError(w, "failed to load contract", http.StatusInternalServerError)
		return nil, false
	}
	return c, true
}
