package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	ex := s.deps.Service.Extractor()
	if ex == nil || ex.Stats() == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"provider":    ex.Client().Provider(),
		"model":       ex.Client().Model(),
		"queue_depth": s.deps.Orchestrator.QueueDepth(),
		"stats":       ex.Stats().Snapshot(),
	})
}
