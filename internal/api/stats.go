package api

import (
	"net/http"

	"github.com/seantiz/docpipe/internal/model"
)

// statsResponse is the live pipeline snapshot plus the terminal
// history breakdown.
type statsResponse struct {
	model.StatsSnapshot
	HistoryByStatus map[model.Status]int `json:"history_by_status"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipeline.Stats(r.Context())
	if err != nil {
		s.logger.Error("get pipeline stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		s.logger.Error("count job history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		StatsSnapshot:   snap,
		HistoryByStatus: counts,
	})
}
