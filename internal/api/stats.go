package api

import (
	"net/http"

	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/store"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Executor engine.Stats     `json:"executor"`
	History  *store.TaskStats `json:"history,omitempty"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	execStats, err := s.exec.Stats(r.Context())
	if err != nil {
		s.writeErr(w, "get executor stats", err)
		return
	}
	resp := statsResponse{Executor: execStats}
	if s.store != nil {
		hist, err := s.store.GetTaskStats(r.Context())
		if err != nil {
			s.writeErr(w, "get task stats", err)
			return
		}
		resp.History = hist
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.exec.Workers(r.Context())
	if err != nil {
		s.writeErr(w, "list workers", err)
		return
	}
	s.writeJSON(w, http.StatusOK, workers)
}
