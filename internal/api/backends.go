package api

import (
	"net/http"

	"github.com/seantiz/qexec/internal/backend"
)

// selectRequest is the JSON body for POST /v1/backends/select.
type selectRequest struct {
	Requirements backend.Requirements `json:"requirements"`
	Policy       backend.Policy       `json:"policy"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleSelectBackend(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	switch req.Policy.Kind {
	case "", backend.PolicyAutoBestFit, backend.PolicyExplicit, backend.PolicyAutoWithFallback:
	default:
		s.writeError(w, http.StatusBadRequest, kindInvalidRequest, "unknown policy "+string(req.Policy.Kind))
		return
	}

	desc, err := s.registry.Select(req.Requirements, req.Policy)
	if err != nil {
		s.writeErr(w, "select backend", err)
		return
	}
	s.writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleProbeBackends(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.ProbeHealth(r.Context()))
}
