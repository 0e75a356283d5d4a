package api

import (
	"net/http"

	"github.com/seantiz/qexec/internal/backend"
)

type healthResponse struct {
	Status            string `json:"status"`
	Backends          int    `json:"backends"`
	AvailableBackends int    `json:"available_backends"`
	Workers           int    `json:"workers"`
	HealthyWorkers    int    `json:"healthy_workers"`
}

// handleHealthz reports "ok", or "degraded" with 503 when no backend is
// available or no worker is healthy.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	for _, d := range s.registry.List() {
		resp.Backends++
		if d.Health == backend.HealthAvailable {
			resp.AvailableBackends++
		}
	}
	stats, err := s.exec.Stats(r.Context())
	if err != nil {
		s.writeErr(w, "get executor stats", err)
		return
	}
	resp.Workers, resp.HealthyWorkers = stats.Workers, stats.HealthyWorkers

	status := http.StatusOK
	if resp.AvailableBackends == 0 || resp.HealthyWorkers == 0 {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
