package api

import (
	"net/http"

	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/optimizer"
)

// optimizeRequest is the JSON body for POST /v1/circuits/optimize.
type optimizeRequest struct {
	Circuit circuit.Spec `json:"circuit"`
	Level   int          `json:"level"`
}

type optimizeResponse struct {
	Circuit circuit.Spec        `json:"circuit"`
	Level   int                 `json:"level"`
	Before  optimizer.Resources `json:"before"`
	After   optimizer.Resources `json:"after"`
}

// estimateRequest is the JSON body for POST /v1/circuits/estimate.
type estimateRequest struct {
	Circuit circuit.Spec `json:"circuit"`
	Shots   int          `json:"shot_count"`
}

type estimateResponse struct {
	optimizer.Resources
	Shots       int   `json:"shot_count"`
	TotalWallNS int64 `json:"total_wall_time_ns"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := req.Circuit.Validate(); err != nil {
		s.writeErr(w, "optimize circuit", err)
		return
	}
	if req.Level < optimizer.Level0 || req.Level > optimizer.MaxLevel {
		s.writeError(w, http.StatusBadRequest, kindInvalidRequest, "level must be between 0 and 3")
		return
	}

	out, err := optimizer.Optimize(req.Circuit, req.Level)
	if err != nil {
		s.writeErr(w, "optimize circuit", err)
		return
	}
	s.writeJSON(w, http.StatusOK, optimizeResponse{
		Circuit: out,
		Level:   req.Level,
		Before:  optimizer.EstimateResources(req.Circuit),
		After:   optimizer.EstimateResources(out),
	})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := req.Circuit.Validate(); err != nil {
		s.writeErr(w, "estimate circuit", err)
		return
	}
	shots := max(req.Shots, 1)
	res := optimizer.EstimateResources(req.Circuit)
	s.writeJSON(w, http.StatusOK, estimateResponse{
		Resources:   res,
		Shots:       shots,
		TotalWallNS: res.TotalWallTime(shots).Nanoseconds(),
	})
}
