package api

import (
	"net/http"

	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/model"
)

// submitBatchRequest is the JSON body for POST /v1/batches.
type submitBatchRequest struct {
	Circuits []circuit.Spec `json:"circuits"`
	Settings taskSettings   `json:"settings"`
	Mode     string         `json:"mode"`
}

type outcomeResponse struct {
	TaskID   string                 `json:"task_id"`
	Status   string                 `json:"status"`
	Attempts int                    `json:"attempts"`
	Error    string                 `json:"error,omitempty"`
	Result   *model.ExecutionResult `json:"result,omitempty"`
}

type batchResponse struct {
	BatchID  string            `json:"batch_id"`
	Mode     string            `json:"mode"`
	TaskIDs  []string          `json:"task_ids"`
	Failed   *bool             `json:"failed,omitempty"`
	Outcomes []outcomeResponse `json:"outcomes,omitempty"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = engine.BatchFailFast
	}
	if req.Settings.TimeoutMS < 0 {
		s.writeError(w, http.StatusBadRequest, kindInvalidRequest, "timeout_ms must not be negative")
		return
	}

	h, err := s.exec.SubmitBatch(r.Context(), engine.BatchSpec{
		Circuits: req.Circuits,
		Settings: req.Settings.spec(circuit.Spec{}),
		Mode:     req.Mode,
	})
	if err != nil {
		s.writeErr(w, "submit batch", err)
		return
	}

	resp := batchResponse{BatchID: h.ID(), Mode: req.Mode}
	for _, th := range h.Tasks {
		resp.TaskIDs = append(resp.TaskIDs, th.ID())
	}
	if !wantWait(r) {
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}

	out, err := h.Wait(r.Context())
	if err != nil {
		s.writeErr(w, "wait for batch", err)
		return
	}
	resp.Failed = &out.Failed
	for _, o := range out.Outcomes {
		or := outcomeResponse{TaskID: o.TaskID, Status: o.Status, Attempts: o.Attempts, Result: o.Result}
		if o.Err != nil {
			or.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, or)
	}
	s.writeJSON(w, http.StatusOK, resp)
}
