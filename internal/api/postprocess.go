package api

import (
	"net/http"

	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/postproc"
)

// sampleSource names the samples to post-process: a finished task, or raw
// counts supplied by the caller.
type sampleSource struct {
	TaskID  string         `json:"task_id"`
	Samples map[string]int `json:"raw_samples"`
}

// orderFindingRequest is the JSON body for POST /v1/postprocess/order-finding.
type orderFindingRequest struct {
	sampleSource
	postproc.OrderParams
}

// amplitudeSearchRequest is the JSON body for POST /v1/postprocess/amplitude-search.
// MarkedItems lists the solution indices the oracle accepts.
type amplitudeSearchRequest struct {
	sampleSource
	postproc.SearchParams
	MarkedItems []uint64 `json:"marked_items"`
}

type listAttacksResponse struct {
	Attacks []*model.AttackResult `json:"attacks"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// executionResult resolves src into the result to post-process. It writes
// the error response itself and returns false on failure.
func (s *Server) executionResult(w http.ResponseWriter, r *http.Request, src sampleSource) (model.ExecutionResult, bool) {
	if src.TaskID == "" {
		shots := 0
		for _, n := range src.Samples {
			shots += n
		}
		return model.ExecutionResult{Samples: src.Samples, Shots: shots}, true
	}

	t, err := s.lookupTask(r, src.TaskID)
	if err != nil {
		s.writeErr(w, "get task", err)
		return model.ExecutionResult{}, false
	}
	if !model.IsTerminal(t.Status) {
		s.writeError(w, http.StatusConflict, kindTaskPending, "task "+t.ID+" is still "+t.Status)
		return model.ExecutionResult{}, false
	}
	if t.Result == nil {
		msg := t.Error
		if msg == "" {
			msg = "task ended " + t.Status
		}
		return model.ExecutionResult{TaskID: t.ID, Error: msg}, true
	}
	return *t.Result, true
}

func (s *Server) handleOrderFinding(w http.ResponseWriter, r *http.Request) {
	var req orderFindingRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	res, ok := s.executionResult(w, r, req.sampleSource)
	if !ok {
		return
	}
	params := req.OrderParams
	s.process(w, r, res, postproc.Request{Order: &params})
}

func (s *Server) handleAmplitudeSearch(w http.ResponseWriter, r *http.Request) {
	var req amplitudeSearchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.MarkedItems) == 0 {
		s.writeError(w, http.StatusBadRequest, kindInvalidRequest, "marked_items is required")
		return
	}
	res, ok := s.executionResult(w, r, req.sampleSource)
	if !ok {
		return
	}

	marked := make(map[uint64]bool, len(req.MarkedItems))
	for _, m := range req.MarkedItems {
		marked[m] = true
	}
	params := req.SearchParams
	params.Oracle = func(v uint64) bool { return marked[v] }
	s.process(w, r, res, postproc.Request{Search: &params})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, res model.ExecutionResult, req postproc.Request) {
	out, err := s.post.Process(res, req)
	if err != nil {
		s.writeErr(w, "post-process", err)
		return
	}
	if s.store != nil {
		if err := s.store.RecordAttack(r.Context(), out); err != nil {
			s.logger.Error("record attack result", "task_id", out.TaskID, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListAttacks(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, kindNotFound, "no attack history configured")
		return
	}
	limit, offset := page(r)
	attacks, total, err := s.store.ListAttacks(r.Context(), limit, offset)
	if err != nil {
		s.writeErr(w, "list attacks", err)
		return
	}
	if attacks == nil {
		attacks = []*model.AttackResult{}
	}
	s.writeJSON(w, http.StatusOK, listAttacksResponse{Attacks: attacks, Total: total, Limit: limit, Offset: offset})
}
