package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/model"
)

// taskSettings are the per-task execution settings shared by task and
// batch submissions.
type taskSettings struct {
	BackendID         string               `json:"backend_id"`
	Fallback          []string             `json:"fallback"`
	Requirements      backend.Requirements `json:"requirements"`
	Shots             int                  `json:"shot_count"`
	TimeoutMS         int64                `json:"timeout_ms"`
	RetryBudget       *int                 `json:"retry_budget"`
	OptimizationLevel int                  `json:"optimization_level"`
}

func (ts taskSettings) spec(c circuit.Spec) engine.TaskSpec {
	return engine.TaskSpec{
		Circuit:           c,
		BackendID:         ts.BackendID,
		Fallback:          ts.Fallback,
		Requirements:      ts.Requirements,
		Shots:             ts.Shots,
		Timeout:           time.Duration(ts.TimeoutMS) * time.Millisecond,
		RetryBudget:       ts.RetryBudget,
		OptimizationLevel: ts.OptimizationLevel,
	}
}

// submitTaskRequest is the JSON body for POST /v1/tasks.
type submitTaskRequest struct {
	Circuit circuit.Spec `json:"circuit"`
	taskSettings
}

// listTasksResponse wraps the paginated list response.
type listTasksResponse struct {
	Tasks  []*model.Task `json:"tasks"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
	Source string        `json:"source"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.TimeoutMS < 0 {
		s.writeError(w, http.StatusBadRequest, kindInvalidRequest, "timeout_ms must not be negative")
		return
	}

	h, err := s.exec.Submit(r.Context(), req.spec(req.Circuit))
	if err != nil {
		s.writeErr(w, "submit task", err)
		return
	}

	if !wantWait(r) {
		rec, err := h.Task(r.Context())
		if err != nil {
			s.writeErr(w, "get task", err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, rec)
		return
	}

	if _, err := h.Wait(r.Context()); err != nil {
		s.writeErr(w, "wait for task", err)
		return
	}
	rec, err := s.lookupTask(r, h.ID())
	if err != nil {
		s.writeErr(w, "get task", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// lookupTask returns the executor's record of id, falling back to history
// once the task has been evicted from memory.
func (s *Server) lookupTask(r *http.Request, id string) (*model.Task, error) {
	rec, err := s.exec.Task(r.Context(), id)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, engine.ErrTaskNotFound) || s.store == nil {
		return nil, err
	}
	return s.store.GetTask(r.Context(), id)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.lookupTask(r, chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, "get task", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleListTasks lists tasks held by the executor, newest first, or the
// recorded history with ?source=history.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)

	if r.URL.Query().Get("source") == "history" {
		if s.store == nil {
			s.writeError(w, http.StatusNotFound, kindNotFound, "no task history configured")
			return
		}
		tasks, total, err := s.store.ListTasks(r.Context(), limit, offset)
		if err != nil {
			s.writeErr(w, "list tasks", err)
			return
		}
		if tasks == nil {
			tasks = []*model.Task{}
		}
		s.writeJSON(w, http.StatusOK, listTasksResponse{Tasks: tasks, Total: total, Limit: limit, Offset: offset, Source: "history"})
		return
	}

	live, err := s.exec.Tasks(r.Context())
	if err != nil {
		s.writeErr(w, "list tasks", err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		live = slices.DeleteFunc(live, func(t model.Task) bool { return t.Status != status })
	}
	slices.Reverse(live)
	tasks := []*model.Task{}
	for i := offset; i < len(live) && len(tasks) < limit; i++ {
		tasks = append(tasks, &live[i])
	}
	s.writeJSON(w, http.StatusOK, listTasksResponse{Tasks: tasks, Total: len(live), Limit: limit, Offset: offset, Source: "live"})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.exec.Cancel(r.Context(), id); err != nil {
		s.writeErr(w, "cancel task", err)
		return
	}
	rec, err := s.lookupTask(r, id)
	if err != nil {
		s.writeErr(w, "get cancelled task", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Subscribe before reading the status so no transition falls between
	// the two.
	ch, unsub := s.exec.Broker().Subscribe(id)
	defer unsub()

	rec, err := s.lookupTask(r, id)
	if err != nil {
		s.writeErr(w, "get task for events", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	if model.IsTerminal(rec.Status) {
		_ = writeSSEData(w, eventFromTask(rec))
		_ = writeSSEEvent(w, "done", rec.Status)
		if canFlush {
			flusher.Flush()
		}
		return
	}
	if canFlush {
		flusher.Flush()
	}

	last := ""
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", last)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			last = ev.Status
			if err := writeSSEData(w, ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

func eventFromTask(t *model.Task) engine.TaskEvent {
	at := t.CreatedAt
	if t.FinishedAt != nil {
		at = *t.FinishedAt
	}
	return engine.TaskEvent{
		TaskID:    t.ID,
		Status:    t.Status,
		Attempts:  t.Attempts,
		BackendID: t.BackendID,
		WorkerID:  t.WorkerID,
		Error:     t.Error,
		At:        at,
	}
}

// writeSSEData writes ev as a single-line JSON SSE data event.
func writeSSEData(w http.ResponseWriter, ev engine.TaskEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", strings.ReplaceAll(data, "\n", " "))
	return err
}
