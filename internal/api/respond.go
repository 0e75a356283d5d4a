package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/postproc"
	"github.com/seantiz/qexec/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 4 << 20 // 4 MB
)

// Error kinds reported in error responses.
const (
	kindInvalidRequest      = "invalid_request"
	kindNotFound            = "not_found"
	kindNoCapableBackend    = "no_capable_backend"
	kindInsufficientSamples = "insufficient_samples"
	kindFailedExecution     = "failed_execution"
	kindTaskFinished        = "task_finished"
	kindTaskPending         = "task_pending"
	kindUnavailable         = "unavailable"
	kindTimeout             = "timeout_exceeded"
	kindInternal            = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response and tags the request metrics with
// its kind.
func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	if ks, ok := w.(errorKindSetter); ok {
		ks.setErrorKind(kind)
	}
	s.writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// writeErr maps err onto a status code and error kind. Unclassified errors
// are logged and reported as internal without their text.
func (s *Server) writeErr(w http.ResponseWriter, op string, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op, "error", err)
		s.writeError(w, status, kind, op+" failed")
		return
	}
	s.writeError(w, status, kind, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, circuit.ErrInvalidCircuit),
		errors.Is(err, engine.ErrInvalidTask),
		errors.Is(err, postproc.ErrInvalidParams):
		return http.StatusBadRequest, kindInvalidRequest
	case errors.Is(err, backend.ErrNoCapableBackend):
		return http.StatusUnprocessableEntity, kindNoCapableBackend
	case errors.Is(err, postproc.ErrInsufficientSamples):
		return http.StatusUnprocessableEntity, kindInsufficientSamples
	case errors.Is(err, postproc.ErrFailedExecution):
		return http.StatusUnprocessableEntity, kindFailedExecution
	case errors.Is(err, engine.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, backend.ErrBackendNotFound):
		return http.StatusNotFound, kindNotFound
	case errors.Is(err, engine.ErrTaskFinished):
		return http.StatusConflict, kindTaskFinished
	case errors.Is(err, engine.ErrExecutorClosed):
		return http.StatusServiceUnavailable, kindUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, kindTimeout
	}
	return http.StatusInternalServerError, kindInternal
}

// decodeBody decodes a size-limited JSON request body into v, writing a 400
// response on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// page reads limit and offset query parameters.
func page(r *http.Request) (limit, offset int) {
	limit = parseIntQuery(r, "limit", defaultListLimit)
	offset = parseIntQuery(r, "offset", 0)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	return limit, max(offset, 0)
}

// wantWait reports whether the caller asked to block until completion.
func wantWait(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return v
}
