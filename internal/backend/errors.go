package backend

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	ErrNoCapableBackend   = errors.New("no capable backend")
	ErrDuplicateBackendID = errors.New("duplicate backend id")
	ErrBackendNotFound    = errors.New("backend not found")
)

// ExecutionError reports a failed Execute call. Retryable failures are
// transient (network errors, provider throttling) and may succeed on a
// later attempt.
type ExecutionError struct {
	BackendID string
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("backend %s: %s execution error: %v", e.BackendID, kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Retryable wraps err as a retryable execution error.
func Retryable(backendID string, err error) error {
	return &ExecutionError{BackendID: backendID, Retryable: true, Err: err}
}

// Terminal wraps err as a non-retryable execution error.
func Terminal(backendID string, err error) error {
	return &ExecutionError{BackendID: backendID, Err: err}
}

// IsRetryable reports whether err carries a retryable ExecutionError.
func IsRetryable(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Retryable
}
