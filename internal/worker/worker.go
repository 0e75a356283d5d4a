// Package worker hosts backend adapters on the three worker runtimes the
// executor dispatches to: goroutines in the orchestrator process, child
// processes speaking a framed JSON protocol over stdio, and cluster nodes
// reached through Redis queues. Every runtime implements Runner, so the
// executor treats them identically.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/model"
)

// Job is one execution request handed to a runner.
type Job struct {
	TaskID    string       `json:"task_id"`
	Attempt   int          `json:"attempt"`
	BackendID string       `json:"backend_id"`
	Circuit   circuit.Spec `json:"circuit"`
	Shots     int          `json:"shots"`
	TimeoutMS int64        `json:"timeout_ms,omitempty"`
}

// Runner executes jobs on one worker. A runner processes one job at a time.
type Runner interface {
	ID() string
	Kind() string
	Run(ctx context.Context, job Job) (backend.Result, error)
	// Ping is the heartbeat probe; a nil error means the worker is alive.
	Ping(ctx context.Context) error
	Close() error
}

func newWorkerID(kind string) string {
	return kind + "-" + uuid.NewString()[:8]
}

// ThreadRunner executes jobs in the calling goroutine against an
// in-process registry.
type ThreadRunner struct {
	id  string
	reg *backend.Registry
}

var _ Runner = (*ThreadRunner)(nil)

// NewThreadRunner returns a runner backed by reg.
func NewThreadRunner(reg *backend.Registry) *ThreadRunner {
	return &ThreadRunner{id: newWorkerID(model.RuntimeThread), reg: reg}
}

func (t *ThreadRunner) ID() string   { return t.id }
func (t *ThreadRunner) Kind() string { return model.RuntimeThread }

func (t *ThreadRunner) Run(ctx context.Context, job Job) (backend.Result, error) {
	return execute(ctx, t.reg, job)
}

func (t *ThreadRunner) Ping(_ context.Context) error { return nil }
func (t *ThreadRunner) Close() error                 { return nil }

// execute resolves the job's adapter and runs it. A missing backend is a
// terminal execution error.
func execute(ctx context.Context, reg *backend.Registry, job Job) (backend.Result, error) {
	a, err := reg.Adapter(job.BackendID)
	if err != nil {
		return backend.Result{}, backend.Terminal(job.BackendID, err)
	}
	if job.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	return a.Execute(ctx, job.Circuit, job.Shots)
}

// Message types exchanged with process workers and cluster nodes.
const (
	MsgRun    = "run"
	MsgPing   = "ping"
	MsgResult = "result"
	MsgPong   = "pong"
)

// Error codes carried in a Response.
const (
	codeExecution = "execution"
	codeCancelled = "cancelled"
	codeDeadline  = "deadline"
)

// Request is sent to a process worker or cluster node.
type Request struct {
	Type     string `json:"type"`
	Job      *Job   `json:"job,omitempty"`
	ReplyKey string `json:"reply_key,omitempty"`
}

// Response carries a job outcome back to the orchestrator.
type Response struct {
	Type       string         `json:"type"`
	TaskID     string         `json:"task_id,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Shots      int            `json:"shots,omitempty"`
	DurationNS int64          `json:"duration_ns,omitempty"`
	JobRef     string         `json:"job_ref,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
}

// handleJob runs job and encodes the outcome, errors included.
func handleJob(ctx context.Context, reg *backend.Registry, job Job) Response {
	res, err := execute(ctx, reg, job)
	resp := Response{Type: MsgResult, TaskID: job.TaskID}
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorCode = codeExecution
		resp.Retryable = backend.IsRetryable(err)
		switch {
		case errors.Is(err, context.Canceled):
			resp.ErrorCode = codeCancelled
		case errors.Is(err, context.DeadlineExceeded):
			resp.ErrorCode = codeDeadline
		}
		return resp
	}
	resp.Counts = res.Counts
	resp.Shots = res.Shots
	resp.DurationNS = int64(res.Duration)
	resp.JobRef = res.JobRef
	return resp
}

// decodeResult turns a Response back into the adapter's return values.
func decodeResult(backendID string, resp Response) (backend.Result, error) {
	if resp.Error == "" {
		return backend.Result{
			Counts:   resp.Counts,
			Shots:    resp.Shots,
			Duration: time.Duration(resp.DurationNS),
			JobRef:   resp.JobRef,
		}, nil
	}
	cause := errors.New(resp.Error)
	switch resp.ErrorCode {
	case codeCancelled:
		return backend.Result{}, fmt.Errorf("%s: %w", resp.Error, context.Canceled)
	case codeDeadline:
		return backend.Result{}, fmt.Errorf("%s: %w", resp.Error, context.DeadlineExceeded)
	}
	return backend.Result{}, &backend.ExecutionError{BackendID: backendID, Retryable: resp.Retryable, Err: cause}
}
