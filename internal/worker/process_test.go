package worker_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/worker"
)

// TestHelperProcess is the child side of the process runtime tests. It is
// re-executed by newHelperRunner and is a no-op in a normal test run.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if err := worker.ServeProcess(context.Background(), os.Stdin, os.Stdout, testRegistry(), discardLogger()); err != nil {
		os.Exit(2)
	}
	os.Exit(0)
}

func newHelperRunner(t *testing.T) *worker.ProcessRunner {
	t.Helper()
	r, err := worker.NewProcessRunner(worker.ProcessConfig{
		Path:   os.Args[0],
		Args:   []string{"-test.run=^TestHelperProcess$"},
		Env:    append(os.Environ(), "GO_WANT_HELPER_PROCESS=1"),
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewProcessRunner: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestProcessRunnerExecutes(t *testing.T) {
	r := newHelperRunner(t)
	if r.Kind() != model.RuntimeProcess {
		t.Errorf("Kind() = %q", r.Kind())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	res, err := r.Run(ctx, bellJob("p1", "sim"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertBellCounts(t, res, 200)
}

func TestProcessRunnerKillsOnDeadline(t *testing.T) {
	r := newHelperRunner(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := r.Run(ctx, bellJob("p1", "hang"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v after deadline", elapsed)
	}

	// A fresh child serves the next job.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	res, err := r.Run(ctx2, bellJob("p2", "sim"))
	if err != nil {
		t.Fatalf("Run after kill: %v", err)
	}
	assertBellCounts(t, res, 200)
}

func TestProcessRunnerCrashIsRetryable(t *testing.T) {
	r := newHelperRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := r.Run(ctx, bellJob("p1", "crash"))
	if err == nil || !backend.IsRetryable(err) {
		t.Fatalf("Run error = %v, want retryable", err)
	}

	if _, err := r.Run(ctx, bellJob("p2", "sim")); err != nil {
		t.Fatalf("Run after crash: %v", err)
	}
}

func TestProcessRunnerPropagatesErrors(t *testing.T) {
	r := newHelperRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := r.Run(ctx, bellJob("p1", "flaky"))
	if !backend.IsRetryable(err) || !strings.Contains(err.Error(), "throttled") {
		t.Errorf("flaky error = %v, want retryable throttled", err)
	}

	_, err = r.Run(ctx, bellJob("p2", "missing"))
	var ee *backend.ExecutionError
	if !errors.As(err, &ee) || ee.Retryable {
		t.Errorf("missing backend error = %v, want terminal ExecutionError", err)
	}
}

func TestProcessRunnerClosed(t *testing.T) {
	r := newHelperRunner(t)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := r.Run(context.Background(), bellJob("p1", "sim"))
	if !errors.Is(err, worker.ErrRunnerClosed) {
		t.Errorf("Run after Close = %v, want ErrRunnerClosed", err)
	}
}

func TestNewProcessRunnerRequiresPath(t *testing.T) {
	if _, err := worker.NewProcessRunner(worker.ProcessConfig{}); err == nil {
		t.Error("expected error for empty path")
	}
}
