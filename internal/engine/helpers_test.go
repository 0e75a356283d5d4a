package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/balancer"
	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeAdapter is a scriptable backend. When release is set, Execute waits
// for it to close; honorCtx lets it return early on cancellation.
type fakeAdapter struct {
	caps     backend.Capabilities
	release  chan struct{}
	honorCtx bool
	fail     func(call int, spec circuit.Spec) error

	calls   atomic.Int32
	started chan struct{}
	ctxSeen atomic.Bool
}

func newFake(name string) *fakeAdapter {
	return &fakeAdapter{
		caps: backend.Capabilities{
			Name:           name,
			MaxQubits:      16,
			Latency:        backend.LatencyLow,
			ConcurrentSafe: true,
		},
		started: make(chan struct{}, 1024),
	}
}

// blocking makes Execute wait until the test releases it. The release
// channel is closed at cleanup so no goroutine outlives the test.
func (f *fakeAdapter) blocking(t *testing.T) *fakeAdapter {
	t.Helper()
	f.release = make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(f.release) }) })
	return f
}

func (f *fakeAdapter) Capabilities() backend.Capabilities { return f.caps }

func (f *fakeAdapter) Execute(ctx context.Context, spec circuit.Spec, shots int) (backend.Result, error) {
	n := int(f.calls.Add(1))
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.release != nil {
		if f.honorCtx {
			select {
			case <-f.release:
			case <-ctx.Done():
				f.ctxSeen.Store(true)
				return backend.Result{}, ctx.Err()
			}
		} else {
			<-f.release
		}
	}
	if f.fail != nil {
		if err := f.fail(n, spec); err != nil {
			return backend.Result{}, err
		}
	}
	return backend.Result{Counts: map[string]int{"0": shots}, Shots: shots}, nil
}

func (f *fakeAdapter) Liveness(context.Context) bool { return true }

func (f *fakeAdapter) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatal("adapter was never called")
	}
}

// pingRunner wraps a runner whose heartbeat can be switched off.
type pingRunner struct {
	worker.Runner
	dead atomic.Bool
}

func (p *pingRunner) Ping(ctx context.Context) error {
	if p.dead.Load() {
		return errors.New("no heartbeat")
	}
	return p.Runner.Ping(ctx)
}

// memRecorder collects recorded tasks.
type memRecorder struct {
	mu    sync.Mutex
	tasks []model.Task
}

func (m *memRecorder) RecordTask(_ context.Context, t model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, t)
	return nil
}

func (m *memRecorder) recorded() []model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Task(nil), m.tasks...)
}

func newRegistry(t *testing.T, adapters map[string]backend.Adapter) *backend.Registry {
	t.Helper()
	reg := backend.NewRegistry(discardLogger())
	for id, a := range adapters {
		if err := reg.Register(id, a); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}
	return reg
}

func threadRunners(reg *backend.Registry, n int) []worker.Runner {
	out := make([]worker.Runner, n)
	for i := range out {
		out[i] = worker.NewThreadRunner(reg)
	}
	return out
}

type execConfig struct {
	runners  []worker.Runner
	strategy balancer.Strategy
	recorder engine.Recorder
	opts     engine.Options
}

func startExecutor(t *testing.T, reg *backend.Registry, cfg execConfig) *engine.Executor {
	t.Helper()
	if cfg.runners == nil {
		cfg.runners = threadRunners(reg, 1)
	}
	e, err := engine.New(reg, cfg.runners, cfg.strategy, cfg.recorder, discardLogger(), cfg.opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Start(context.Background())
	t.Cleanup(func() { e.Close() })
	return e
}

func oneQubit() circuit.Spec {
	return circuit.NewBuilder(1).H(0).Spec()
}

func wait(t *testing.T, h *engine.Handle) engine.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait(%s): %v", h.ID(), err)
	}
	return out
}

func submit(t *testing.T, e *engine.Executor, spec engine.TaskSpec) *engine.Handle {
	t.Helper()
	h, err := e.Submit(context.Background(), spec)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func intPtr(v int) *int { return &v }
