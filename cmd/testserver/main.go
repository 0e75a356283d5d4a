// testserver starts a qexec API server with stub backends for manual and
// E2E testing: a seeded local simulator, a backend that fails every other
// call with a retryable error, and a slow backend for timeout checks.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/seantiz/qexec/internal/api"
	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/backend/local"
	"github.com/seantiz/qexec/internal/balancer"
	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/postproc"
	"github.com/seantiz/qexec/internal/store"
	"github.com/seantiz/qexec/internal/worker"
)

// stubBackend returns all-zero samples after delay. When flaky is set every
// odd call fails with a retryable error.
type stubBackend struct {
	name    string
	latency backend.LatencyClass
	delay   time.Duration
	flaky   bool
	calls   atomic.Int64
}

func (s *stubBackend) Execute(ctx context.Context, spec circuit.Spec, shots int) (backend.Result, error) {
	n := s.calls.Add(1)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return backend.Result{}, ctx.Err()
	}
	if s.flaky && n%2 == 1 {
		return backend.Result{}, backend.Retryable(s.name, errors.New("simulated provider throttling"))
	}
	return backend.Result{
		Counts:   map[string]int{strings.Repeat("0", spec.ClassicalWidth()): shots},
		Shots:    shots,
		Duration: s.delay,
	}, nil
}

func (s *stubBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:           s.name,
		MaxQubits:      16,
		IsRemote:       true,
		Latency:        s.latency,
		ConcurrentSafe: true,
		SupportsAbort:  true,
	}
}

func (s *stubBackend) Liveness(context.Context) bool { return true }

func main() {
	addr := ":8080"
	if v := os.Getenv("QEXEC_LISTEN_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := backend.NewRegistry(logger)
	for _, a := range []backend.Adapter{
		local.New(local.Config{Name: "sim", Seed: 1, Latency: backend.LatencyLow}),
		&stubBackend{name: "stub-flaky", latency: backend.LatencyMedium, delay: 200 * time.Millisecond, flaky: true},
		&stubBackend{name: "stub-slow", latency: backend.LatencyHigh, delay: 5 * time.Second},
	} {
		if err := reg.Register(a.Capabilities().Name, a); err != nil {
			log.Fatalf("register backend: %v", err)
		}
	}

	runners := make([]worker.Runner, 4)
	for i := range runners {
		runners[i] = worker.NewThreadRunner(reg)
	}
	exec, err := engine.New(reg, runners, balancer.NewLeastLoaded(), db, logger, engine.Options{})
	if err != nil {
		log.Fatalf("create executor: %v", err)
	}
	exec.Start(context.Background())
	defer exec.Close()

	srv := api.NewServer(addr, db, reg, exec, postproc.New(0), logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(context.Background()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
