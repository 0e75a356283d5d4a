// Command qexec-worker is the child process of the process runtime. It reads
// framed jobs on stdin, runs them against the configured backends and writes
// framed results to stdout. Logs go to stderr.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/qexec/internal/backend/setup"
	"github.com/seantiz/qexec/internal/config"
	"github.com/seantiz/qexec/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel).With("pid", os.Getpid())

	backends, err := config.LoadBackends(cfg.BackendsFile)
	if err != nil {
		log.Fatalf("qexec-worker: %v", err)
	}
	reg, cleanup, err := setup.Build(backends, logger)
	if err != nil {
		log.Fatalf("qexec-worker: build backends: %v", err)
	}
	defer cleanup()

	// The parent stops the child by closing stdin; signals only cut a job short.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.ServeProcess(ctx, os.Stdin, os.Stdout, reg, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		cleanup()
		os.Exit(1)
	}
}
