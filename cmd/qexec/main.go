package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/seantiz/qexec/internal/api"
	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/backend/setup"
	"github.com/seantiz/qexec/internal/balancer"
	"github.com/seantiz/qexec/internal/config"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/postproc"
	"github.com/seantiz/qexec/internal/store"
	"github.com/seantiz/qexec/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("qexec: starting",
		"listen_addr", cfg.ListenAddr,
		"db_driver", cfg.DBDriver,
		"runtime", cfg.Runtime,
		"balancer", cfg.Balancer,
	)

	if err := run(cfg, logger); err != nil {
		log.Fatalf("qexec: %v", err)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := config.LoadBackends(cfg.BackendsFile)
	if err != nil {
		return err
	}
	reg, closeBackends, err := setup.Build(backends, logger)
	if err != nil {
		return fmt.Errorf("build backends: %w", err)
	}
	defer closeBackends()
	reg.SetProbeTimeout(cfg.ProbeTimeout)
	go reg.Run(ctx, cfg.HealthProbeInterval)

	db, err := store.Open(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var recorder store.Recorder = db
	if cfg.ArchiveBucket != "" {
		client, err := store.NewS3Client(ctx)
		if err != nil {
			return err
		}
		recorder = store.Tee(db, store.NewS3Archiver(client, cfg.ArchiveBucket, cfg.ArchivePrefix))
		logger.Info("archiving task results", "bucket", cfg.ArchiveBucket, "prefix", cfg.ArchivePrefix)
	}

	runners, closeRunners, err := newRunners(cfg, reg, logger)
	if err != nil {
		return err
	}
	defer closeRunners()

	strategy, err := balancer.New(cfg.Balancer)
	if err != nil {
		return err
	}

	exec, err := engine.New(reg, runners, strategy, recorder, logger, engine.Options{
		WorkerCapacity:    cfg.WorkerCapacity,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ProbeTimeout:      cfg.ProbeTimeout,
	})
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	exec.Start(ctx)
	defer func() {
		if err := exec.Close(); err != nil {
			logger.Error("executor shutdown", "error", err)
		}
	}()

	srv := api.NewServer(cfg.ListenAddr, db, reg, exec, postproc.New(cfg.MinShots), logger)
	return srv.Run(ctx)
}

// newRunners builds the worker pool for the configured runtime. The
// returned cleanup closes shared connections after the executor has closed
// its runners.
func newRunners(cfg config.Config, reg *backend.Registry, logger *slog.Logger) ([]worker.Runner, func(), error) {
	var runners []worker.Runner
	switch cfg.Runtime {
	case config.RuntimeThread:
		for range cfg.Workers {
			runners = append(runners, worker.NewThreadRunner(reg))
		}
		return runners, func() {}, nil

	case config.RuntimeProcess:
		for range cfg.Workers {
			r, err := worker.NewProcessRunner(worker.ProcessConfig{Path: cfg.WorkerBin, Logger: logger})
			if err != nil {
				return nil, nil, err
			}
			runners = append(runners, r)
		}
		return runners, func() {}, nil

	case config.RuntimeCluster:
		if len(cfg.ClusterNodes) == 0 {
			return nil, nil, errors.New("cluster runtime needs at least one node in QEXEC_CLUSTER_NODES")
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		for _, node := range cfg.ClusterNodes {
			runners = append(runners, worker.NewClusterRunner(rdb, node, logger))
		}
		return runners, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("close redis client", "error", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
}
