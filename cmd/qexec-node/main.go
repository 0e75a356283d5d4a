// Command qexec-node is a cluster worker node. It consumes jobs addressed to
// QEXEC_NODE_ID from Redis and serves the standard gRPC health service so
// orchestrators can watch it.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/seantiz/qexec/internal/backend/setup"
	"github.com/seantiz/qexec/internal/config"
	"github.com/seantiz/qexec/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	if cfg.NodeID == "" {
		log.Fatal("qexec-node: QEXEC_NODE_ID is required")
	}

	backends, err := config.LoadBackends(cfg.BackendsFile)
	if err != nil {
		log.Fatalf("qexec-node: %v", err)
	}
	reg, cleanup, err := setup.Build(backends, logger)
	if err != nil {
		log.Fatalf("qexec-node: build backends: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	lis, err := net.Listen("tcp", cfg.NodeGRPCAddr)
	if err != nil {
		log.Fatalf("qexec-node: listen %s: %v", cfg.NodeGRPCAddr, err)
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc health server", "error", err)
		}
	}()
	defer srv.GracefulStop()

	logger.Info("qexec-node: starting",
		"node_id", cfg.NodeID,
		"redis_addr", cfg.RedisAddr,
		"grpc_addr", cfg.NodeGRPCAddr,
	)

	// Beat several times per executor heartbeat so one lost write is not fatal.
	node := worker.NewNode(rdb, reg, worker.NodeConfig{
		ID:                cfg.NodeID,
		HeartbeatInterval: cfg.HeartbeatInterval / 3,
		Logger:            logger,
	})
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	err = node.Serve(ctx)
	hs.Shutdown()
	if err != nil {
		logger.Error("node stopped", "error", err)
	}
}
