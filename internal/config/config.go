package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr          = ":8080"
	defaultDBDriver            = "sqlite"
	defaultDBPath              = "qexec.db"
	defaultRuntime             = "thread"
	defaultWorkers             = 4
	defaultWorkerCapacity      = 4
	defaultBalancer            = "least-loaded"
	defaultHeartbeatInterval   = 60 * time.Second
	defaultProbeTimeout        = 5 * time.Second
	defaultHealthProbeInterval = 30 * time.Second
	defaultRedisAddr           = "localhost:6379"
	defaultWorkerBin           = "qexec-worker"
	defaultMinShots            = 64
	defaultArchivePrefix       = "tasks/"
	defaultNodeGRPCAddr        = ":9090"

	envListenAddr          = "QEXEC_LISTEN_ADDR"
	envDBDriver            = "QEXEC_DB_DRIVER"
	envDBPath              = "QEXEC_DB_PATH"
	envLogLevel            = "QEXEC_LOG_LEVEL"
	envBackendsFile        = "QEXEC_BACKENDS_FILE"
	envRuntime             = "QEXEC_RUNTIME"
	envWorkers             = "QEXEC_WORKERS"
	envWorkerCapacity      = "QEXEC_WORKER_CAPACITY"
	envBalancer            = "QEXEC_BALANCER"
	envHeartbeatInterval   = "QEXEC_HEARTBEAT_INTERVAL"
	envProbeTimeout        = "QEXEC_PROBE_TIMEOUT"
	envHealthProbeInterval = "QEXEC_HEALTH_PROBE_INTERVAL"
	envRedisAddr           = "QEXEC_REDIS_ADDR"
	envClusterNodes        = "QEXEC_CLUSTER_NODES"
	envWorkerBin           = "QEXEC_WORKER_BIN"
	envMinShots            = "QEXEC_MIN_SHOTS"
	envArchiveBucket       = "QEXEC_ARCHIVE_BUCKET"
	envArchivePrefix       = "QEXEC_ARCHIVE_PREFIX"
	envNodeID              = "QEXEC_NODE_ID"
	envNodeGRPCAddr        = "QEXEC_NODE_GRPC_ADDR"
)

// Worker runtimes.
const (
	RuntimeThread  = "thread"
	RuntimeProcess = "process"
	RuntimeCluster = "cluster"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBDriver   string
	DBPath     string
	LogLevel   slog.Level

	// BackendsFile names a JSON backend list. Empty means a single local
	// state-vector simulator.
	BackendsFile string

	Runtime             string
	Workers             int
	WorkerCapacity      int
	Balancer            string
	HeartbeatInterval   time.Duration
	ProbeTimeout        time.Duration
	HealthProbeInterval time.Duration

	RedisAddr    string
	ClusterNodes []string
	WorkerBin    string

	MinShots int

	// ArchiveBucket enables the S3 result archive when set.
	ArchiveBucket string
	ArchivePrefix string

	// Node settings, read by qexec-node.
	NodeID       string
	NodeGRPCAddr string
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numeric and duration values fall back to their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:          defaultListenAddr,
		DBDriver:            defaultDBDriver,
		DBPath:              defaultDBPath,
		LogLevel:            slog.LevelInfo,
		Runtime:             defaultRuntime,
		Workers:             defaultWorkers,
		WorkerCapacity:      defaultWorkerCapacity,
		Balancer:            defaultBalancer,
		HeartbeatInterval:   defaultHeartbeatInterval,
		ProbeTimeout:        defaultProbeTimeout,
		HealthProbeInterval: defaultHealthProbeInterval,
		RedisAddr:           defaultRedisAddr,
		WorkerBin:           defaultWorkerBin,
		MinShots:            defaultMinShots,
		ArchivePrefix:       defaultArchivePrefix,
		NodeGRPCAddr:        defaultNodeGRPCAddr,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBDriver); v != "" {
		cfg.DBDriver = strings.ToLower(v)
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.BackendsFile = os.Getenv(envBackendsFile)
	if v := os.Getenv(envRuntime); v != "" {
		cfg.Runtime = strings.ToLower(v)
	}
	cfg.Workers = envInt(envWorkers, cfg.Workers)
	cfg.WorkerCapacity = envInt(envWorkerCapacity, cfg.WorkerCapacity)
	if v := os.Getenv(envBalancer); v != "" {
		cfg.Balancer = strings.ToLower(v)
	}
	cfg.HeartbeatInterval = envDuration(envHeartbeatInterval, cfg.HeartbeatInterval)
	cfg.ProbeTimeout = envDuration(envProbeTimeout, cfg.ProbeTimeout)
	cfg.HealthProbeInterval = envDuration(envHealthProbeInterval, cfg.HealthProbeInterval)
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.RedisAddr = v
	}
	cfg.ClusterNodes = splitList(os.Getenv(envClusterNodes))
	if v := os.Getenv(envWorkerBin); v != "" {
		cfg.WorkerBin = v
	}
	cfg.MinShots = envInt(envMinShots, cfg.MinShots)
	cfg.ArchiveBucket = os.Getenv(envArchiveBucket)
	if v := os.Getenv(envArchivePrefix); v != "" {
		cfg.ArchivePrefix = v
	}
	cfg.NodeID = os.Getenv(envNodeID)
	if v := os.Getenv(envNodeGRPCAddr); v != "" {
		cfg.NodeGRPCAddr = v
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
