package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

var allEnv = []string{
	envListenAddr, envDBDriver, envDBPath, envLogLevel, envBackendsFile, envRuntime,
	envWorkers, envWorkerCapacity, envBalancer, envHeartbeatInterval, envProbeTimeout,
	envHealthProbeInterval, envRedisAddr, envClusterNodes, envWorkerBin, envMinShots,
	envArchiveBucket, envArchivePrefix, envNodeID, envNodeGRPCAddr,
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allEnv {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBDriver != "sqlite" || cfg.DBPath != defaultDBPath {
		t.Errorf("DB = %q %q, want sqlite %q", cfg.DBDriver, cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.Runtime != RuntimeThread || cfg.Workers != 4 || cfg.WorkerCapacity != 4 {
		t.Errorf("runtime = %q workers = %d capacity = %d", cfg.Runtime, cfg.Workers, cfg.WorkerCapacity)
	}
	if cfg.Balancer != "least-loaded" {
		t.Errorf("Balancer = %q", cfg.Balancer)
	}
	if cfg.HeartbeatInterval != time.Minute || cfg.ProbeTimeout != 5*time.Second || cfg.HealthProbeInterval != 30*time.Second {
		t.Errorf("intervals = %v %v %v", cfg.HeartbeatInterval, cfg.ProbeTimeout, cfg.HealthProbeInterval)
	}
	if cfg.MinShots != 64 {
		t.Errorf("MinShots = %d, want 64", cfg.MinShots)
	}
	if cfg.ClusterNodes != nil || cfg.BackendsFile != "" || cfg.ArchiveBucket != "" {
		t.Errorf("optional settings should be empty: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9091")
	t.Setenv(envDBDriver, "Postgres")
	t.Setenv(envDBPath, "postgres://localhost/qexec")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envRuntime, "cluster")
	t.Setenv(envWorkers, "8")
	t.Setenv(envHeartbeatInterval, "15s")
	t.Setenv(envClusterNodes, "node-a, node-b,,node-c ")
	t.Setenv(envMinShots, "128")
	t.Setenv(envArchiveBucket, "results")

	cfg := Load()

	if cfg.ListenAddr != ":9091" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9091")
	}
	if cfg.DBDriver != "postgres" || cfg.DBPath != "postgres://localhost/qexec" {
		t.Errorf("DB = %q %q", cfg.DBDriver, cfg.DBPath)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.Runtime != RuntimeCluster || cfg.Workers != 8 || cfg.HeartbeatInterval != 15*time.Second {
		t.Errorf("runtime = %q workers = %d heartbeat = %v", cfg.Runtime, cfg.Workers, cfg.HeartbeatInterval)
	}
	if !slices.Equal(cfg.ClusterNodes, []string{"node-a", "node-b", "node-c"}) {
		t.Errorf("ClusterNodes = %v", cfg.ClusterNodes)
	}
	if cfg.MinShots != 128 || cfg.ArchiveBucket != "results" {
		t.Errorf("MinShots = %d ArchiveBucket = %q", cfg.MinShots, cfg.ArchiveBucket)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv(envWorkers, "many")
	t.Setenv(envWorkerCapacity, "-2")
	t.Setenv(envProbeTimeout, "soon")

	cfg := Load()

	if cfg.Workers != defaultWorkers || cfg.WorkerCapacity != defaultWorkerCapacity {
		t.Errorf("workers = %d capacity = %d, want defaults", cfg.Workers, cfg.WorkerCapacity)
	}
	if cfg.ProbeTimeout != defaultProbeTimeout {
		t.Errorf("ProbeTimeout = %v, want default", cfg.ProbeTimeout)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("task completed", "task_id", "01J")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if entry["msg"] != "task completed" || entry["task_id"] != "01J" {
		t.Errorf("entry = %v", entry)
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug record written at info level")
	}
}

func TestParseBackends(t *testing.T) {
	data := []byte(`[
		{"id": "sim", "kind": "statevector", "latency": "low", "seed": 7},
		{"id": "cloud", "kind": "remote", "endpoint": "https://qpu.example", "format": "quil",
		 "token_env": "CLOUD_TOKEN", "poll_interval": "250ms", "max_qubits": 32}
	]`)
	cfgs, err := ParseBackends(data)
	if err != nil {
		t.Fatalf("ParseBackends: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("got %d backends, want 2", len(cfgs))
	}
	if cfgs[0].Kind != KindStateVector || cfgs[0].Seed != 7 {
		t.Errorf("cfgs[0] = %+v", cfgs[0])
	}
	if cfgs[1].TokenEnv != "CLOUD_TOKEN" || time.Duration(cfgs[1].PollInterval) != 250*time.Millisecond {
		t.Errorf("cfgs[1] = %+v", cfgs[1])
	}
}

func TestParseBackendsRejects(t *testing.T) {
	tests := map[string]string{
		"not json":        `{`,
		"empty":           `[]`,
		"missing id":      `[{"kind": "statevector"}]`,
		"duplicate":       `[{"id": "a", "kind": "statevector"}, {"id": "a", "kind": "statevector"}]`,
		"unknown kind":    `[{"id": "a", "kind": "annealer"}]`,
		"remote endpoint": `[{"id": "a", "kind": "remote"}]`,
		"bad duration":    `[{"id": "a", "kind": "statevector", "poll_interval": 5}]`,
	}
	for name, data := range tests {
		if _, err := ParseBackends([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadBackends(t *testing.T) {
	cfgs, err := LoadBackends("")
	if err != nil || len(cfgs) != 1 || cfgs[0].Kind != KindStateVector {
		t.Fatalf("LoadBackends(\"\") = %+v, %v", cfgs, err)
	}

	path := filepath.Join(t.TempDir(), "backends.json")
	if err := os.WriteFile(path, []byte(`[{"id": "x", "kind": "statevector"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgs, err = LoadBackends(path)
	if err != nil || cfgs[0].ID != "x" {
		t.Fatalf("LoadBackends(file) = %+v, %v", cfgs, err)
	}

	if _, err := LoadBackends(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
