package local_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/backend/local"
	"github.com/seantiz/qexec/internal/circuit"
)

func TestExecuteBellPair(t *testing.T) {
	b := local.New(local.Config{Seed: 11})
	res, err := b.Execute(context.Background(), circuit.NewBuilder(2).H(0).CX(0, 1).Spec(), 1000)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Shots != 1000 {
		t.Errorf("shots = %d, want 1000", res.Shots)
	}
	if res.Counts["00"]+res.Counts["11"] != 1000 {
		t.Errorf("counts = %v, want only 00 and 11", res.Counts)
	}
	if res.Counts["00"] < 400 || res.Counts["11"] < 400 {
		t.Errorf("counts = %v, want roughly even split", res.Counts)
	}
}

func TestExecuteGrover(t *testing.T) {
	b := local.New(local.Config{Seed: 5, Parallelism: 2})
	res, err := b.Execute(context.Background(), circuit.Grover(4, 6, 3), 512)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Counts["0110"] < 400 {
		t.Errorf("marked count = %d of 512, want > 400", res.Counts["0110"])
	}
}

func TestExecuteRejections(t *testing.T) {
	b := local.New(local.Config{MaxQubits: 3})
	tests := []struct {
		name  string
		spec  circuit.Spec
		shots int
	}{
		{"too wide", circuit.NewBuilder(4).H(0).Spec(), 10},
		{"invalid", circuit.NewBuilder(2).H(5).Spec(), 10},
		{"no shots", circuit.NewBuilder(1).H(0).Spec(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Execute(context.Background(), tt.spec, tt.shots)
			var ee *backend.ExecutionError
			if !errors.As(err, &ee) {
				t.Fatalf("error = %v, want *ExecutionError", err)
			}
			if ee.Retryable {
				t.Error("rejection marked retryable")
			}
		})
	}
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := local.New(local.Config{}).Execute(ctx, circuit.NewBuilder(1).H(0).Spec(), 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestCapabilities(t *testing.T) {
	c := local.New(local.Config{Name: "sim-a", MaxQubits: 99}).Capabilities()
	if c.Name != "sim-a" || !c.ConcurrentSafe || !c.SupportsAbort || c.IsRemote {
		t.Errorf("capabilities = %+v", c)
	}
	if c.MaxQubits != 24 {
		t.Errorf("MaxQubits = %d, want clamp to 24", c.MaxQubits)
	}
	if c.Latency != backend.LatencyLow {
		t.Errorf("latency = %v, want low", c.Latency)
	}
}
