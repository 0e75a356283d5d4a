package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/qexec/internal/circuit"
)

// Adapter is the interface that all execution backends must implement.
// Every adapter exposes the same blocking Execute contract so that any
// worker runtime can host any adapter.
type Adapter interface {
	// Capabilities reports the static capabilities of this backend.
	Capabilities() Capabilities

	// Execute runs the circuit for the given number of shots and returns the
	// measured bitstring counts. The context carries the task deadline;
	// adapters that advertise SupportsAbort stop work when it is cancelled.
	Execute(ctx context.Context, spec circuit.Spec, shots int) (Result, error)

	// Liveness reports whether the backend can currently accept work.
	Liveness(ctx context.Context) bool
}

// Result holds the raw samples produced by an adapter.
type Result struct {
	Counts   map[string]int `json:"counts"`
	Shots    int            `json:"shots"`
	Duration time.Duration  `json:"duration_ns"`
	JobRef   string         `json:"job_ref,omitempty"`
}

// LatencyClass orders backends by expected turnaround.
type LatencyClass int

// Latency classes, fastest first.
const (
	LatencyLow LatencyClass = iota + 1
	LatencyMedium
	LatencyHigh
)

func (l LatencyClass) String() string {
	switch l {
	case LatencyLow:
		return "low"
	case LatencyMedium:
		return "medium"
	case LatencyHigh:
		return "high"
	}
	return "unknown"
}

// ParseLatency converts "low", "medium" or "high" into a LatencyClass.
// An empty string means medium.
func ParseLatency(s string) (LatencyClass, error) {
	switch strings.ToLower(s) {
	case "low":
		return LatencyLow, nil
	case "", "medium":
		return LatencyMedium, nil
	case "high":
		return LatencyHigh, nil
	}
	return 0, fmt.Errorf("unknown latency class %q", s)
}

// MarshalText encodes the class by name.
func (l LatencyClass) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a class name.
func (l *LatencyClass) UnmarshalText(b []byte) error {
	v, err := ParseLatency(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Capabilities describes what a backend supports.
type Capabilities struct {
	Name           string       `json:"name"`
	MaxQubits      int          `json:"max_qubits"`
	SupportsGPU    bool         `json:"supports_gpu"`
	SupportsNoise  bool         `json:"supports_noise"`
	IsRemote       bool         `json:"is_remote"`
	Latency        LatencyClass `json:"average_latency_class"`
	ConcurrentSafe bool         `json:"concurrent_safe"`
	SupportsAbort  bool         `json:"supports_abort"`
}

// Requirements constrain which backends may serve a request.
type Requirements struct {
	MinQubits  int  `json:"min_qubits"`
	NeedsGPU   bool `json:"needs_gpu,omitempty"`
	NeedsNoise bool `json:"needs_noise,omitempty"`
	LocalOnly  bool `json:"local_only,omitempty"`
}

// Satisfied reports whether c meets every requirement.
func (r Requirements) Satisfied(c Capabilities) bool {
	return c.MaxQubits >= r.MinQubits &&
		(!r.NeedsGPU || c.SupportsGPU) &&
		(!r.NeedsNoise || c.SupportsNoise) &&
		(!r.LocalOnly || !c.IsRemote)
}

// Health is the probe-derived availability of a backend.
type Health string

// Health states.
const (
	HealthAvailable   Health = "available"
	HealthDegraded    Health = "degraded"
	HealthUnavailable Health = "unavailable"
)

// Descriptor is the registry's view of one backend.
type Descriptor struct {
	ID                  string       `json:"id"`
	Capabilities        Capabilities `json:"capabilities"`
	Health              Health       `json:"health"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastProbe           *time.Time   `json:"last_probe,omitempty"`
	Order               int          `json:"registration_order"`
}
