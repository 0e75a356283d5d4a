// Package local provides the in-process state-vector simulation backend.
package local

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/sim"
)

// DefaultMaxQubits is the default width limit of the simulator.
const DefaultMaxQubits = 20

// Config holds the simulator's tunables.
type Config struct {
	// Name is reported in Capabilities.
	Name string
	// MaxQubits caps accepted circuit width; at most sim.MaxQubits.
	MaxQubits int
	// ReadoutError is the probability that each measured bit flips.
	ReadoutError float64
	// Seed makes sampling reproducible. Zero seeds from the clock.
	Seed uint64
	// Parallelism is the number of goroutines used for large states.
	// Values above 1 mark the backend as accelerated.
	Parallelism int
	// Latency is the advertised latency class. Zero means low.
	Latency backend.LatencyClass
}

// Backend simulates circuits with a dense state vector.
type Backend struct {
	cfg  Config
	seed uint64
	runs atomic.Uint64
}

var _ backend.Adapter = (*Backend)(nil)

// New creates a simulator backend, applying defaults to cfg.
func New(cfg Config) *Backend {
	if cfg.Name == "" {
		cfg.Name = "statevector"
	}
	if cfg.MaxQubits <= 0 {
		cfg.MaxQubits = DefaultMaxQubits
	}
	cfg.MaxQubits = min(cfg.MaxQubits, sim.MaxQubits)
	if cfg.Latency == 0 {
		cfg.Latency = backend.LatencyLow
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Backend{cfg: cfg, seed: seed}
}

// Capabilities reports the simulator's capabilities.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:           b.cfg.Name,
		MaxQubits:      b.cfg.MaxQubits,
		SupportsGPU:    false,
		SupportsNoise:  true,
		Latency:        b.cfg.Latency,
		ConcurrentSafe: true,
		SupportsAbort:  true,
	}
}

// Execute simulates spec and samples shots measurements. Each call draws
// from its own generator, derived from the seed and a call counter.
func (b *Backend) Execute(ctx context.Context, spec circuit.Spec, shots int) (backend.Result, error) {
	start := time.Now()
	if err := spec.Validate(); err != nil {
		return backend.Result{}, backend.Terminal(b.cfg.Name, err)
	}
	if spec.Qubits > b.cfg.MaxQubits {
		return backend.Result{}, backend.Terminal(b.cfg.Name,
			fmt.Errorf("circuit needs %d qubits, simulator supports %d", spec.Qubits, b.cfg.MaxQubits))
	}
	if shots < 1 {
		return backend.Result{}, backend.Terminal(b.cfg.Name, fmt.Errorf("shot count %d must be positive", shots))
	}

	st, err := sim.New(spec.Qubits)
	if err != nil {
		return backend.Result{}, backend.Terminal(b.cfg.Name, err)
	}
	st.SetParallelism(max(b.cfg.Parallelism, 1))
	if err := st.Run(ctx, spec); err != nil {
		if ctx.Err() != nil {
			return backend.Result{}, ctx.Err()
		}
		return backend.Result{}, backend.Terminal(b.cfg.Name, err)
	}

	n := b.runs.Add(1)
	rng := rand.New(rand.NewPCG(b.seed, n))
	counts := sim.Sample(st, spec, shots, rng, b.cfg.ReadoutError)
	return backend.Result{
		Counts:   counts,
		Shots:    shots,
		Duration: time.Since(start),
	}, nil
}

// Liveness always succeeds for an in-process simulator.
func (b *Backend) Liveness(_ context.Context) bool {
	return true
}
