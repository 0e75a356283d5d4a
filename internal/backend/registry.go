package backend

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 5 * time.Second

// UnavailableAfter is the number of consecutive failed probes after which a
// backend is marked unavailable. Fewer failures mark it degraded.
const UnavailableAfter = 3

// PolicyKind names a selection policy.
type PolicyKind string

// Selection policies.
const (
	PolicyExplicit         PolicyKind = "explicit"
	PolicyAutoBestFit      PolicyKind = "auto_best_fit"
	PolicyAutoWithFallback PolicyKind = "auto_with_fallback"
)

// Policy controls how Select picks a backend.
type Policy struct {
	Kind      PolicyKind `json:"kind"`
	BackendID string     `json:"backend_id,omitempty"`
	Order     []string   `json:"order,omitempty"`
}

// Explicit pins selection to one backend.
func Explicit(id string) Policy { return Policy{Kind: PolicyExplicit, BackendID: id} }

// AutoBestFit ranks every capable backend by latency class, then qubit
// headroom, then registration order.
func AutoBestFit() Policy { return Policy{Kind: PolicyAutoBestFit} }

// AutoWithFallback walks ids in order and returns the first available,
// capable backend.
func AutoWithFallback(ids ...string) Policy {
	return Policy{Kind: PolicyAutoWithFallback, Order: ids}
}

type entry struct {
	adapter Adapter
	exec    Adapter
	desc    Descriptor
}

// Registry holds registered backends, their health, and selects which one
// serves a request. Descriptors change only through health probes.
type Registry struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	order        []string
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewRegistry creates an empty backend registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:      make(map[string]*entry),
		probeTimeout: DefaultProbeTimeout,
		logger:       logger,
	}
}

// SetProbeTimeout overrides DefaultProbeTimeout.
func (r *Registry) SetProbeTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.probeTimeout = d
	}
}

// Register adds an adapter under id. Backends start out available.
// Adapters that are not concurrent-safe are wrapped so that at most one
// Execute call runs at a time.
func (r *Registry) Register(id string, a Adapter) error {
	if id == "" {
		return fmt.Errorf("register backend: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("register backend %q: %w", id, ErrDuplicateBackendID)
	}
	caps := a.Capabilities()
	r.entries[id] = &entry{
		adapter: a,
		exec:    Serialize(a),
		desc: Descriptor{
			ID:           id,
			Capabilities: caps,
			Health:       HealthAvailable,
			Order:        len(r.order),
		},
	}
	r.order = append(r.order, id)
	backendHealth.WithLabelValues(id).Set(healthValue(HealthAvailable))
	r.logger.Info("backend registered", "backend_id", id, "max_qubits", caps.MaxQubits, "remote", caps.IsRemote)
	return nil
}

// Adapter returns the adapter registered under id, wrapped for
// serialization when required.
func (r *Registry) Adapter(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("backend %q: %w", id, ErrBackendNotFound)
	}
	return e.exec, nil
}

// Descriptor returns a snapshot of one backend's descriptor.
func (r *Registry) Descriptor(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("backend %q: %w", id, ErrBackendNotFound)
	}
	return e.desc, nil
}

// List returns every descriptor in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].desc)
	}
	return out
}

// Select returns the backend that should serve a request with the given
// requirements under policy.
func (r *Registry) Select(req Requirements, p Policy) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch p.Kind {
	case PolicyExplicit:
		e, ok := r.entries[p.BackendID]
		if !ok {
			return Descriptor{}, fmt.Errorf("backend %q not registered: %w", p.BackendID, ErrNoCapableBackend)
		}
		if e.desc.Health == HealthUnavailable {
			return Descriptor{}, fmt.Errorf("backend %q is unavailable: %w", p.BackendID, ErrNoCapableBackend)
		}
		if !req.Satisfied(e.desc.Capabilities) {
			return Descriptor{}, fmt.Errorf("backend %q does not meet requirements: %w", p.BackendID, ErrNoCapableBackend)
		}
		return e.desc, nil

	case PolicyAutoWithFallback:
		for _, id := range p.Order {
			e, ok := r.entries[id]
			if !ok || e.desc.Health != HealthAvailable || !req.Satisfied(e.desc.Capabilities) {
				continue
			}
			return e.desc, nil
		}
		return Descriptor{}, fmt.Errorf("fallback order %v exhausted: %w", p.Order, ErrNoCapableBackend)

	case PolicyAutoBestFit, "":
		var candidates []Descriptor
		for _, id := range r.order {
			d := r.entries[id].desc
			if d.Health == HealthUnavailable || !req.Satisfied(d.Capabilities) {
				continue
			}
			candidates = append(candidates, d)
		}
		if len(candidates) == 0 {
			return Descriptor{}, fmt.Errorf("%d qubits requested: %w", req.MinQubits, ErrNoCapableBackend)
		}
		best := slices.MinFunc(candidates, func(a, b Descriptor) int {
			return cmp.Or(
				cmp.Compare(a.Capabilities.Latency, b.Capabilities.Latency),
				cmp.Compare(b.Capabilities.MaxQubits, a.Capabilities.MaxQubits),
				cmp.Compare(a.Order, b.Order),
			)
		})
		return best, nil
	}
	return Descriptor{}, fmt.Errorf("unknown selection policy %q", p.Kind)
}

// ProbeHealth runs one liveness probe against every backend concurrently
// and updates their health. It returns the updated descriptors.
func (r *Registry) ProbeHealth(ctx context.Context) []Descriptor {
	r.mu.RLock()
	ids := slices.Clone(r.order)
	adapters := make([]Adapter, len(ids))
	for i, id := range ids {
		adapters[i] = r.entries[id].adapter
	}
	timeout := r.probeTimeout
	r.mu.RUnlock()

	alive := make([]bool, len(ids))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			alive[i] = probe(ctx, a, timeout)
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range ids {
		e := r.entries[id]
		prev := e.desc.Health
		if alive[i] {
			e.desc.ConsecutiveFailures = 0
			e.desc.Health = HealthAvailable
		} else {
			e.desc.ConsecutiveFailures++
			probeFailures.WithLabelValues(id).Inc()
			if e.desc.ConsecutiveFailures >= UnavailableAfter {
				e.desc.Health = HealthUnavailable
			} else {
				e.desc.Health = HealthDegraded
			}
		}
		e.desc.LastProbe = &now
		backendHealth.WithLabelValues(id).Set(healthValue(e.desc.Health))
		if prev != e.desc.Health {
			r.logger.Warn("backend health changed", "backend_id", id,
				"from", prev, "to", e.desc.Health, "consecutive_failures", e.desc.ConsecutiveFailures)
		}
	}
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].desc)
	}
	return out
}

// probe calls Liveness with a deadline and treats a probe that does not
// return in time as a failure, whether or not the adapter honors ctx.
func probe(ctx context.Context, a Adapter, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan bool, 1)
	go func() { done <- a.Liveness(ctx) }()
	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Run probes every backend each interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ProbeHealth(ctx)
		}
	}
}
