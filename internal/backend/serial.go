package backend

import (
	"context"

	"github.com/seantiz/qexec/internal/circuit"
)

// serialAdapter admits one Execute call at a time. Waiting callers give up
// when their context ends.
type serialAdapter struct {
	Adapter
	sem chan struct{}
}

// Serialize wraps a that is not concurrent-safe so calls to Execute never
// overlap. Concurrent-safe adapters are returned unchanged.
func Serialize(a Adapter) Adapter {
	if a.Capabilities().ConcurrentSafe {
		return a
	}
	return &serialAdapter{Adapter: a, sem: make(chan struct{}, 1)}
}

func (s *serialAdapter) Execute(ctx context.Context, spec circuit.Spec, shots int) (Result, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-s.sem }()
	return s.Adapter.Execute(ctx, spec, shots)
}
