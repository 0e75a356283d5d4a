// Package balancer chooses which worker receives the next task.
//
// Strategies are pure with respect to worker state: they see a snapshot of
// candidates and keep only their own rotation cursor. The executor's
// dispatch loop is their sole caller, so they are not safe for concurrent use.
package balancer

import "fmt"

// Strategy names.
const (
	NameRoundRobin  = "round-robin"
	NameLeastLoaded = "least-loaded"
)

// Candidate is a worker as seen by a strategy, in registration order.
type Candidate struct {
	ID       string
	Load     int
	Eligible bool
}

// Strategy picks a worker index from candidates.
type Strategy interface {
	Name() string
	// Pick returns the index of the chosen candidate, or false when no
	// candidate is eligible.
	Pick(candidates []Candidate) (int, bool)
}

// New returns the strategy with the given name.
func New(name string) (Strategy, error) {
	switch name {
	case NameRoundRobin:
		return NewRoundRobin(), nil
	case NameLeastLoaded, "":
		return NewLeastLoaded(), nil
	}
	return nil, fmt.Errorf("unknown balancer strategy %q", name)
}

// RoundRobin cycles through eligible workers in registration order.
type RoundRobin struct {
	next int
}

// NewRoundRobin returns a round-robin strategy starting at the first worker.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Name() string { return NameRoundRobin }

func (r *RoundRobin) Pick(candidates []Candidate) (int, bool) {
	n := len(candidates)
	for i := range n {
		idx := (r.next + i) % n
		if candidates[idx].Eligible {
			r.next = (idx + 1) % n
			return idx, true
		}
	}
	return 0, false
}

// LeastLoaded picks the eligible worker with the smallest load. Ties go to
// the worker that comes first in round-robin order from the cursor.
type LeastLoaded struct {
	next int
}

// NewLeastLoaded returns a least-loaded strategy.
func NewLeastLoaded() *LeastLoaded { return &LeastLoaded{} }

func (l *LeastLoaded) Name() string { return NameLeastLoaded }

func (l *LeastLoaded) Pick(candidates []Candidate) (int, bool) {
	n := len(candidates)
	best := -1
	for i := range n {
		idx := (l.next + i) % n
		c := candidates[idx]
		if !c.Eligible {
			continue
		}
		if best < 0 || c.Load < candidates[best].Load {
			best = idx
		}
	}
	if best < 0 {
		return 0, false
	}
	l.next = (best + 1) % n
	return best, true
}
