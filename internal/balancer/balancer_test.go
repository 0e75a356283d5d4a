package balancer_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/seantiz/qexec/internal/balancer"
)

func candidates(loads []int, eligible ...bool) []balancer.Candidate {
	out := make([]balancer.Candidate, len(loads))
	for i, l := range loads {
		out[i] = balancer.Candidate{ID: string(rune('a' + i)), Load: l, Eligible: true}
		if i < len(eligible) {
			out[i].Eligible = eligible[i]
		}
	}
	return out
}

func TestRoundRobinCycles(t *testing.T) {
	rr := balancer.NewRoundRobin()
	cs := candidates([]int{0, 0, 0})
	var got []int
	for range 6 {
		i, ok := rr.Pick(cs)
		if !ok {
			t.Fatal("Pick() found no worker")
		}
		got = append(got, i)
	}
	if want := []int{0, 1, 2, 0, 1, 2}; !slices.Equal(got, want) {
		t.Errorf("picks = %v, want %v", got, want)
	}
}

func TestRoundRobinSkipsIneligible(t *testing.T) {
	rr := balancer.NewRoundRobin()
	cs := candidates([]int{0, 0, 0}, true, false, true)
	var got []int
	for range 4 {
		i, _ := rr.Pick(cs)
		got = append(got, i)
	}
	if want := []int{0, 2, 0, 2}; !slices.Equal(got, want) {
		t.Errorf("picks = %v, want %v", got, want)
	}
}

func TestNoEligibleWorkers(t *testing.T) {
	for _, s := range []balancer.Strategy{balancer.NewRoundRobin(), balancer.NewLeastLoaded()} {
		if _, ok := s.Pick(candidates([]int{0, 1}, false, false)); ok {
			t.Errorf("%s picked an ineligible worker", s.Name())
		}
		if _, ok := s.Pick(nil); ok {
			t.Errorf("%s picked from an empty pool", s.Name())
		}
	}
}

func TestLeastLoadedPicksMinimum(t *testing.T) {
	ll := balancer.NewLeastLoaded()
	i, ok := ll.Pick(candidates([]int{3, 1, 2}))
	if !ok || i != 1 {
		t.Errorf("Pick() = %d, %v; want 1", i, ok)
	}
	i, _ = ll.Pick(candidates([]int{0, 5, 5}, false))
	if i != 1 {
		t.Errorf("Pick() with worker 0 ineligible = %d, want 1", i)
	}
}

func TestLeastLoadedTiesRotate(t *testing.T) {
	ll := balancer.NewLeastLoaded()
	cs := candidates([]int{0, 0, 0})
	var got []int
	for range 3 {
		i, _ := ll.Pick(cs)
		got = append(got, i)
	}
	if want := []int{0, 1, 2}; !slices.Equal(got, want) {
		t.Errorf("tied picks = %v, want %v", got, want)
	}
}

// TestLeastLoadedFairness simulates identical workers draining a large
// backlog: each step either assigns the next task or completes one task on
// a random busy worker, and the queue is refilled after every completion.
func TestLeastLoadedFairness(t *testing.T) {
	const (
		workers  = 5
		tasks    = 5000
		capacity = 4
	)
	rng := rand.New(rand.NewPCG(1, 1))
	ll := balancer.NewLeastLoaded()
	loads := make([]int, workers)
	pending := tasks

	fill := func() {
		for pending > 0 {
			cs := make([]balancer.Candidate, workers)
			for i, l := range loads {
				cs[i] = balancer.Candidate{Load: l, Eligible: l < capacity}
			}
			i, ok := ll.Pick(cs)
			if !ok {
				return
			}
			loads[i]++
			pending--
			if spread := slices.Max(loads) - slices.Min(loads); spread > 1 {
				t.Fatalf("load spread %d > 1 after dispatch: %v", spread, loads)
			}
		}
	}
	fill()
	for pending > 0 {
		// Identical speed: the worker that received work earliest finishes
		// first, which in a full pool is any worker holding the max load.
		busiest := slices.Max(loads)
		var choices []int
		for i, l := range loads {
			if l == busiest {
				choices = append(choices, i)
			}
		}
		loads[choices[rng.IntN(len(choices))]]--
		fill()
	}
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{
		"":                       balancer.NameLeastLoaded,
		balancer.NameLeastLoaded: balancer.NameLeastLoaded,
		balancer.NameRoundRobin:  balancer.NameRoundRobin,
	} {
		s, err := balancer.New(name)
		if err != nil || s.Name() != want {
			t.Errorf("New(%q) = %v, %v; want %s", name, s, err, want)
		}
	}
	if _, err := balancer.New("random"); err == nil {
		t.Error("New(random) returned nil error")
	}
}
