package optimizer

import (
	"slices"

	"github.com/seantiz/qexec/internal/circuit"
)

// schedule reorders gates by greedy list scheduling. Gates that act on
// disjoint qubits are independent; each cycle emits every ready gate,
// longest remaining dependency chain first. Per-qubit gate order is
// preserved, so the circuit's unitary is unchanged.
func schedule(spec circuit.Spec) circuit.Spec {
	n := len(spec.Gates)
	succs := make([][]int, n)
	indeg := make([]int, n)
	last := make([]int, spec.Qubits)
	for i := range last {
		last[i] = -1
	}
	for i, g := range spec.Gates {
		preds := make(map[int]bool, len(g.Targets))
		for _, q := range g.Targets {
			if p := last[q]; p >= 0 && !preds[p] {
				preds[p] = true
				succs[p] = append(succs[p], i)
				indeg[i]++
			}
			last[q] = i
		}
	}

	// Critical path length from each gate to the end of the circuit.
	crit := make([]int, n)
	for i := n - 1; i >= 0; i-- {
		best := 0
		for _, s := range succs[i] {
			best = max(best, crit[s])
		}
		crit[i] = best + 1
	}

	ready := make([]int, 0, n)
	for i := range n {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	out := circuit.Spec{Qubits: spec.Qubits, Gates: make([]circuit.Gate, 0, n)}
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b int) int {
			if crit[a] != crit[b] {
				return crit[b] - crit[a]
			}
			return a - b
		})
		var next []int
		for _, i := range ready {
			out.Gates = append(out.Gates, spec.Gates[i].Clone())
			for _, s := range succs[i] {
				indeg[s]--
				if indeg[s] == 0 {
					next = append(next, s)
				}
			}
		}
		ready = next
	}
	if spec.Measurements != nil {
		out.Measurements = spec.Clone().Measurements
	}
	return out
}

// layers assigns each gate its ASAP layer and returns the per-gate layer
// and the total depth.
func layers(spec circuit.Spec) ([]int, int) {
	level := make([]int, spec.Qubits)
	out := make([]int, len(spec.Gates))
	depth := 0
	for i, g := range spec.Gates {
		l := 0
		for _, q := range g.Targets {
			l = max(l, level[q])
		}
		for _, q := range g.Targets {
			level[q] = l + 1
		}
		out[i] = l
		depth = max(depth, l+1)
	}
	return out, depth
}
