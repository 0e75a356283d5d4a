// Package optimizer rewrites circuits into cheaper equivalent circuits and
// estimates the resources a circuit needs.
//
// Every level is a pure function: the input circuit is never modified and
// the same input always yields the same output. Rewrites preserve the
// circuit's unitary up to a global phase.
package optimizer

import (
	"fmt"

	"github.com/seantiz/qexec/internal/circuit"
)

// Optimization levels.
const (
	Level0 = 0 // identity
	Level1 = 1 // cancel adjacent inverse pairs
	Level2 = 2 // level 1 plus fusion of same-axis rotations
	Level3 = 3 // level 2 plus depth-reducing reordering
)

// MaxLevel is the most aggressive supported level.
const MaxLevel = Level3

// maxPasses bounds the fixpoint iteration of the peephole levels.
const maxPasses = 32

// Optimize returns an optimized copy of spec.
func Optimize(spec circuit.Spec, level int) (circuit.Spec, error) {
	if level < Level0 || level > MaxLevel {
		return circuit.Spec{}, fmt.Errorf("optimization level %d outside [%d, %d]", level, Level0, MaxLevel)
	}
	if err := spec.Validate(); err != nil {
		return circuit.Spec{}, err
	}
	out := spec.Clone()
	if level == Level0 {
		return out, nil
	}
	fuse := level >= Level2
	for range maxPasses {
		next := peephole(out, fuse)
		if next.Equal(out) {
			break
		}
		out = next
	}
	if level >= Level3 {
		out = schedule(out)
	}
	return out, nil
}

// peephole makes one left-to-right pass, keeping a stack of surviving gates
// per qubit. A new gate interacts with an earlier gate only when that gate
// is the most recent survivor on every qubit the new gate touches, which is
// exactly when nothing between them acts on those qubits.
func peephole(spec circuit.Spec, fuse bool) circuit.Spec {
	type entry struct {
		gate    circuit.Gate
		removed bool
	}
	entries := make([]*entry, 0, len(spec.Gates))
	stacks := make([][]int, spec.Qubits)

	top := func(g circuit.Gate) (int, bool) {
		idx := -1
		for _, q := range g.Targets {
			st := stacks[q]
			if len(st) == 0 {
				return -1, false
			}
			t := st[len(st)-1]
			if idx >= 0 && t != idx {
				return -1, false
			}
			idx = t
		}
		return idx, idx >= 0
	}
	pop := func(idx int) {
		entries[idx].removed = true
		for _, q := range entries[idx].gate.Targets {
			stacks[q] = stacks[q][:len(stacks[q])-1]
		}
	}

	for _, g := range spec.Gates {
		if fuse && g.IsRotation() && circuit.IsZeroAngle(g.Angle()) {
			continue
		}
		if idx, ok := top(g); ok {
			prev := entries[idx].gate
			// The earlier gate must cover exactly the same qubits.
			if prev.Arity() == g.Arity() {
				if circuit.InversePair(prev, g) {
					pop(idx)
					continue
				}
				if fuse && prev.Op == g.Op && g.IsRotation() && circuit.SameSupport(prev, g) {
					sum := circuit.NormalizeAngle(prev.Angle() + g.Angle())
					if circuit.IsZeroAngle(sum) {
						pop(idx)
						continue
					}
					entries[idx].gate.Params[0] = sum
					continue
				}
			}
		}
		e := &entry{gate: g.Clone()}
		entries = append(entries, e)
		for _, q := range g.Targets {
			stacks[q] = append(stacks[q], len(entries)-1)
		}
	}

	out := circuit.Spec{Qubits: spec.Qubits, Gates: make([]circuit.Gate, 0, len(entries))}
	for _, e := range entries {
		if !e.removed {
			out.Gates = append(out.Gates, e.gate)
		}
	}
	if spec.Measurements != nil {
		out.Measurements = spec.Clone().Measurements
	}
	return out
}
