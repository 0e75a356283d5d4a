// Package sim is a dense state-vector simulator for the circuit gate set.
// It backs the local simulation adapter and serves as the reference model
// when checking that optimized circuits preserve semantics.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/qexec/internal/circuit"
)

// MaxQubits bounds the state size a simulator will allocate.
const MaxQubits = 24

// parallelThreshold is the smallest state, in qubits, for which gate
// application is split across goroutines.
const parallelThreshold = 14

// ErrTooManyQubits is returned when a circuit exceeds MaxQubits.
var ErrTooManyQubits = errors.New("too many qubits for state-vector simulation")

// State is a normalized state vector over n qubits.
type State struct {
	n           int
	amps        []complex128
	parallelism int
}

// New returns the |0...0> state over n qubits.
func New(n int) (*State, error) {
	if n < 1 || n > MaxQubits {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyQubits, n, MaxQubits)
	}
	amps := make([]complex128, 1<<n)
	amps[0] = 1
	return &State{n: n, amps: amps, parallelism: 1}, nil
}

// SetParallelism sets how many goroutines large gate applications may use.
// Values below 1 select runtime.GOMAXPROCS.
func (s *State) SetParallelism(p int) {
	if p < 1 {
		p = runtime.GOMAXPROCS(0)
	}
	s.parallelism = p
}

// Qubits returns the number of qubits in the state.
func (s *State) Qubits() int { return s.n }

// Amplitudes returns a copy of the state vector.
func (s *State) Amplitudes() []complex128 { return slices.Clone(s.amps) }

// Probabilities returns the probability of every basis state.
func (s *State) Probabilities() []float64 {
	out := make([]float64, len(s.amps))
	for i, a := range s.amps {
		out[i] = real(a)*real(a) + imag(a)*imag(a)
	}
	return out
}

type matrix [2][2]complex128

var invSqrt2 = complex(1/math.Sqrt2, 0)

func singleQubitMatrix(g circuit.Gate) (matrix, bool) {
	theta := g.Angle()
	c := complex(math.Cos(theta/2), 0)
	sn := math.Sin(theta / 2)
	switch g.Op {
	case circuit.H:
		return matrix{{invSqrt2, invSqrt2}, {invSqrt2, -invSqrt2}}, true
	case circuit.X:
		return matrix{{0, 1}, {1, 0}}, true
	case circuit.Y:
		return matrix{{0, -1i}, {1i, 0}}, true
	case circuit.Z:
		return matrix{{1, 0}, {0, -1}}, true
	case circuit.S:
		return matrix{{1, 0}, {0, 1i}}, true
	case circuit.SDG:
		return matrix{{1, 0}, {0, -1i}}, true
	case circuit.T:
		return matrix{{1, 0}, {0, cmplx.Exp(complex(0, math.Pi/4))}}, true
	case circuit.TDG:
		return matrix{{1, 0}, {0, cmplx.Exp(complex(0, -math.Pi/4))}}, true
	case circuit.RX:
		return matrix{{c, complex(0, -sn)}, {complex(0, -sn), c}}, true
	case circuit.RY:
		return matrix{{c, complex(-sn, 0)}, {complex(sn, 0), c}}, true
	case circuit.RZ:
		return matrix{{cmplx.Exp(complex(0, -theta/2)), 0}, {0, cmplx.Exp(complex(0, theta/2))}}, true
	case circuit.P:
		return matrix{{1, 0}, {0, cmplx.Exp(complex(0, theta))}}, true
	}
	return matrix{}, false
}

// Apply applies one gate. The gate is assumed to be valid for the state width.
func (s *State) Apply(g circuit.Gate) error {
	if m, ok := singleQubitMatrix(g); ok {
		s.applySingle(g.Targets[0], m)
		return nil
	}
	switch g.Op {
	case circuit.CX:
		s.applyControlledX(mask(g.Targets[:1]), g.Targets[1])
	case circuit.CCX:
		s.applyControlledX(mask(g.Targets[:2]), g.Targets[2])
	case circuit.CZ, circuit.MCZ:
		s.applyPhase(mask(g.Targets), -1)
	case circuit.CP:
		s.applyPhase(mask(g.Targets), cmplx.Exp(complex(0, g.Angle())))
	case circuit.SWAP:
		s.applySwap(g.Targets[0], g.Targets[1])
	default:
		return fmt.Errorf("sim: unsupported gate %q", g.Op)
	}
	return nil
}

func mask(qs []int) int {
	m := 0
	for _, q := range qs {
		m |= 1 << q
	}
	return m
}

// forEachPair visits every index with bit q clear, splitting the work when
// the state is large.
func (s *State) forEachPair(q int, fn func(i int)) {
	half := len(s.amps) >> 1
	low := (1 << q) - 1
	visit := func(from, to int) {
		for k := from; k < to; k++ {
			i := ((k &^ low) << 1) | (k & low)
			fn(i)
		}
	}
	if s.parallelism <= 1 || s.n < parallelThreshold {
		visit(0, half)
		return
	}
	var g errgroup.Group
	chunk := (half + s.parallelism - 1) / s.parallelism
	for from := 0; from < half; from += chunk {
		to := min(from+chunk, half)
		g.Go(func() error {
			visit(from, to)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *State) applySingle(q int, m matrix) {
	bit := 1 << q
	s.forEachPair(q, func(i int) {
		j := i | bit
		a0, a1 := s.amps[i], s.amps[j]
		s.amps[i] = m[0][0]*a0 + m[0][1]*a1
		s.amps[j] = m[1][0]*a0 + m[1][1]*a1
	})
}

func (s *State) applyControlledX(controls, target int) {
	bit := 1 << target
	s.forEachPair(target, func(i int) {
		if i&controls == controls {
			j := i | bit
			s.amps[i], s.amps[j] = s.amps[j], s.amps[i]
		}
	})
}

func (s *State) applyPhase(m int, phase complex128) {
	for i := range s.amps {
		if i&m == m {
			s.amps[i] *= phase
		}
	}
}

func (s *State) applySwap(a, b int) {
	ba, bb := 1<<a, 1<<b
	for i := range s.amps {
		if i&ba != 0 && i&bb == 0 {
			j := (i &^ ba) | bb
			s.amps[i], s.amps[j] = s.amps[j], s.amps[i]
		}
	}
}

// Run applies every gate of spec in order, checking ctx between gates.
func (s *State) Run(ctx context.Context, spec circuit.Spec) error {
	if spec.Qubits != s.n {
		return fmt.Errorf("sim: circuit has %d qubits, state has %d", spec.Qubits, s.n)
	}
	for i, g := range spec.Gates {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := s.Apply(g); err != nil {
			return fmt.Errorf("gate %d: %w", i, err)
		}
	}
	return nil
}

// Simulate runs spec from |0...0> and returns the final state.
func Simulate(ctx context.Context, spec circuit.Spec) (*State, error) {
	st, err := New(spec.Qubits)
	if err != nil {
		return nil, err
	}
	if err := st.Run(ctx, spec); err != nil {
		return nil, err
	}
	return st, nil
}

// Bitstring formats the classical readout of basis state idx, most
// significant classical bit first.
func Bitstring(idx int, classical []int) string {
	var b strings.Builder
	b.Grow(len(classical))
	for c := len(classical) - 1; c >= 0; c-- {
		q := classical[c]
		if q >= 0 && idx&(1<<q) != 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Distribution returns the ideal probability of each classical bitstring
// after running spec. Outcomes with negligible probability are omitted.
func Distribution(ctx context.Context, spec circuit.Spec) (map[string]float64, error) {
	st, err := Simulate(ctx, spec)
	if err != nil {
		return nil, err
	}
	classical := spec.ClassicalMap()
	out := make(map[string]float64)
	for i, p := range st.Probabilities() {
		if p < 1e-15 {
			continue
		}
		out[Bitstring(i, classical)] += p
	}
	return out, nil
}

// Sample draws shots measurements of st using the classical mapping of
// spec. Each measured bit flips independently with probability readoutError.
func Sample(st *State, spec circuit.Spec, shots int, rng *rand.Rand, readoutError float64) map[string]int {
	probs := st.Probabilities()
	cdf := make([]float64, len(probs))
	acc := 0.0
	for i, p := range probs {
		acc += p
		cdf[i] = acc
	}
	classical := spec.ClassicalMap()
	counts := make(map[string]int)
	for range shots {
		r := rng.Float64() * acc
		idx, _ := slices.BinarySearch(cdf, r)
		if idx >= len(cdf) {
			idx = len(cdf) - 1
		}
		if readoutError > 0 {
			for _, q := range classical {
				if q >= 0 && rng.Float64() < readoutError {
					idx ^= 1 << q
				}
			}
		}
		counts[Bitstring(idx, classical)]++
	}
	return counts
}

// Fidelity returns |<a|b>|^2 for two states of equal width.
func Fidelity(a, b *State) float64 {
	if a.n != b.n {
		return 0
	}
	var ip complex128
	for i := range a.amps {
		ip += cmplx.Conj(a.amps[i]) * b.amps[i]
	}
	m := cmplx.Abs(ip)
	return m * m
}
