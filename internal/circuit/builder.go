package circuit

import "math"

// Builder assembles a circuit gate by gate.
//
//	spec := circuit.NewBuilder(2).H(0).CX(0, 1).Spec()
type Builder struct {
	spec Spec
}

// NewBuilder starts an empty circuit over n qubits.
func NewBuilder(n int) *Builder {
	return &Builder{spec: Spec{Qubits: n}}
}

// Gate appends an arbitrary gate.
func (b *Builder) Gate(op Op, targets []int, params ...float64) *Builder {
	g := Gate{Op: op, Targets: append([]int(nil), targets...)}
	if len(params) > 0 {
		g.Params = append([]float64(nil), params...)
	}
	b.spec.Gates = append(b.spec.Gates, g)
	return b
}

func (b *Builder) H(q int) *Builder   { return b.Gate(H, []int{q}) }
func (b *Builder) X(q int) *Builder   { return b.Gate(X, []int{q}) }
func (b *Builder) Y(q int) *Builder   { return b.Gate(Y, []int{q}) }
func (b *Builder) Z(q int) *Builder   { return b.Gate(Z, []int{q}) }
func (b *Builder) S(q int) *Builder   { return b.Gate(S, []int{q}) }
func (b *Builder) Sdg(q int) *Builder { return b.Gate(SDG, []int{q}) }
func (b *Builder) T(q int) *Builder   { return b.Gate(T, []int{q}) }
func (b *Builder) Tdg(q int) *Builder { return b.Gate(TDG, []int{q}) }

func (b *Builder) RX(q int, theta float64) *Builder { return b.Gate(RX, []int{q}, theta) }
func (b *Builder) RY(q int, theta float64) *Builder { return b.Gate(RY, []int{q}, theta) }
func (b *Builder) RZ(q int, theta float64) *Builder { return b.Gate(RZ, []int{q}, theta) }
func (b *Builder) P(q int, theta float64) *Builder  { return b.Gate(P, []int{q}, theta) }

func (b *Builder) CX(control, target int) *Builder { return b.Gate(CX, []int{control, target}) }
func (b *Builder) CZ(a, c int) *Builder            { return b.Gate(CZ, []int{a, c}) }
func (b *Builder) Swap(a, c int) *Builder          { return b.Gate(SWAP, []int{a, c}) }

func (b *Builder) CP(control, target int, theta float64) *Builder {
	return b.Gate(CP, []int{control, target}, theta)
}

func (b *Builder) CCX(c0, c1, target int) *Builder {
	return b.Gate(CCX, []int{c0, c1, target})
}

func (b *Builder) MCZ(qubits ...int) *Builder { return b.Gate(MCZ, qubits) }

// Measure records that qubit q is read into classical bit c.
func (b *Builder) Measure(q, c int) *Builder {
	if b.spec.Measurements == nil {
		b.spec.Measurements = make(map[int]int)
	}
	b.spec.Measurements[q] = c
	return b
}

// Append copies every gate of other onto the circuit.
func (b *Builder) Append(other Spec) *Builder {
	for _, g := range other.Gates {
		b.spec.Gates = append(b.spec.Gates, g.Clone())
	}
	return b
}

// Spec returns a copy of the circuit built so far.
func (b *Builder) Spec() Spec {
	return b.spec.Clone()
}

// QFT returns the quantum Fourier transform over n qubits, or its inverse.
func QFT(n int, inverse bool) Spec {
	b := NewBuilder(n)
	for i := n - 1; i >= 0; i-- {
		b.H(i)
		for j := i - 1; j >= 0; j-- {
			b.CP(j, i, math.Pi/float64(int(1)<<(i-j)))
		}
	}
	for i := 0; i < n/2; i++ {
		b.Swap(i, n-1-i)
	}
	s := b.Spec()
	if inverse {
		return Invert(s)
	}
	return s
}

// Grover returns an amplitude amplification circuit over n qubits that
// marks the basis state marked and applies the given number of iterations.
// Every qubit is measured into the classical bit of the same index, so the
// most likely bitstring parses to marked.
func Grover(n int, marked uint64, iterations int) Spec {
	b := NewBuilder(n)
	all := make([]int, n)
	for q := range all {
		all[q] = q
		b.H(q)
	}
	for range iterations {
		for q := range n {
			if marked&(1<<q) == 0 {
				b.X(q)
			}
		}
		b.MCZ(all...)
		for q := range n {
			if marked&(1<<q) == 0 {
				b.X(q)
			}
		}
		for q := range n {
			b.H(q).X(q)
		}
		b.MCZ(all...)
		for q := range n {
			b.X(q).H(q)
		}
	}
	return b.Spec()
}
