package optimizer_test

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/optimizer"
	"github.com/seantiz/qexec/internal/sim"
)

// randomCircuit builds a circuit that mixes arbitrary gates with inverse
// pairs and split rotations so every rewrite has something to do.
func randomCircuit(rng *rand.Rand, qubits, gates int) circuit.Spec {
	b := circuit.NewBuilder(qubits)
	pick := func() int { return rng.IntN(qubits) }
	pair := func() (int, int) {
		a := pick()
		c := (a + 1 + rng.IntN(qubits-1)) % qubits
		return a, c
	}
	triple := func() (int, int, int) {
		perm := rng.Perm(qubits)
		return perm[0], perm[1], perm[2]
	}
	for range gates {
		q := pick()
		theta := rng.Float64()*4*math.Pi - 2*math.Pi
		op := rng.IntN(16)
		if op >= 12 && qubits < 3 {
			op = 0
		}
		switch op {
		case 0:
			b.H(q)
		case 1:
			b.X(q).X(q)
		case 2:
			b.S(q).Sdg(q)
		case 3:
			b.RZ(q, theta).RZ(q, -theta)
		case 4:
			b.RX(q, theta).RX(q, rng.Float64())
		case 5:
			a, c := pair()
			b.CX(a, c)
		case 6:
			a, c := pair()
			b.CZ(a, c).CZ(c, a)
		case 7:
			a, c := pair()
			b.CP(a, c, theta).CP(c, a, theta/2)
		case 8:
			b.T(q).RY(q, theta)
		case 9:
			a, c := pair()
			b.Swap(a, c)
		case 10:
			b.P(q, theta).P(q, 2*math.Pi-theta)
		case 12:
			// Controls listed in either order still cancel.
			c0, c1, tg := triple()
			b.CCX(c0, c1, tg).CCX(c1, c0, tg)
		case 13:
			// Same controls, different target: must survive.
			c0, c1, tg := triple()
			b.CCX(c0, c1, tg).CCX(c0, tg, c1)
		case 14:
			a, c, d := triple()
			b.MCZ(a, c, d).MCZ(d, a, c)
		case 15:
			a, c, d := triple()
			b.MCZ(a, c, d).H(a).MCZ(c, a)
		default:
			b.RZ(q, theta).H(q).H(q).RZ(q, theta)
		}
	}
	return b.Spec()
}

func prepCircuit(rng *rand.Rand, qubits int) circuit.Spec {
	b := circuit.NewBuilder(qubits)
	for q := range qubits {
		b.RY(q, rng.Float64()*math.Pi).RZ(q, rng.Float64()*math.Pi)
	}
	for q := 0; q+1 < qubits; q++ {
		b.CX(q, q+1)
	}
	return b.Spec()
}

func simulate(t *testing.T, spec circuit.Spec) *sim.State {
	t.Helper()
	st, err := sim.Simulate(context.Background(), spec)
	if err != nil {
		t.Fatalf("Simulate() error: %v", err)
	}
	return st
}

func TestOptimizePreservesSemantics(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))
	for trial := range 20 {
		qubits := 2 + rng.IntN(4)
		spec := randomCircuit(rng, qubits, 30)
		for level := optimizer.Level1; level <= optimizer.MaxLevel; level++ {
			opt, err := optimizer.Optimize(spec, level)
			if err != nil {
				t.Fatalf("trial %d level %d: Optimize() error: %v", trial, level, err)
			}
			if len(opt.Gates) > len(spec.Gates) {
				t.Errorf("trial %d level %d: gate count grew from %d to %d", trial, level, len(spec.Gates), len(opt.Gates))
			}
			for range 3 {
				prep := prepCircuit(rng, qubits)
				before, _ := circuit.Concat(prep, spec)
				after, _ := circuit.Concat(prep, opt)
				f := sim.Fidelity(simulate(t, before), simulate(t, after))
				if math.Abs(f-1) > 1e-9 {
					t.Fatalf("trial %d level %d: fidelity %v, want 1", trial, level, f)
				}
			}
		}
	}
}

func TestOptimizeIdempotent(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 9))
	for trial := range 20 {
		spec := randomCircuit(rng, 2+rng.IntN(4), 40)
		for level := optimizer.Level0; level <= optimizer.MaxLevel; level++ {
			once, err := optimizer.Optimize(spec, level)
			if err != nil {
				t.Fatal(err)
			}
			twice, err := optimizer.Optimize(once, level)
			if err != nil {
				t.Fatal(err)
			}
			if !once.Equal(twice) {
				t.Errorf("trial %d level %d: second pass changed the circuit (%d -> %d gates)",
					trial, level, len(once.Gates), len(twice.Gates))
			}
		}
	}
}

func TestOptimizeDeterministic(t *testing.T) {
	spec := randomCircuit(rand.New(rand.NewPCG(3, 3)), 4, 40)
	a, _ := optimizer.Optimize(spec, optimizer.Level3)
	b, _ := optimizer.Optimize(spec, optimizer.Level3)
	if !a.Equal(b) {
		t.Error("Optimize() produced different output for identical input")
	}
}

func TestOptimizeRewrites(t *testing.T) {
	tests := []struct {
		name  string
		level int
		in    circuit.Spec
		want  circuit.Spec
	}{
		{
			name:  "level 0 is identity",
			level: optimizer.Level0,
			in:    circuit.NewBuilder(1).H(0).H(0).Spec(),
			want:  circuit.NewBuilder(1).H(0).H(0).Spec(),
		},
		{
			name:  "adjacent hadamards cancel",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(1).H(0).H(0).X(0).Spec(),
			want:  circuit.NewBuilder(1).X(0).Spec(),
		},
		{
			name:  "nested pairs cascade",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(2).H(0).CX(0, 1).CX(0, 1).H(0).Spec(),
			want:  circuit.NewBuilder(2).Spec(),
		},
		{
			name:  "gate on other qubit does not block",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(2).X(0).H(1).X(0).Spec(),
			want:  circuit.NewBuilder(2).H(1).Spec(),
		},
		{
			name:  "two-qubit gate blocks",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(2).X(0).CX(0, 1).X(0).Spec(),
			want:  circuit.NewBuilder(2).X(0).CX(0, 1).X(0).Spec(),
		},
		{
			name:  "opposite rotations cancel",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(1).RZ(0, 0.4).RZ(0, -0.4).Spec(),
			want:  circuit.NewBuilder(1).Spec(),
		},
		{
			name:  "level 1 does not fuse",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(1).RZ(0, 0.4).RZ(0, 0.2).Spec(),
			want:  circuit.NewBuilder(1).RZ(0, 0.4).RZ(0, 0.2).Spec(),
		},
		{
			name:  "level 2 fuses same axis",
			level: optimizer.Level2,
			in:    circuit.NewBuilder(1).RZ(0, 0.5).RZ(0, 0.25).RX(0, 1).Spec(),
			want:  circuit.NewBuilder(1).RZ(0, 0.75).RX(0, 1).Spec(),
		},
		{
			name:  "fusion wraps modulo 2pi",
			level: optimizer.Level2,
			in:    circuit.NewBuilder(1).RY(0, 2*math.Pi-0.5).RY(0, 1).Spec(),
			want:  circuit.NewBuilder(1).RY(0, 0.5).Spec(),
		},
		{
			name:  "toffoli with swapped controls cancels",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(3).CCX(0, 1, 2).CCX(1, 0, 2).Spec(),
			want:  circuit.NewBuilder(3).Spec(),
		},
		{
			name:  "toffoli with another target survives",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(3).CCX(0, 1, 2).CCX(0, 2, 1).Spec(),
			want:  circuit.NewBuilder(3).CCX(0, 1, 2).CCX(0, 2, 1).Spec(),
		},
		{
			name:  "mcz on the same set cancels",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(3).MCZ(0, 1, 2).MCZ(2, 0, 1).Spec(),
			want:  circuit.NewBuilder(3).Spec(),
		},
		{
			name:  "mcz on a subset survives",
			level: optimizer.Level1,
			in:    circuit.NewBuilder(3).MCZ(0, 1, 2).MCZ(0, 1).Spec(),
			want:  circuit.NewBuilder(3).MCZ(0, 1, 2).MCZ(0, 1).Spec(),
		},
		{
			name:  "circuit followed by its inverse vanishes",
			level: optimizer.Level1,
			in: func() circuit.Spec {
				s := circuit.NewBuilder(3).H(0).CX(0, 1).T(2).RX(1, 0.3).CCX(0, 1, 2).Spec()
				out, _ := circuit.Concat(s, circuit.Invert(s))
				return out
			}(),
			want: circuit.NewBuilder(3).Spec(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := optimizer.Optimize(tt.in, tt.level)
			if err != nil {
				t.Fatalf("Optimize() error: %v", err)
			}
			if len(got.Gates) != len(tt.want.Gates) {
				t.Fatalf("Optimize() = %+v, want %+v", got.Gates, tt.want.Gates)
			}
			for i := range got.Gates {
				g, w := got.Gates[i], tt.want.Gates[i]
				if g.Op != w.Op || !sameInts(g.Targets, w.Targets) || math.Abs(g.Angle()-w.Angle()) > 1e-12 {
					t.Fatalf("gate %d = %+v, want %+v", i, g, w)
				}
			}
		})
	}
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	in := circuit.NewBuilder(1).RZ(0, 0.5).RZ(0, 0.25).Measure(0, 0).Spec()
	orig := in.Clone()
	if _, err := optimizer.Optimize(in, optimizer.Level3); err != nil {
		t.Fatal(err)
	}
	if !in.Equal(orig) {
		t.Error("Optimize() mutated its input")
	}
}

func TestOptimizeRejectsBadInput(t *testing.T) {
	if _, err := optimizer.Optimize(circuit.NewBuilder(1).H(0).Spec(), 4); err == nil {
		t.Error("level 4 accepted")
	}
	if _, err := optimizer.Optimize(circuit.NewBuilder(1).H(3).Spec(), 1); err == nil {
		t.Error("invalid circuit accepted")
	}
}

func TestLevel3GroupsIndependentGates(t *testing.T) {
	// A long chain on qubit 0 followed by independent gates on 1 and 2.
	in := circuit.NewBuilder(3).H(0).T(0).H(0).T(0).X(1).X(2).Spec()
	got, err := optimizer.Optimize(in, optimizer.Level3)
	if err != nil {
		t.Fatal(err)
	}
	// The critical chain starts first; the independent gates join layer 0.
	if got.Gates[0].Op != circuit.H || got.Gates[0].Targets[0] != 0 {
		t.Errorf("first gate = %+v, want h on qubit 0", got.Gates[0])
	}
	if got.Gates[1].Op != circuit.X || got.Gates[2].Op != circuit.X {
		t.Errorf("gates 1 and 2 = %+v %+v, want the independent x gates", got.Gates[1], got.Gates[2])
	}
	if d := optimizer.EstimateResources(got).Depth; d != 4 {
		t.Errorf("depth = %d, want 4", d)
	}
}

func TestEstimateResources(t *testing.T) {
	spec := circuit.NewBuilder(3).H(0).CX(0, 1).X(2).CCX(0, 1, 2).Measure(0, 0).Spec()
	r := optimizer.EstimateResources(spec)
	if r.TotalGates != 4 || r.GateCounts["h"] != 1 || r.GateCounts["cx"] != 1 || r.GateCounts["ccx"] != 1 {
		t.Errorf("gate counts = %+v", r)
	}
	if r.TwoQubitGates != 1 || r.MultiQubitGates != 1 {
		t.Errorf("two-qubit %d multi-qubit %d, want 1 and 1", r.TwoQubitGates, r.MultiQubitGates)
	}
	if r.Depth != 3 {
		t.Errorf("depth = %d, want 3", r.Depth)
	}
	// Layers: {h, x} 50ns, {cx} 300ns, {ccx} 1µs, then one measurement.
	want := optimizer.SingleQubitGateTime + optimizer.TwoQubitGateTime + optimizer.MultiQubitGateTime + optimizer.MeasurementTime
	if r.WallTime != want {
		t.Errorf("wall time = %v, want %v", r.WallTime, want)
	}
	if got := r.TotalWallTime(10); got != 10*want {
		t.Errorf("TotalWallTime(10) = %v, want %v", got, 10*want)
	}
	if r.Measurements != 1 {
		t.Errorf("measurements = %d, want 1", r.Measurements)
	}
	if empty := optimizer.EstimateResources(circuit.NewBuilder(2).Spec()); empty.Depth != 0 || empty.WallTime != time.Microsecond {
		t.Errorf("empty circuit resources = %+v", empty)
	}
}
