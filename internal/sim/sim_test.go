package sim_test

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/sim"
)

func TestDistributionBellPair(t *testing.T) {
	dist, err := sim.Distribution(context.Background(), circuit.NewBuilder(2).H(0).CX(0, 1).Spec())
	if err != nil {
		t.Fatalf("Distribution() error: %v", err)
	}
	if len(dist) != 2 {
		t.Fatalf("got %d outcomes, want 2: %v", len(dist), dist)
	}
	for _, k := range []string{"00", "11"} {
		if math.Abs(dist[k]-0.5) > 1e-12 {
			t.Errorf("P(%s) = %v, want 0.5", k, dist[k])
		}
	}
}

func TestBitstringOrdering(t *testing.T) {
	// X on qubit 1 of 3 should read as "010", most significant bit first.
	dist, err := sim.Distribution(context.Background(), circuit.NewBuilder(3).X(1).Spec())
	if err != nil {
		t.Fatalf("Distribution() error: %v", err)
	}
	if dist["010"] < 1-1e-12 {
		t.Errorf("dist = %v, want all mass on 010", dist)
	}

	// Measurement map routes qubit 0 into classical bit 2.
	spec := circuit.NewBuilder(2).X(0).Measure(0, 2).Measure(1, 0).Spec()
	dist, err = sim.Distribution(context.Background(), spec)
	if err != nil {
		t.Fatalf("Distribution() error: %v", err)
	}
	if dist["100"] < 1-1e-12 {
		t.Errorf("dist = %v, want all mass on 100", dist)
	}
}

func TestGroverAmplifiesMarkedState(t *testing.T) {
	const marked = 11
	dist, err := sim.Distribution(context.Background(), circuit.Grover(4, marked, 3))
	if err != nil {
		t.Fatalf("Distribution() error: %v", err)
	}
	if p := dist["1011"]; p < 0.9 {
		t.Errorf("P(marked) = %v, want > 0.9", p)
	}
}

func TestQFTRoundTrip(t *testing.T) {
	ctx := context.Background()
	prep := circuit.NewBuilder(4).H(0).RY(1, 0.7).CX(1, 2).T(3).Spec()
	want, err := sim.Simulate(ctx, prep)
	if err != nil {
		t.Fatalf("Simulate() error: %v", err)
	}
	round, err := circuit.Concat(prep, circuit.QFT(4, false))
	if err != nil {
		t.Fatal(err)
	}
	round, err = circuit.Concat(round, circuit.QFT(4, true))
	if err != nil {
		t.Fatal(err)
	}
	got, err := sim.Simulate(ctx, round)
	if err != nil {
		t.Fatalf("Simulate() error: %v", err)
	}
	if f := sim.Fidelity(want, got); math.Abs(f-1) > 1e-9 {
		t.Errorf("fidelity after QFT and inverse = %v, want 1", f)
	}
}

func TestSampleDeterministicWithSeed(t *testing.T) {
	spec := circuit.NewBuilder(2).H(0).H(1).Spec()
	st, err := sim.Simulate(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}
	a := sim.Sample(st, spec, 500, rand.New(rand.NewPCG(1, 2)), 0)
	b := sim.Sample(st, spec, 500, rand.New(rand.NewPCG(1, 2)), 0)
	total := 0
	for k, v := range a {
		total += v
		if b[k] != v {
			t.Errorf("count for %s differs between identical seeds: %d vs %d", k, v, b[k])
		}
	}
	if total != 500 {
		t.Errorf("total samples = %d, want 500", total)
	}
}

func TestSampleReadoutError(t *testing.T) {
	spec := circuit.NewBuilder(1).Spec()
	st, err := sim.Simulate(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}
	counts := sim.Sample(st, spec, 4000, rand.New(rand.NewPCG(7, 7)), 0.25)
	frac := float64(counts["1"]) / 4000
	if frac < 0.2 || frac > 0.3 {
		t.Errorf("flipped fraction = %v, want about 0.25", frac)
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	const n = 15
	b := circuit.NewBuilder(n)
	for q := range n {
		b.H(q).RZ(q, float64(q)*0.1)
	}
	for q := 0; q+1 < n; q++ {
		b.CX(q, q+1)
	}
	spec := b.Spec()

	serial, err := sim.New(n)
	if err != nil {
		t.Fatal(err)
	}
	parallel, err := sim.New(n)
	if err != nil {
		t.Fatal(err)
	}
	parallel.SetParallelism(4)
	ctx := context.Background()
	if err := serial.Run(ctx, spec); err != nil {
		t.Fatal(err)
	}
	if err := parallel.Run(ctx, spec); err != nil {
		t.Fatal(err)
	}
	if f := sim.Fidelity(serial, parallel); math.Abs(f-1) > 1e-9 {
		t.Errorf("fidelity between serial and parallel runs = %v, want 1", f)
	}
}

func TestNewRejectsWideStates(t *testing.T) {
	if _, err := sim.New(sim.MaxQubits + 1); err == nil {
		t.Error("New() accepted a state wider than MaxQubits")
	}
}

func TestRunHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, _ := sim.New(1)
	if err := st.Run(ctx, circuit.NewBuilder(1).H(0).Spec()); err == nil {
		t.Error("Run() on cancelled context returned nil error")
	}
}
