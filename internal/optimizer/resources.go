package optimizer

import (
	"time"

	"github.com/seantiz/qexec/internal/circuit"
)

// Approximate per-gate-class durations used for wall-time estimates.
const (
	SingleQubitGateTime = 50 * time.Nanosecond
	TwoQubitGateTime    = 300 * time.Nanosecond
	MultiQubitGateTime  = 1 * time.Microsecond
	MeasurementTime     = 1 * time.Microsecond
)

// Resources summarizes what a circuit costs to run once.
type Resources struct {
	Qubits          int            `json:"qubit_count"`
	GateCounts      map[string]int `json:"gate_counts"`
	TotalGates      int            `json:"total_gates"`
	TwoQubitGates   int            `json:"two_qubit_gates"`
	MultiQubitGates int            `json:"multi_qubit_gates"`
	Depth           int            `json:"depth"`
	Measurements    int            `json:"measurements"`
	WallTime        time.Duration  `json:"wall_time_ns"`
}

// TotalWallTime scales the single-shot estimate to a shot count.
func (r Resources) TotalWallTime(shots int) time.Duration {
	return r.WallTime * time.Duration(shots)
}

func gateTime(g circuit.Gate) time.Duration {
	switch {
	case g.Arity() == 1:
		return SingleQubitGateTime
	case g.Arity() == 2:
		return TwoQubitGateTime
	default:
		return MultiQubitGateTime
	}
}

// EstimateResources counts gates by type, computes circuit depth and
// approximates single-shot wall time. Gates in the same layer run in
// parallel, so each layer costs its slowest gate.
func EstimateResources(spec circuit.Spec) Resources {
	r := Resources{
		Qubits:     spec.Qubits,
		GateCounts: make(map[string]int),
		TotalGates: len(spec.Gates),
	}
	layerOf, depth := layers(spec)
	r.Depth = depth
	slowest := make([]time.Duration, depth)
	for i, g := range spec.Gates {
		r.GateCounts[string(g.Op)]++
		switch {
		case g.Arity() == 2:
			r.TwoQubitGates++
		case g.Arity() > 2:
			r.MultiQubitGates++
		}
		l := layerOf[i]
		slowest[l] = max(slowest[l], gateTime(g))
	}
	for _, d := range slowest {
		r.WallTime += d
	}
	r.Measurements = len(spec.Measurements)
	if r.Measurements == 0 {
		r.Measurements = spec.Qubits
	}
	if r.Measurements > 0 {
		r.WallTime += MeasurementTime
	}
	return r
}
