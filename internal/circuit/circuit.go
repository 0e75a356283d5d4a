package circuit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrInvalidCircuit is returned when a circuit violates its structural invariants.
var ErrInvalidCircuit = errors.New("invalid circuit")

// MaxQubits bounds the width of any circuit accepted by Validate.
const MaxQubits = 64

// Spec describes a circuit: its width, an ordered gate list and which
// qubits are measured into which classical bits. An empty measurement map
// measures every qubit into the classical bit of the same index.
type Spec struct {
	Qubits       int         `json:"qubit_count"`
	Gates        []Gate      `json:"gates"`
	Measurements map[int]int `json:"measurement_map,omitempty"`
}

// Validate checks gate arity, parameter counts, target ranges and the
// measurement map.
func (s Spec) Validate() error {
	if s.Qubits < 1 || s.Qubits > MaxQubits {
		return fmt.Errorf("%w: qubit_count %d outside [1, %d]", ErrInvalidCircuit, s.Qubits, MaxQubits)
	}
	for i, g := range s.Gates {
		info, ok := ops[g.Op]
		if !ok {
			return fmt.Errorf("%w: gate %d: unknown op %q", ErrInvalidCircuit, i, g.Op)
		}
		switch {
		case info.arity == 0 && len(g.Targets) < 2:
			return fmt.Errorf("%w: gate %d: %s needs at least 2 targets, got %d", ErrInvalidCircuit, i, g.Op, len(g.Targets))
		case info.arity > 0 && len(g.Targets) != info.arity:
			return fmt.Errorf("%w: gate %d: %s needs %d targets, got %d", ErrInvalidCircuit, i, g.Op, info.arity, len(g.Targets))
		}
		if len(g.Params) != info.params {
			return fmt.Errorf("%w: gate %d: %s needs %d params, got %d", ErrInvalidCircuit, i, g.Op, info.params, len(g.Params))
		}
		seen := make(map[int]bool, len(g.Targets))
		for _, q := range g.Targets {
			if q < 0 || q >= s.Qubits {
				return fmt.Errorf("%w: gate %d: target %d out of range [0, %d)", ErrInvalidCircuit, i, q, s.Qubits)
			}
			if seen[q] {
				return fmt.Errorf("%w: gate %d: target %d repeated", ErrInvalidCircuit, i, q)
			}
			seen[q] = true
		}
	}
	bits := make(map[int]bool, len(s.Measurements))
	for q, c := range s.Measurements {
		if q < 0 || q >= s.Qubits {
			return fmt.Errorf("%w: measured qubit %d out of range [0, %d)", ErrInvalidCircuit, q, s.Qubits)
		}
		if c < 0 {
			return fmt.Errorf("%w: classical bit %d is negative", ErrInvalidCircuit, c)
		}
		if bits[c] {
			return fmt.Errorf("%w: classical bit %d written twice", ErrInvalidCircuit, c)
		}
		bits[c] = true
	}
	return nil
}

// Clone returns a deep copy.
func (s Spec) Clone() Spec {
	out := Spec{Qubits: s.Qubits, Gates: make([]Gate, len(s.Gates))}
	for i, g := range s.Gates {
		out.Gates[i] = g.Clone()
	}
	if s.Measurements != nil {
		out.Measurements = maps.Clone(s.Measurements)
	}
	return out
}

// Equal reports exact structural equality. A nil and an empty measurement
// map compare equal.
func (s Spec) Equal(o Spec) bool {
	if s.Qubits != o.Qubits || len(s.Gates) != len(o.Gates) {
		return false
	}
	for i := range s.Gates {
		if !s.Gates[i].Equal(o.Gates[i]) {
			return false
		}
	}
	return maps.Equal(s.Measurements, o.Measurements)
}

// ClassicalWidth returns the number of classical bits in a measured bitstring.
func (s Spec) ClassicalWidth() int {
	if len(s.Measurements) == 0 {
		return s.Qubits
	}
	w := 0
	for _, c := range s.Measurements {
		w = max(w, c+1)
	}
	return w
}

// ClassicalMap returns, for each classical bit, the qubit measured into it,
// or -1 when no qubit writes that bit.
func (s Spec) ClassicalMap() []int {
	out := make([]int, s.ClassicalWidth())
	if len(s.Measurements) == 0 {
		for i := range out {
			out[i] = i
		}
		return out
	}
	for i := range out {
		out[i] = -1
	}
	for q, c := range s.Measurements {
		out[c] = q
	}
	return out
}

// Hash returns a stable hex digest of the circuit, used as a cache and
// history key.
func (s Spec) Hash() string {
	// encoding/json sorts map keys, so equal circuits encode identically.
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Invert returns the circuit that undoes s. Measurements are not carried over.
func Invert(s Spec) Spec {
	out := Spec{Qubits: s.Qubits, Gates: make([]Gate, 0, len(s.Gates))}
	for _, g := range slices.Backward(s.Gates) {
		out.Gates = append(out.Gates, Inverse(g))
	}
	return out
}

// Concat appends the gates of b to a. Both must have the same width; the
// measurement map of b wins.
func Concat(a, b Spec) (Spec, error) {
	if a.Qubits != b.Qubits {
		return Spec{}, fmt.Errorf("%w: cannot join %d and %d qubit circuits", ErrInvalidCircuit, a.Qubits, b.Qubits)
	}
	out := a.Clone()
	for _, g := range b.Gates {
		out.Gates = append(out.Gates, g.Clone())
	}
	out.Measurements = maps.Clone(b.Measurements)
	return out, nil
}
