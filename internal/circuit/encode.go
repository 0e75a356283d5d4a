package circuit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedGate is returned when a target format has no encoding for a gate.
var ErrUnsupportedGate = errors.New("gate not supported by format")

// Program formats accepted by remote providers.
const (
	FormatQASM3 = "qasm3"
	FormatQuil  = "quil"
	FormatIonQ  = "ionq"
)

var qasmNames = map[Op]string{
	H: "h", X: "x", Y: "y", Z: "z", S: "s", SDG: "sdg", T: "t", TDG: "tdg",
	RX: "rx", RY: "ry", RZ: "rz", P: "p",
	CX: "cx", CZ: "cz", SWAP: "swap", CP: "cp", CCX: "ccx",
}

var quilNames = map[Op]string{
	H: "H", X: "X", Y: "Y", Z: "Z", S: "S", SDG: "DAGGER S", T: "T", TDG: "DAGGER T",
	RX: "RX", RY: "RY", RZ: "RZ", P: "PHASE",
	CX: "CNOT", CZ: "CZ", SWAP: "SWAP", CP: "CPHASE", CCX: "CCNOT",
}

func formatAngle(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// ToQASM3 renders the circuit as an OpenQASM 3 program.
func ToQASM3(s Spec) (string, error) {
	var b strings.Builder
	width := s.ClassicalWidth()
	fmt.Fprintf(&b, "OPENQASM 3.0;\ninclude \"stdgates.inc\";\nqubit[%d] q;\nbit[%d] c;\n\n", s.Qubits, width)
	for i, g := range s.Gates {
		name, ok := qasmNames[g.Op]
		if g.Op == MCZ {
			name, ok = fmt.Sprintf("ctrl(%d) @ z", len(g.Targets)-1), true
		}
		if !ok {
			return "", fmt.Errorf("qasm3: gate %d: %w: %s", i, ErrUnsupportedGate, g.Op)
		}
		b.WriteString(name)
		if len(g.Params) > 0 {
			b.WriteString("(")
			for j, p := range g.Params {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(formatAngle(p))
			}
			b.WriteString(")")
		}
		b.WriteString(" ")
		for j, q := range g.Targets {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "q[%d]", q)
		}
		b.WriteString(";\n")
	}
	b.WriteString("\n")
	for c, q := range s.ClassicalMap() {
		if q < 0 {
			continue
		}
		fmt.Fprintf(&b, "c[%d] = measure q[%d];\n", c, q)
	}
	return b.String(), nil
}

// ToQuil renders the circuit as a Quil program.
func ToQuil(s Spec) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "DECLARE ro BIT[%d]\n", s.ClassicalWidth())
	for i, g := range s.Gates {
		name, ok := quilNames[g.Op]
		if g.Op == MCZ {
			name, ok = strings.Repeat("CONTROLLED ", len(g.Targets)-1)+"Z", true
		}
		if !ok {
			return "", fmt.Errorf("quil: gate %d: %w: %s", i, ErrUnsupportedGate, g.Op)
		}
		b.WriteString(name)
		if len(g.Params) > 0 {
			b.WriteString("(")
			for j, p := range g.Params {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(formatAngle(p))
			}
			b.WriteString(")")
		}
		for _, q := range g.Targets {
			fmt.Fprintf(&b, " %d", q)
		}
		b.WriteString("\n")
	}
	for c, q := range s.ClassicalMap() {
		if q < 0 {
			continue
		}
		fmt.Fprintf(&b, "MEASURE %d ro[%d]\n", q, c)
	}
	return b.String(), nil
}

// IonQGate is one entry of an IonQ JSON circuit.
type IonQGate struct {
	Gate     string   `json:"gate"`
	Targets  []int    `json:"targets,omitempty"`
	Controls []int    `json:"controls,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
}

// IonQProgram is the IonQ JSON circuit body. IonQ measures every qubit.
type IonQProgram struct {
	Qubits  int        `json:"qubits"`
	Circuit []IonQGate `json:"circuit"`
}

// ToIonQ renders the circuit in IonQ's native JSON gate format.
func ToIonQ(s Spec) (IonQProgram, error) {
	prog := IonQProgram{Qubits: s.Qubits, Circuit: make([]IonQGate, 0, len(s.Gates))}
	for i, g := range s.Gates {
		var ig IonQGate
		switch g.Op {
		case H, X, Y, Z, S, T:
			ig = IonQGate{Gate: string(g.Op), Targets: g.Targets}
		case SDG:
			ig = IonQGate{Gate: "si", Targets: g.Targets}
		case TDG:
			ig = IonQGate{Gate: "ti", Targets: g.Targets}
		case RX, RY, RZ:
			theta := g.Angle()
			ig = IonQGate{Gate: string(g.Op), Targets: g.Targets, Rotation: &theta}
		case P:
			// P and RZ differ by a global phase on an uncontrolled qubit.
			theta := g.Angle()
			ig = IonQGate{Gate: "rz", Targets: g.Targets, Rotation: &theta}
		case CX:
			ig = IonQGate{Gate: "cnot", Controls: g.Targets[:1], Targets: g.Targets[1:]}
		case CCX:
			ig = IonQGate{Gate: "cnot", Controls: g.Targets[:2], Targets: g.Targets[2:]}
		case CZ, MCZ:
			n := len(g.Targets)
			ig = IonQGate{Gate: "z", Controls: g.Targets[:n-1], Targets: g.Targets[n-1:]}
		case SWAP:
			ig = IonQGate{Gate: "swap", Targets: g.Targets}
		default:
			return IonQProgram{}, fmt.Errorf("ionq: gate %d: %w: %s", i, ErrUnsupportedGate, g.Op)
		}
		prog.Circuit = append(prog.Circuit, ig)
	}
	return prog, nil
}
