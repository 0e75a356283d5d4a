package circuit

import (
	"encoding/json"
	"math"
	"slices"
	"strings"
)

// Op names a gate operation.
type Op string

// Supported gate operations. Two-qubit controlled gates take targets as
// [control, target]; CCX takes [control, control, target]; MCZ applies a
// phase flip when every listed qubit is set.
const (
	H    Op = "h"
	X    Op = "x"
	Y    Op = "y"
	Z    Op = "z"
	S    Op = "s"
	SDG  Op = "sdg"
	T    Op = "t"
	TDG  Op = "tdg"
	RX   Op = "rx"
	RY   Op = "ry"
	RZ   Op = "rz"
	P    Op = "p"
	CX   Op = "cx"
	CZ   Op = "cz"
	SWAP Op = "swap"
	CP   Op = "cp"
	CCX  Op = "ccx"
	MCZ  Op = "mcz"
)

// AngleTolerance is the tolerance used when comparing rotation angles.
const AngleTolerance = 1e-9

type opInfo struct {
	arity       int // 0 means two or more
	params      int
	selfInverse bool
	symmetric   bool
	rotation    bool
	inverse     Op
}

var ops = map[Op]opInfo{
	H:    {arity: 1, selfInverse: true},
	X:    {arity: 1, selfInverse: true},
	Y:    {arity: 1, selfInverse: true},
	Z:    {arity: 1, selfInverse: true},
	S:    {arity: 1, inverse: SDG},
	SDG:  {arity: 1, inverse: S},
	T:    {arity: 1, inverse: TDG},
	TDG:  {arity: 1, inverse: T},
	RX:   {arity: 1, params: 1, rotation: true},
	RY:   {arity: 1, params: 1, rotation: true},
	RZ:   {arity: 1, params: 1, rotation: true},
	P:    {arity: 1, params: 1, rotation: true},
	CX:   {arity: 2, selfInverse: true},
	CZ:   {arity: 2, selfInverse: true, symmetric: true},
	SWAP: {arity: 2, selfInverse: true, symmetric: true},
	CP:   {arity: 2, params: 1, rotation: true, symmetric: true},
	CCX:  {arity: 3, selfInverse: true},
	MCZ:  {arity: 0, selfInverse: true, symmetric: true},
}

var opAliases = map[string]Op{
	"cnot":    CX,
	"toffoli": CCX,
	"phase":   P,
	"cphase":  CP,
	"si":      SDG,
	"ti":      TDG,
}

// ParseOp resolves a gate name, case-insensitively, including common aliases.
func ParseOp(name string) (Op, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if op, ok := opAliases[n]; ok {
		return op, true
	}
	op := Op(n)
	_, ok := ops[op]
	return op, ok
}

// UnmarshalJSON accepts any spelling ParseOp accepts. Unknown names are kept
// verbatim so Validate can report them.
func (o *Op) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if op, ok := ParseOp(s); ok {
		*o = op
		return nil
	}
	*o = Op(s)
	return nil
}

// Known reports whether the op is part of the supported gate set.
func (o Op) Known() bool {
	_, ok := ops[o]
	return ok
}

// Gate is a single operation applied to one or more qubits.
type Gate struct {
	Op      Op        `json:"op"`
	Targets []int     `json:"targets"`
	Params  []float64 `json:"params,omitempty"`
}

// Angle returns the rotation angle of a parameterized gate, or zero.
func (g Gate) Angle() float64 {
	if len(g.Params) == 0 {
		return 0
	}
	return g.Params[0]
}

// Clone returns a deep copy of the gate.
func (g Gate) Clone() Gate {
	return Gate{Op: g.Op, Targets: slices.Clone(g.Targets), Params: slices.Clone(g.Params)}
}

// Equal reports exact equality, including parameters.
func (g Gate) Equal(o Gate) bool {
	return g.Op == o.Op && slices.Equal(g.Targets, o.Targets) && slices.Equal(g.Params, o.Params)
}

// IsRotation reports whether the gate is a single-parameter rotation whose
// consecutive applications add their angles.
func (g Gate) IsRotation() bool {
	return ops[g.Op].rotation
}

// IsSelfInverse reports whether applying the gate twice is the identity.
func (g Gate) IsSelfInverse() bool {
	return ops[g.Op].selfInverse
}

// Arity returns the number of qubits the gate touches.
func (g Gate) Arity() int {
	return len(g.Targets)
}

// SameSupport reports whether two gates of the same op act on the same
// qubits in equivalent roles. Symmetric gates compare as sets; CCX compares
// its controls as a set.
func SameSupport(a, b Gate) bool {
	if len(a.Targets) != len(b.Targets) {
		return false
	}
	info := ops[a.Op]
	switch {
	case info.symmetric:
		return sameSet(a.Targets, b.Targets)
	case a.Op == CCX && b.Op == CCX:
		return sameSet(a.Targets[:2], b.Targets[:2]) && a.Targets[2] == b.Targets[2]
	default:
		return slices.Equal(a.Targets, b.Targets)
	}
}

func sameSet(a, b []int) bool {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// InversePair reports whether b undoes a, up to global phase.
func InversePair(a, b Gate) bool {
	if !SameSupport(a, b) {
		return false
	}
	switch {
	case a.Op == b.Op && ops[a.Op].selfInverse:
		return true
	case ops[a.Op].inverse != "" && ops[a.Op].inverse == b.Op:
		return true
	case a.Op == b.Op && ops[a.Op].rotation:
		return IsZeroAngle(a.Angle() + b.Angle())
	}
	return false
}

// Inverse returns the gate that undoes g.
func Inverse(g Gate) Gate {
	out := g.Clone()
	info := ops[g.Op]
	switch {
	case info.inverse != "":
		out.Op = info.inverse
	case info.rotation:
		out.Params[0] = -g.Params[0]
	}
	return out
}

// NormalizeAngle maps an angle into [0, 2π).
func NormalizeAngle(theta float64) float64 {
	r := math.Mod(theta, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	if r >= 2*math.Pi-AngleTolerance {
		return 0
	}
	return r
}

// IsZeroAngle reports whether theta is a multiple of 2π within AngleTolerance.
func IsZeroAngle(theta float64) bool {
	r := NormalizeAngle(theta)
	return r < AngleTolerance
}
