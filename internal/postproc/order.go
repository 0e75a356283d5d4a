package postproc

import (
	"cmp"
	"fmt"
	"math/big"
	"slices"

	"github.com/seantiz/qexec/internal/model"
)

// maxCountingBits keeps y·q and p·2^n within the range of the big-integer
// comparison inputs built from uint64 values.
const maxCountingBits = 62

// Bounds on the fallback search when no measured denominator is the period.
const (
	maxMultiple      = 8
	maxLCMCandidates = 16
)

// OrderParams describes an order-finding run: the period of a^x mod N was
// estimated with CountingBits bits of phase.
type OrderParams struct {
	N            int64 `json:"modulus"`
	A            int64 `json:"base"`
	CountingBits int   `json:"counting_bits"`
}

func (o OrderParams) validate() error {
	switch {
	case o.N < 3:
		return fmt.Errorf("%w: modulus %d must be at least 3", ErrInvalidParams, o.N)
	case o.A < 2 || o.A >= o.N:
		return fmt.Errorf("%w: base %d must be in [2, %d)", ErrInvalidParams, o.A, o.N)
	case o.CountingBits < 1 || o.CountingBits > maxCountingBits:
		return fmt.Errorf("%w: counting bits %d outside [1, %d]", ErrInvalidParams, o.CountingBits, maxCountingBits)
	}
	return nil
}

// Fraction is a convergent p/q.
type Fraction struct {
	P, Q uint64
}

// Convergents returns the continued-fraction convergents of num/den in
// order of increasing denominator.
func Convergents(num, den uint64) []Fraction {
	if den == 0 {
		return nil
	}
	var out []Fraction
	// h and k hold the two previous numerators and denominators.
	h1, h2 := uint64(1), uint64(0)
	k1, k2 := uint64(0), uint64(1)
	for den != 0 {
		a := num / den
		num, den = den, num%den
		h := a*h1 + h2
		k := a*k1 + k2
		out = append(out, Fraction{P: h, Q: k})
		h1, h2 = h, h1
		k1, k2 = k, k1
	}
	return out
}

// PeriodCandidate returns the smallest convergent denominator q ≤ maxQ of
// y/2^n with |y/2^n − p/q| < 1/2^(n+1).
func PeriodCandidate(y uint64, n int, maxQ int64) (int64, bool) {
	den := uint64(1) << n
	if y >= den {
		return 0, false
	}
	for _, f := range Convergents(y, den) {
		if f.Q > uint64(maxQ) {
			break
		}
		// |y/2^n − p/q| < 1/2^(n+1)  ⇔  2·|y·q − p·2^n| < q
		lhs := new(big.Int).Mul(new(big.Int).SetUint64(y), new(big.Int).SetUint64(f.Q))
		lhs.Sub(lhs, new(big.Int).Mul(new(big.Int).SetUint64(f.P), new(big.Int).SetUint64(den)))
		lhs.Abs(lhs).Lsh(lhs, 1)
		if lhs.Cmp(new(big.Int).SetUint64(f.Q)) < 0 {
			return int64(f.Q), true
		}
	}
	return 0, false
}

// OrderFinding recovers the period r of a^x mod N from phase samples and
// derives factors from gcd(a^(r/2) ± 1, N).
func (p *Processor) OrderFinding(samples map[string]int, params OrderParams) (model.AttackResult, error) {
	if err := params.validate(); err != nil {
		return model.AttackResult{}, err
	}
	decoded, shots, err := p.decode(samples, (uint64(1)<<params.CountingBits)-1)
	if err != nil {
		return model.AttackResult{}, err
	}

	out := newResult(model.AlgorithmOrderFinding)
	out.SamplesConsumed = shots

	N := big.NewInt(params.N)
	a := big.NewInt(params.A)
	if g := new(big.Int).GCD(nil, nil, a, N); g.Cmp(big.NewInt(1)) != 0 {
		f := g.Int64()
		out.Success = true
		out.DerivedValue = []int64{min(f, params.N/f), max(f, params.N/f)}
		out.Confidence = 1
		out.Note = "base shares a factor with the modulus; no period needed"
		return out, nil
	}

	// q of every sample that has an acceptable convergent.
	type observation struct {
		q     int64
		count int
	}
	var obs []observation
	freq := make(map[int64]int)
	valid := 0
	for _, s := range decoded {
		q, ok := PeriodCandidate(s.value, params.CountingBits, params.N)
		if !ok {
			continue
		}
		obs = append(obs, observation{q: q, count: s.count})
		freq[q] += s.count
		valid += s.count
	}
	out.Diagnostics["valid_samples"] = float64(valid)
	out.Diagnostics["distinct_candidates"] = float64(len(freq))
	if valid == 0 {
		return model.AttackResult{}, fmt.Errorf("%w: no sample yields a period candidate", ErrInsufficientSamples)
	}

	ranked := make([]int64, 0, len(freq))
	for q := range freq {
		ranked = append(ranked, q)
	}
	slices.SortFunc(ranked, func(x, y int64) int {
		return cmp.Or(cmp.Compare(freq[y], freq[x]), cmp.Compare(x, y))
	})

	support := func(r int64) int {
		n := 0
		for _, o := range obs {
			if r%o.q == 0 {
				n += o.count
			}
		}
		return n
	}

	tried := make(map[int64]bool)
	var validPeriod int64
	attempt := func(r int64) bool {
		if r < 1 || tried[r] {
			return false
		}
		tried[r] = true
		if !isPeriod(a, r, N) {
			return false
		}
		if validPeriod == 0 {
			validPeriod = r
		}
		f1, f2, ok := splitWithPeriod(a, r, N)
		if !ok {
			return false
		}
		out.Success = true
		out.DerivedValue = []int64{f1, f2}
		out.Confidence = float64(support(r)) / float64(valid)
		out.Diagnostics["period"] = float64(r)
		return true
	}

	for _, q := range ranked {
		if attempt(q) {
			return out, nil
		}
	}
	// The measured q may be a proper divisor of r when p and r share a
	// factor; try small multiples and pairwise lcms.
	for _, q := range ranked {
		for k := int64(2); k <= maxMultiple && q <= params.N/k; k++ {
			if attempt(k * q) {
				out.Note = "period recovered from a multiple of the measured denominator"
				return out, nil
			}
		}
	}
	top := ranked[:min(len(ranked), maxLCMCandidates)]
	for i, q1 := range top {
		for _, q2 := range top[i+1:] {
			if l, ok := lcmWithin(q1, q2, params.N); ok && attempt(l) {
				out.Note = "period recovered from the lcm of two denominators"
				return out, nil
			}
		}
	}

	if validPeriod != 0 {
		out.Diagnostics["period"] = float64(validPeriod)
		out.Confidence = float64(support(validPeriod)) / float64(valid)
		out.Note = fmt.Sprintf("period %d is odd or yields only trivial factors; retry with another base", validPeriod)
		return out, nil
	}
	out.Note = "no candidate satisfies a^r ≡ 1 (mod N)"
	return out, nil
}

func isPeriod(a *big.Int, r int64, N *big.Int) bool {
	return new(big.Int).Exp(a, big.NewInt(r), N).Cmp(big.NewInt(1)) == 0
}

// splitWithPeriod returns the nontrivial factors gcd(a^(r/2) ± 1, N) when r
// is even and a^(r/2) ≢ −1 (mod N).
func splitWithPeriod(a *big.Int, r int64, N *big.Int) (int64, int64, bool) {
	if r%2 != 0 {
		return 0, 0, false
	}
	one := big.NewInt(1)
	half := new(big.Int).Exp(a, big.NewInt(r/2), N)
	if new(big.Int).Add(half, one).Cmp(N) == 0 {
		return 0, 0, false
	}
	for _, delta := range []int64{-1, 1} {
		v := new(big.Int).Add(half, big.NewInt(delta))
		g := new(big.Int).GCD(nil, nil, v.Abs(v), N)
		if g.Cmp(one) > 0 && g.Cmp(N) < 0 {
			f := g.Int64()
			other := new(big.Int).Div(N, g).Int64()
			return min(f, other), max(f, other), true
		}
	}
	return 0, 0, false
}

// lcmWithin returns lcm(a, b) when it does not exceed limit.
func lcmWithin(a, b, limit int64) (int64, bool) {
	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	a /= x
	if a > limit/b {
		return 0, false
	}
	return a * b, true
}
