package postproc

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/seantiz/qexec/internal/model"
)

// anomalySigmas is the deviation, in standard deviations, above which a
// measured hit rate is flagged.
const anomalySigmas = 2.0

// SearchParams describes an amplitude search run over SpaceSize items, of
// which Marked are solutions (zero when unknown), after Iterations rounds.
// Oracle reports whether an index is a solution.
type SearchParams struct {
	SpaceSize  uint64            `json:"space_size"`
	Marked     uint64            `json:"marked_count,omitempty"`
	Iterations int               `json:"iterations"`
	Oracle     func(uint64) bool `json:"-"`
}

func (s SearchParams) validate() error {
	switch {
	case s.SpaceSize < 2:
		return fmt.Errorf("%w: search space %d must hold at least 2 items", ErrInvalidParams, s.SpaceSize)
	case s.Marked > s.SpaceSize:
		return fmt.Errorf("%w: %d marked items in a space of %d", ErrInvalidParams, s.Marked, s.SpaceSize)
	case s.Iterations < 0:
		return fmt.Errorf("%w: negative iteration count", ErrInvalidParams)
	case s.Oracle == nil:
		return fmt.Errorf("%w: an oracle is required", ErrInvalidParams)
	}
	return nil
}

// OptimalIterations returns floor(π/4·√(n/m)), or 0 when m is zero or
// exceeds n.
func OptimalIterations(n, m uint64) int {
	if m == 0 || m > n {
		return 0
	}
	return int(math.Floor(math.Pi / 4 * math.Sqrt(float64(n)/float64(m))))
}

// SuccessProbability returns sin²((2k+1)θ) with θ = asin(√(m/n)).
func SuccessProbability(n, m uint64, k int) float64 {
	if n == 0 || m > n {
		return 0
	}
	theta := math.Asin(math.Sqrt(float64(m) / float64(n)))
	s := math.Sin(float64(2*k+1) * theta)
	return s * s
}

// DoublingSchedule returns the iteration counts to try in turn when the
// number of marked items is unknown: 1, 2, 4, ... capped at the optimum for
// a single marked item.
func DoublingSchedule(n uint64) []int {
	limit := OptimalIterations(n, 1)
	if limit < 1 {
		return []int{1}
	}
	var out []int
	for k := 1; k < limit; k *= 2 {
		out = append(out, k)
	}
	return append(out, limit)
}

// AmplitudeSearch compares the measured hit rate with the predicted success
// probability and reports the most frequent solution found. A deviation of
// more than two standard deviations is flagged as an anomaly.
func (p *Processor) AmplitudeSearch(samples map[string]int, params SearchParams) (model.AttackResult, error) {
	if err := params.validate(); err != nil {
		return model.AttackResult{}, err
	}
	decoded, shots, err := p.decode(samples, 0)
	if err != nil {
		return model.AttackResult{}, err
	}

	out := newResult(model.AlgorithmAmplitudeSearch)
	out.SamplesConsumed = shots

	k := params.Iterations
	if k == 0 && params.Marked > 0 {
		k = OptimalIterations(params.SpaceSize, params.Marked)
	}
	out.Diagnostics["iterations"] = float64(k)

	var hits []sample
	hitCount, outOfRange := 0, 0
	for _, s := range decoded {
		if s.value >= params.SpaceSize {
			outOfRange += s.count
			continue
		}
		if params.Oracle(s.value) {
			hits = append(hits, s)
			hitCount += s.count
		}
	}
	hitRate := float64(hitCount) / float64(shots)
	out.Confidence = hitRate
	out.Diagnostics["hit_rate"] = hitRate
	out.Diagnostics["out_of_range"] = float64(outOfRange)

	if len(hits) > 0 {
		best := slices.MinFunc(hits, func(a, b sample) int {
			return cmp.Or(cmp.Compare(b.count, a.count), cmp.Compare(a.value, b.value))
		})
		out.DerivedValue = []int64{int64(best.value)}
	}

	anomaly := false
	if params.Marked > 0 {
		predicted := SuccessProbability(params.SpaceSize, params.Marked, k)
		sigma := max(math.Sqrt(predicted*(1-predicted)/float64(shots)), 0.5/float64(shots))
		z := math.Abs(hitRate-predicted) / sigma
		anomaly = z > anomalySigmas
		out.Diagnostics["predicted"] = predicted
		out.Diagnostics["sigma"] = sigma
		out.Diagnostics["z_score"] = z
		if anomaly {
			out.Diagnostics["anomaly"] = 1
			out.Note = fmt.Sprintf("hit rate %.3f deviates from predicted %.3f by %.1f sigma; re-execute", hitRate, predicted, z)
		}
	} else if hitCount == 0 {
		for _, next := range DoublingSchedule(params.SpaceSize) {
			if next > k {
				out.Diagnostics["next_iterations"] = float64(next)
				out.Note = fmt.Sprintf("no marked item found; retry with %d iterations", next)
				break
			}
		}
		if out.Note == "" {
			out.Note = "no marked item found within the doubling schedule"
		}
	}

	out.Success = hitCount > 0 && !anomaly
	return out, nil
}
