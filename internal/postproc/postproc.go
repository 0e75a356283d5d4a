// Package postproc turns raw measurement samples into classical answers:
// integer factors from order-finding runs and marked items from amplitude
// search runs.
//
// Bitstrings are read most significant classical bit first. For order
// finding, the counting register is the low CountingBits classical bits.
package postproc

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/seantiz/qexec/internal/model"
)

// DefaultMinShots is the smallest sample count the processor accepts.
const DefaultMinShots = 64

// Post-processing errors.
var (
	ErrInsufficientSamples = errors.New("insufficient samples")
	ErrInvalidParams       = errors.New("invalid post-processing parameters")
	ErrFailedExecution     = errors.New("execution result carries an error")
)

// Processor derives AttackResults from samples.
type Processor struct {
	MinShots int
}

// New returns a processor that rejects fewer than minShots samples. A
// non-positive value selects DefaultMinShots.
func New(minShots int) *Processor {
	if minShots <= 0 {
		minShots = DefaultMinShots
	}
	return &Processor{MinShots: minShots}
}

// Request selects the algorithm for Process. Exactly one of Order and
// Search must be set.
type Request struct {
	Order  *OrderParams  `json:"order_finding,omitempty"`
	Search *SearchParams `json:"amplitude_search,omitempty"`
}

// Process post-processes a finished execution.
func (p *Processor) Process(res model.ExecutionResult, req Request) (model.AttackResult, error) {
	if res.Error != "" {
		return model.AttackResult{}, fmt.Errorf("%w: %s", ErrFailedExecution, res.Error)
	}
	if res.Shots > 0 && res.Shots < p.MinShots {
		return model.AttackResult{}, fmt.Errorf("%w: %d shots, need %d", ErrInsufficientSamples, res.Shots, p.MinShots)
	}

	var (
		out model.AttackResult
		err error
	)
	switch {
	case req.Order != nil && req.Search == nil:
		out, err = p.OrderFinding(res.Samples, *req.Order)
	case req.Search != nil && req.Order == nil:
		out, err = p.AmplitudeSearch(res.Samples, *req.Search)
	default:
		return model.AttackResult{}, fmt.Errorf("%w: exactly one algorithm must be requested", ErrInvalidParams)
	}
	if err != nil {
		return model.AttackResult{}, err
	}
	out.TaskID = res.TaskID
	return out, nil
}

// sample is one distinct measured value and its count.
type sample struct {
	value uint64
	count int
}

// decode parses bitstrings and enforces the shot threshold. mask keeps the
// low bits of each value; zero keeps all of them.
func (p *Processor) decode(samples map[string]int, mask uint64) ([]sample, int, error) {
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("%w: no samples", ErrInsufficientSamples)
	}
	merged := make(map[uint64]int, len(samples))
	shots := 0
	for bits, n := range samples {
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: negative count for %q", ErrInvalidParams, bits)
		}
		if n == 0 {
			continue
		}
		v, err := strconv.ParseUint(bits, 2, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: bitstring %q: %v", ErrInvalidParams, bits, err)
		}
		if mask != 0 {
			v &= mask
		}
		merged[v] += n
		shots += n
	}
	minShots := p.MinShots
	if minShots <= 0 {
		minShots = DefaultMinShots
	}
	if shots < minShots {
		return nil, shots, fmt.Errorf("%w: %d shots, need %d", ErrInsufficientSamples, shots, minShots)
	}
	out := make([]sample, 0, len(merged))
	for v, n := range merged {
		out = append(out, sample{value: v, count: n})
	}
	return out, shots, nil
}

func newResult(algorithm string) model.AttackResult {
	return model.AttackResult{
		ID:          model.NewID(),
		Algorithm:   algorithm,
		Diagnostics: make(map[string]float64),
		CreatedAt:   time.Now().UTC(),
	}
}
