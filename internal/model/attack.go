package model

import "time"

// Algorithm kinds handled by the post-processor.
const (
	AlgorithmOrderFinding    = "order_finding"
	AlgorithmAmplitudeSearch = "amplitude_search"
)

// AttackResult is the classical answer derived from a set of measurement samples.
//
// DerivedValue holds the factor pair for order finding and the marked item
// index for amplitude search.
type AttackResult struct {
	ID              string             `json:"id,omitempty"`
	TaskID          string             `json:"task_id,omitempty"`
	Algorithm       string             `json:"algorithm_kind"`
	Success         bool               `json:"success"`
	DerivedValue    []int64            `json:"derived_value,omitempty"`
	Confidence      float64            `json:"confidence"`
	SamplesConsumed int                `json:"samples_consumed"`
	Diagnostics     map[string]float64 `json:"diagnostics,omitempty"`
	Note            string             `json:"note,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}
