package api

import (
	"net/http"
	"slices"
	"testing"

	"github.com/seantiz/qexec/internal/model"
)

// periodFourSamples is the ideal counting register for a = 7, N = 15 with
// eight counting bits, plus a little noise.
const periodFourSamples = `{"00000000": 250, "01000000": 250, "10000000": 250, "11000000": 250, "00000011": 12}`

func TestOrderFindingRawSamples(t *testing.T) {
	env := newTestEnv(t)
	body := `{"modulus": 15, "base": 7, "counting_bits": 8, "raw_samples": ` + periodFourSamples + `}`

	resp := env.post(t, "/v1/postprocess/order-finding", body)
	expectStatus(t, resp, http.StatusOK)
	out := decode[model.AttackResult](t, resp)
	if !out.Success || !slices.Equal(out.DerivedValue, []int64{3, 5}) {
		t.Fatalf("result = %+v, want factors [3 5]", out)
	}
	if out.Algorithm != model.AlgorithmOrderFinding || out.SamplesConsumed != 1012 {
		t.Errorf("result = %+v", out)
	}

	attacks := decode[listAttacksResponse](t, env.get(t, "/v1/attacks"))
	if attacks.Total != 1 || len(attacks.Attacks) != 1 || !attacks.Attacks[0].Success {
		t.Errorf("attacks = %+v", attacks)
	}
}

func TestOrderFindingFromTask(t *testing.T) {
	env := newTestEnv(t)
	// H on the top two counting qubits spreads the register evenly over
	// 0, 64, 128 and 192.
	circ := `{"qubit_count": 8,
		"gates": [{"op": "h", "targets": [6]}, {"op": "h", "targets": [7]}],
		"measurement_map": {"0": 0, "1": 1, "2": 2, "3": 3, "4": 4, "5": 5, "6": 6, "7": 7}}`
	task := decode[model.Task](t, env.post(t, "/v1/tasks?wait=true", `{"circuit": `+circ+`, "shot_count": 1000}`))
	if task.Status != model.StatusCompleted {
		t.Fatalf("task = %+v", task)
	}

	body := `{"task_id": "` + task.ID + `", "modulus": 15, "base": 7, "counting_bits": 8}`
	resp := env.post(t, "/v1/postprocess/order-finding", body)
	expectStatus(t, resp, http.StatusOK)
	out := decode[model.AttackResult](t, resp)
	if !out.Success || !slices.Equal(out.DerivedValue, []int64{3, 5}) || out.TaskID != task.ID {
		t.Errorf("result = %+v, want factors [3 5] for %s", out, task.ID)
	}
}

func TestOrderFindingErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"bad modulus", `{"modulus": 2, "base": 7, "counting_bits": 8, "raw_samples": ` + periodFourSamples + `}`, http.StatusBadRequest, kindInvalidRequest},
		{"too few samples", `{"modulus": 15, "base": 7, "counting_bits": 8, "raw_samples": {"01000000": 3}}`, http.StatusUnprocessableEntity, kindInsufficientSamples},
		{"unknown task", `{"task_id": "missing", "modulus": 15, "base": 7, "counting_bits": 8}`, http.StatusNotFound, kindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.post(t, "/v1/postprocess/order-finding", tt.body), tt.status, tt.kind)
		})
	}
}

func TestAmplitudeSearch(t *testing.T) {
	env := newTestEnv(t)
	body := `{"space_size": 16, "marked_count": 1, "iterations": 3, "marked_items": [5],
		"raw_samples": {"0101": 95, "0000": 3, "1111": 2}}`

	resp := env.post(t, "/v1/postprocess/amplitude-search", body)
	expectStatus(t, resp, http.StatusOK)
	out := decode[model.AttackResult](t, resp)
	if !out.Success || !slices.Equal(out.DerivedValue, []int64{5}) || out.Algorithm != model.AlgorithmAmplitudeSearch {
		t.Errorf("result = %+v, want item 5", out)
	}
}

func TestAmplitudeSearchErrors(t *testing.T) {
	env := newTestEnv(t)

	missing := `{"space_size": 16, "iterations": 3, "raw_samples": {"0101": 100}}`
	expectError(t, env.post(t, "/v1/postprocess/amplitude-search", missing), http.StatusBadRequest, kindInvalidRequest)

	few := `{"space_size": 16, "iterations": 3, "marked_items": [5], "raw_samples": {"0101": 10}}`
	expectError(t, env.post(t, "/v1/postprocess/amplitude-search", few), http.StatusUnprocessableEntity, kindInsufficientSamples)
}
