package api

import (
	"net/http"
	"testing"

	"github.com/seantiz/qexec/internal/backend"
)

func TestListBackends(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/v1/backends")
	expectStatus(t, resp, http.StatusOK)
	descs := decode[[]backend.Descriptor](t, resp)
	if len(descs) != 1 || descs[0].ID != "sim" || descs[0].Capabilities.MaxQubits != 10 {
		t.Errorf("backends = %+v", descs)
	}
}

func TestSelectBackend(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/v1/backends/select", `{"requirements": {"min_qubits": 4}}`)
	expectStatus(t, resp, http.StatusOK)
	if d := decode[backend.Descriptor](t, resp); d.ID != "sim" {
		t.Errorf("selected %q, want sim", d.ID)
	}

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"too many qubits", `{"requirements": {"min_qubits": 64}}`, http.StatusUnprocessableEntity, kindNoCapableBackend},
		{"unknown explicit", `{"policy": {"kind": "explicit", "backend_id": "qpu"}}`, http.StatusUnprocessableEntity, kindNoCapableBackend},
		{"exhausted fallback", `{"policy": {"kind": "auto_with_fallback", "order": ["a", "b"]}}`, http.StatusUnprocessableEntity, kindNoCapableBackend},
		{"unknown policy", `{"policy": {"kind": "round_robin"}}`, http.StatusBadRequest, kindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.post(t, "/v1/backends/select", tt.body), tt.status, tt.kind)
		})
	}
}

func TestProbeBackends(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/v1/backends/probe", "")
	expectStatus(t, resp, http.StatusOK)
	descs := decode[[]backend.Descriptor](t, resp)
	if len(descs) != 1 || descs[0].Health != backend.HealthAvailable || descs[0].LastProbe == nil {
		t.Errorf("probe = %+v", descs)
	}
}

func TestOptimizeCircuit(t *testing.T) {
	env := newTestEnv(t)
	body := `{"level": 1, "circuit": {"qubit_count": 1, "gates": [{"op": "h", "targets": [0]}, {"op": "h", "targets": [0]}]}}`

	resp := env.post(t, "/v1/circuits/optimize", body)
	expectStatus(t, resp, http.StatusOK)
	out := decode[optimizeResponse](t, resp)
	if len(out.Circuit.Gates) != 0 || out.Before.TotalGates != 2 || out.After.TotalGates != 0 {
		t.Errorf("optimize = %+v", out)
	}

	bad := `{"level": 9, "circuit": {"qubit_count": 1, "gates": []}}`
	expectError(t, env.post(t, "/v1/circuits/optimize", bad), http.StatusBadRequest, kindInvalidRequest)

	invalid := `{"circuit": {"qubit_count": 1, "gates": [{"op": "cx", "targets": [0, 1]}]}}`
	expectError(t, env.post(t, "/v1/circuits/optimize", invalid), http.StatusBadRequest, kindInvalidRequest)
}

func TestEstimateCircuit(t *testing.T) {
	env := newTestEnv(t)
	body := `{"shot_count": 100, "circuit": ` + bellCircuit + `}`

	resp := env.post(t, "/v1/circuits/estimate", body)
	expectStatus(t, resp, http.StatusOK)
	out := decode[estimateResponse](t, resp)
	if out.Qubits != 2 || out.TotalGates != 2 || out.TwoQubitGates != 1 || out.Shots != 100 {
		t.Errorf("estimate = %+v", out)
	}
	if out.TotalWallNS <= 0 {
		t.Errorf("total_wall_time_ns = %d, want positive", out.TotalWallNS)
	}
}
