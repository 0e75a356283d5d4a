package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Backend kinds accepted in the backend file.
const (
	KindStateVector = "statevector"
	KindRemote      = "remote"
)

// BackendConfig declares one backend adapter. Credentials are never stored
// in the file; TokenEnv names the environment variable that holds them.
type BackendConfig struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Latency string `json:"latency,omitempty"`

	MaxQubits int `json:"max_qubits,omitempty"`

	// State-vector settings.
	ReadoutError float64 `json:"readout_error,omitempty"`
	Seed         uint64  `json:"seed,omitempty"`
	Parallelism  int     `json:"parallelism,omitempty"`

	// Remote settings.
	Endpoint       string   `json:"endpoint,omitempty"`
	Target         string   `json:"target,omitempty"`
	Format         string   `json:"format,omitempty"`
	TokenEnv       string   `json:"token_env,omitempty"`
	SupportsGPU    bool     `json:"supports_gpu,omitempty"`
	SupportsNoise  bool     `json:"supports_noise,omitempty"`
	ConcurrentSafe bool     `json:"concurrent_safe,omitempty"`
	GRPCHealthAddr string   `json:"grpc_health_addr,omitempty"`
	PollInterval   Duration `json:"poll_interval,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("500ms").
type Duration time.Duration

// UnmarshalJSON accepts a duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// DefaultBackends is used when no backend file is configured.
func DefaultBackends() []BackendConfig {
	return []BackendConfig{{ID: "local-sim", Kind: KindStateVector, Latency: "low"}}
}

// LoadBackends reads and validates the backend file at path. An empty path
// yields DefaultBackends.
func LoadBackends(path string) ([]BackendConfig, error) {
	if path == "" {
		return DefaultBackends(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backends file: %w", err)
	}
	return ParseBackends(data)
}

// ParseBackends decodes a JSON backend list.
func ParseBackends(data []byte) ([]BackendConfig, error) {
	var cfgs []BackendConfig
	if err := json.Unmarshal(data, &cfgs); err != nil {
		return nil, fmt.Errorf("parse backends: %w", err)
	}
	if len(cfgs) == 0 {
		return nil, errors.New("parse backends: no backends declared")
	}
	seen := make(map[string]bool, len(cfgs))
	for i, c := range cfgs {
		if c.ID == "" {
			return nil, fmt.Errorf("parse backends: entry %d has no id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("parse backends: duplicate id %q", c.ID)
		}
		seen[c.ID] = true
		switch c.Kind {
		case KindStateVector:
		case KindRemote:
			if c.Endpoint == "" {
				return nil, fmt.Errorf("parse backends: remote backend %q has no endpoint", c.ID)
			}
		default:
			return nil, fmt.Errorf("parse backends: backend %q has unknown kind %q", c.ID, c.Kind)
		}
	}
	return cfgs, nil
}
