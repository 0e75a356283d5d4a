// Package setup builds a backend registry from declarative configuration.
package setup

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/backend/local"
	"github.com/seantiz/qexec/internal/backend/remote"
	"github.com/seantiz/qexec/internal/config"
)

// Build constructs and registers one adapter per entry, in file order. The
// returned cleanup releases adapter connections and must be called once the
// registry is no longer used.
func Build(cfgs []config.BackendConfig, logger *slog.Logger) (*backend.Registry, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := backend.NewRegistry(logger)
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("backend cleanup failed", "error", err)
			}
		}
	}

	for _, c := range cfgs {
		a, closer, err := newAdapter(c, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("backend %q: %w", c.ID, err)
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		if err := reg.Register(c.ID, a); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return reg, cleanup, nil
}

func newAdapter(c config.BackendConfig, logger *slog.Logger) (backend.Adapter, func() error, error) {
	var latency backend.LatencyClass
	if c.Latency != "" {
		l, err := backend.ParseLatency(c.Latency)
		if err != nil {
			return nil, nil, err
		}
		latency = l
	}

	switch c.Kind {
	case config.KindStateVector:
		return local.New(local.Config{
			Name:         c.ID,
			MaxQubits:    c.MaxQubits,
			ReadoutError: c.ReadoutError,
			Seed:         c.Seed,
			Parallelism:  c.Parallelism,
			Latency:      latency,
		}), nil, nil

	case config.KindRemote:
		var token string
		if c.TokenEnv != "" {
			token = os.Getenv(c.TokenEnv)
			if token == "" {
				logger.Warn("backend token variable is empty", "backend_id", c.ID, "token_env", c.TokenEnv)
			}
		}
		b, err := remote.New(remote.Config{
			ID:             c.ID,
			Name:           cmp.Or(c.Target, c.ID),
			Endpoint:       c.Endpoint,
			Target:         c.Target,
			Format:         c.Format,
			Token:          token,
			MaxQubits:      c.MaxQubits,
			SupportsGPU:    c.SupportsGPU,
			SupportsNoise:  c.SupportsNoise,
			Latency:        latency,
			ConcurrentSafe: c.ConcurrentSafe,
			PollInterval:   time.Duration(c.PollInterval),
			GRPCHealthAddr: c.GRPCHealthAddr,
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
	return nil, nil, errors.New("unknown backend kind " + c.Kind)
}
