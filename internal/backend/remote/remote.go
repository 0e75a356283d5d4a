// Package remote adapts a provider's HTTP job API (cloud simulators,
// accelerated simulators, hardware) to the backend.Adapter contract.
//
// The provider protocol is the common submit/poll/cancel shape:
//
//	POST   {endpoint}/jobs        submit a program, returns {"id": ...}
//	GET    {endpoint}/jobs/{id}   job status and, once completed, counts
//	DELETE {endpoint}/jobs/{id}   cancel a job
//	GET    {endpoint}/health      liveness
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/circuit"
)

// Polling and request defaults.
const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMaxPollInterval = 5 * time.Second
	DefaultRequestTimeout  = 30 * time.Second

	// pollMaxErrors is the number of consecutive failed status polls
	// tolerated before the job is reported as a retryable failure.
	pollMaxErrors = 5

	// cancelTimeout bounds the best-effort DELETE sent on abort.
	cancelTimeout = 5 * time.Second
)

// Job states reported by providers.
const (
	jobQueued    = "queued"
	jobRunning   = "running"
	jobCompleted = "completed"
	jobFailed    = "failed"
	jobCancelled = "cancelled"
)

// Config holds the connection and capability settings of one remote backend.
type Config struct {
	// ID is the registry id reported in errors and logs. It defaults to Name.
	ID             string
	Name           string
	Endpoint       string
	Target         string
	Format         string
	Token          string
	MaxQubits      int
	SupportsGPU    bool
	SupportsNoise  bool
	Latency        backend.LatencyClass
	ConcurrentSafe bool

	PollInterval    time.Duration
	MaxPollInterval time.Duration
	RequestTimeout  time.Duration

	// GRPCHealthAddr, when set, makes Liveness use the standard gRPC
	// health service at this address instead of GET /health.
	GRPCHealthAddr  string
	GRPCDialOptions []grpc.DialOption

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Backend submits circuits to a remote provider.
type Backend struct {
	id     string
	cfg    Config
	client *http.Client
	logger *slog.Logger

	healthOnce sync.Once
	health     *healthChecker
	healthErr  error
}

var _ backend.Adapter = (*Backend)(nil)

// New validates cfg, applies defaults and returns a remote backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("remote backend: endpoint is required")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	switch cfg.Format {
	case "":
		cfg.Format = circuit.FormatQASM3
	case circuit.FormatQASM3, circuit.FormatQuil, circuit.FormatIonQ:
	default:
		return nil, fmt.Errorf("remote backend: unknown program format %q", cfg.Format)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Target
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Name
	}
	if cfg.Latency == 0 {
		cfg.Latency = backend.LatencyHigh
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = max(DefaultMaxPollInterval, cfg.PollInterval)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{id: cfg.ID, cfg: cfg, client: client, logger: logger.With("backend_id", cfg.ID)}, nil
}

// Capabilities reports the configured capabilities.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:           b.cfg.Name,
		MaxQubits:      b.cfg.MaxQubits,
		SupportsGPU:    b.cfg.SupportsGPU,
		SupportsNoise:  b.cfg.SupportsNoise,
		IsRemote:       true,
		Latency:        b.cfg.Latency,
		ConcurrentSafe: b.cfg.ConcurrentSafe,
		SupportsAbort:  true,
	}
}

// Execute submits the circuit, polls until the provider finishes and
// returns the counts. Cancelling ctx cancels the provider job.
func (b *Backend) Execute(ctx context.Context, spec circuit.Spec, shots int) (backend.Result, error) {
	start := time.Now()
	if spec.Qubits > b.cfg.MaxQubits && b.cfg.MaxQubits > 0 {
		return backend.Result{}, backend.Terminal(b.id,
			fmt.Errorf("circuit needs %d qubits, backend supports %d", spec.Qubits, b.cfg.MaxQubits))
	}
	program, err := b.encode(spec)
	if err != nil {
		return backend.Result{}, backend.Terminal(b.id, err)
	}

	jobID, err := b.submit(ctx, program, shots)
	if err != nil {
		if ctx.Err() != nil {
			return backend.Result{}, ctx.Err()
		}
		return backend.Result{}, err
	}
	b.logger.Debug("remote job submitted", "job_id", jobID)

	job, err := b.await(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			b.abort(jobID)
			return backend.Result{}, ctx.Err()
		}
		return backend.Result{}, err
	}
	return backend.Result{
		Counts:   job.Counts,
		Shots:    shots,
		Duration: time.Since(start),
		JobRef:   jobID,
	}, nil
}

func (b *Backend) encode(spec circuit.Spec) (any, error) {
	switch b.cfg.Format {
	case circuit.FormatQuil:
		return circuit.ToQuil(spec)
	case circuit.FormatIonQ:
		return circuit.ToIonQ(spec)
	default:
		return circuit.ToQASM3(spec)
	}
}

// await polls the job with exponential backoff until it reaches a final
// state. Transient poll failures are tolerated up to pollMaxErrors in a row.
func (b *Backend) await(ctx context.Context, jobID string) (jobStatus, error) {
	interval := b.cfg.PollInterval
	var lastErr error
	failures := 0
	for {
		job, err := b.status(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return jobStatus{}, ctx.Err()
			}
			if !backend.IsRetryable(err) {
				return jobStatus{}, err
			}
			failures++
			lastErr = err
			if failures >= pollMaxErrors {
				return jobStatus{}, fmt.Errorf("poll job %s after %d attempts: %w", jobID, failures, lastErr)
			}
		case job.Status == jobCompleted:
			return job, nil
		case job.Status == jobFailed:
			cause := fmt.Errorf("job %s failed: %s", jobID, job.Error)
			if job.Retryable {
				return jobStatus{}, backend.Retryable(b.id, cause)
			}
			return jobStatus{}, backend.Terminal(b.id, cause)
		case job.Status == jobCancelled:
			return jobStatus{}, backend.Terminal(b.id, fmt.Errorf("job %s cancelled by provider", jobID))
		default:
			failures = 0
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return jobStatus{}, ctx.Err()
		}
		interval = min(interval*2, b.cfg.MaxPollInterval)
	}
}

// abort cancels a provider job on a detached context so that it is sent
// even though the caller's context has ended.
func (b *Backend) abort(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := b.cancel(ctx, jobID); err != nil {
		b.logger.Warn("cancel remote job", "job_id", jobID, "error", err)
		return
	}
	b.logger.Info("remote job cancelled", "job_id", jobID)
}

// Liveness checks the provider's health endpoint, or its gRPC health
// service when configured.
func (b *Backend) Liveness(ctx context.Context) bool {
	if b.cfg.GRPCHealthAddr != "" {
		b.healthOnce.Do(func() {
			b.health, b.healthErr = newHealthChecker(b.cfg.GRPCHealthAddr, b.cfg.GRPCDialOptions...)
		})
		if b.healthErr != nil {
			b.logger.Warn("grpc health client", "error", b.healthErr)
			return false
		}
		return b.health.Serving(ctx)
	}
	return b.ping(ctx) == nil
}

// Close releases the gRPC health connection, if any.
func (b *Backend) Close() error {
	if b.health != nil {
		return b.health.Close()
	}
	return nil
}
