package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/balancer"
	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/optimizer"
	"github.com/seantiz/qexec/internal/worker"
)

// Defaults applied to zero Options fields and TaskSpec fields.
const (
	DefaultWorkerCapacity    = 4
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultProbeTimeout      = 5 * time.Second
	DefaultMissedHeartbeats  = 3
	DefaultTimeout           = 30 * time.Second
	DefaultShots             = 1024
	DefaultRetryBudget       = 3
	DefaultSweepInterval     = time.Second
	DefaultMaxRetained       = 10000
)

// BackendAuto requests automatic backend selection in TaskSpec.BackendID.
const BackendAuto = "auto"

// Batch modes.
const (
	BatchFailFast   = "fail_fast"
	BatchBestEffort = "best_effort"
)

// Executor errors.
var (
	ErrTimeoutExceeded = errors.New("timeout exceeded")
	ErrCancelled       = errors.New("task cancelled")
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskFinished    = errors.New("task already finished")
	ErrExecutorClosed  = errors.New("executor closed")
	ErrNoHealthyWorker = errors.New("no healthy worker")
	ErrNoWorkers       = errors.New("executor needs at least one worker")
	ErrInvalidTask     = errors.New("invalid task")
)

// Options tunes an Executor. Zero fields take the package defaults.
type Options struct {
	WorkerCapacity     int
	HeartbeatInterval  time.Duration
	ProbeTimeout       time.Duration
	MissedHeartbeats   int
	DefaultTimeout     time.Duration
	DefaultShots       int
	DefaultRetryBudget int
	SweepInterval      time.Duration
	MaxRetained        int
}

func (o Options) withDefaults() Options {
	if o.WorkerCapacity <= 0 {
		o.WorkerCapacity = DefaultWorkerCapacity
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.MissedHeartbeats <= 0 {
		o.MissedHeartbeats = DefaultMissedHeartbeats
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.DefaultShots <= 0 {
		o.DefaultShots = DefaultShots
	}
	if o.DefaultRetryBudget < 0 {
		o.DefaultRetryBudget = 0
	} else if o.DefaultRetryBudget == 0 {
		o.DefaultRetryBudget = DefaultRetryBudget
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.MaxRetained <= 0 {
		o.MaxRetained = DefaultMaxRetained
	}
	return o
}

// Recorder receives every task once it reaches a terminal status.
type Recorder interface {
	RecordTask(ctx context.Context, t model.Task) error
}

// TaskSpec describes one execution request.
type TaskSpec struct {
	Circuit circuit.Spec `json:"circuit"`
	// BackendID is a registered backend id, or "" / "auto" for automatic
	// selection. Fallback, when set with automatic selection, is tried in
	// order instead of best-fit ranking.
	BackendID         string               `json:"backend_id,omitempty"`
	Fallback          []string             `json:"fallback,omitempty"`
	Requirements      backend.Requirements `json:"requirements"`
	Shots             int                  `json:"shot_count,omitempty"`
	Timeout           time.Duration        `json:"-"`
	RetryBudget       *int                 `json:"retry_budget,omitempty"`
	OptimizationLevel int                  `json:"optimization_level,omitempty"`
}

// BatchSpec submits several circuits that share every other TaskSpec
// setting.
type BatchSpec struct {
	Circuits []circuit.Spec
	Settings TaskSpec
	Mode     string
}

// Outcome is the terminal state of a task.
type Outcome struct {
	TaskID   string
	Status   string
	Result   *model.ExecutionResult
	Err      error
	Attempts int
}

// Handle tracks a submitted task.
type Handle struct {
	id string
	e  *Executor
	t  *task
}

// ID returns the task id.
func (h *Handle) ID() string { return h.id }

// Done is closed when the task reaches a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.t.done }

// Task returns the current task record.
func (h *Handle) Task(ctx context.Context) (model.Task, error) { return h.e.Task(ctx, h.id) }

// Wait blocks until the task finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.t.done:
		return h.t.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// BatchOutcome is the resolved state of a batch. Outcomes are in
// submission order.
type BatchOutcome struct {
	BatchID  string
	Outcomes []Outcome
	// Failed is true if any task ended in a status other than completed.
	Failed bool
}

// BatchHandle tracks a submitted batch.
type BatchHandle struct {
	id    string
	Tasks []*Handle
	b     *batch
}

// ID returns the batch id.
func (h *BatchHandle) ID() string { return h.id }

// Done is closed once every task in the batch is terminal.
func (h *BatchHandle) Done() <-chan struct{} { return h.b.done }

// Wait blocks until the batch resolves or ctx ends.
func (h *BatchHandle) Wait(ctx context.Context) (BatchOutcome, error) {
	select {
	case <-h.b.done:
	case <-ctx.Done():
		return BatchOutcome{}, ctx.Err()
	}
	out := BatchOutcome{BatchID: h.id, Outcomes: make([]Outcome, len(h.Tasks))}
	for i, th := range h.Tasks {
		out.Outcomes[i] = th.t.outcome
		if th.t.outcome.Status != model.StatusCompleted {
			out.Failed = true
		}
	}
	return out, nil
}

// Stats summarizes executor activity. Terminal counts include tasks already
// evicted from memory.
type Stats struct {
	Queued         int    `json:"queued"`
	Dispatched     int    `json:"dispatched"`
	Completed      int    `json:"completed"`
	Failed         int    `json:"failed"`
	TimedOut       int    `json:"timed_out"`
	Cancelled      int    `json:"cancelled"`
	Retries        int64  `json:"retries"`
	Workers        int    `json:"workers"`
	HealthyWorkers int    `json:"healthy_workers"`
	Balancer       string `json:"balancer"`
}

// Executor distributes tasks over a fixed pool of workers.
type Executor struct {
	reg      *backend.Registry
	strategy balancer.Strategy
	recorder Recorder
	logger   *slog.Logger
	opts     Options
	broker   *EventBroker

	// Everything below is owned by the dispatch loop.
	workers  []*workerSlot
	tasks    map[string]*task
	queue    []*task
	retained []string
	counts   map[string]int
	retries  int64

	cmds   chan func()
	events chan completion
	stop   chan struct{}
	quit   chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc

	rec *recordQueue

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	wg        sync.WaitGroup
	workersWG sync.WaitGroup
}

// New builds an executor over runners. Call Start before submitting.
func New(reg *backend.Registry, runners []worker.Runner, strategy balancer.Strategy, recorder Recorder, logger *slog.Logger, opts Options) (*Executor, error) {
	if len(runners) == 0 {
		return nil, ErrNoWorkers
	}
	if strategy == nil {
		strategy = balancer.NewLeastLoaded()
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	opts = opts.withDefaults()

	e := &Executor{
		reg:      reg,
		strategy: strategy,
		recorder: recorder,
		logger:   logger,
		opts:     opts,
		broker:   NewEventBroker(),
		tasks:    make(map[string]*task),
		counts:   make(map[string]int),
		cmds:     make(chan func()),
		events:   make(chan completion, len(runners)*opts.WorkerCapacity),
		stop:     make(chan struct{}),
		quit:     make(chan struct{}),
	}
	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	now := time.Now().UTC()
	for _, r := range runners {
		e.workers = append(e.workers, &workerSlot{
			runner:        r,
			jobs:          make(chan *dispatch, opts.WorkerCapacity),
			healthy:       true,
			lastHeartbeat: now,
		})
	}
	if recorder != nil {
		e.rec = newRecordQueue(recorder, logger)
	}
	return e, nil
}

// Broker returns the executor's event broker for streaming task
// transitions.
func (e *Executor) Broker() *EventBroker { return e.broker }

// Start launches the dispatch loop, the workers and the heartbeat monitor.
// ctx bounds the heartbeat monitor; use Close to stop the executor.
func (e *Executor) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.started.Store(true)
		for _, w := range e.workers {
			workerLoad.WithLabelValues(w.runner.ID()).Set(0)
			workerHealthy.WithLabelValues(w.runner.ID()).Set(1)
			e.workersWG.Go(func() { e.runWorker(w) })
		}
		if e.rec != nil {
			e.wg.Go(e.rec.run)
		}
		monitorCtx, cancel := context.WithCancel(ctx)
		e.wg.Go(func() {
			defer cancel()
			e.loop()
		})
		e.wg.Go(func() { e.monitor(monitorCtx) })
		e.logger.Info("executor started",
			"workers", len(e.workers),
			"capacity", e.opts.WorkerCapacity,
			"balancer", e.strategy.Name(),
		)
	})
}

// Close cancels outstanding tasks with ErrExecutorClosed, stops the
// workers, closes the runners and flushes the recorder.
func (e *Executor) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		if e.started.Load() {
			close(e.stop)
			<-e.quit
		} else {
			close(e.quit)
		}
		e.baseCancel()
		for _, w := range e.workers {
			close(w.jobs)
		}
		e.workersWG.Wait()
		if e.rec != nil && e.started.Load() {
			e.rec.close()
		}
		e.wg.Wait()
		for _, w := range e.workers {
			if err := w.runner.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close worker %s: %w", w.runner.ID(), err))
			}
		}
		e.logger.Info("executor stopped")
	})
	return errors.Join(errs...)
}

// do runs fn on the dispatch loop and waits for it.
func (e *Executor) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(done) }:
	case <-e.quit:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Submit validates and optimizes the circuit, then queues the task. It
// returns as soon as the task is queued.
func (e *Executor) Submit(ctx context.Context, spec TaskSpec) (*Handle, error) {
	t, err := e.newTask(spec, nil)
	if err != nil {
		return nil, err
	}
	if err := e.do(ctx, func() { e.enqueue(t) }); err != nil {
		return nil, err
	}
	return &Handle{id: t.rec.ID, e: e, t: t}, nil
}

// SubmitBatch queues one task per circuit. In fail-fast mode the first task
// to fail or time out cancels every task of the batch that has not finished.
func (e *Executor) SubmitBatch(ctx context.Context, spec BatchSpec) (*BatchHandle, error) {
	if len(spec.Circuits) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidTask)
	}
	switch spec.Mode {
	case "", BatchFailFast, BatchBestEffort:
	default:
		return nil, fmt.Errorf("%w: unknown batch mode %q", ErrInvalidTask, spec.Mode)
	}

	b := &batch{
		id:       model.NewID(),
		failFast: spec.Mode != BatchBestEffort,
		done:     make(chan struct{}),
	}
	h := &BatchHandle{id: b.id, b: b}
	for i, c := range spec.Circuits {
		ts := spec.Settings
		ts.Circuit = c
		t, err := e.newTask(ts, b)
		if err != nil {
			return nil, fmt.Errorf("batch circuit %d: %w", i, err)
		}
		b.tasks = append(b.tasks, t)
		h.Tasks = append(h.Tasks, &Handle{id: t.rec.ID, e: e, t: t})
	}
	b.pending = len(b.tasks)

	err := e.do(ctx, func() {
		for _, t := range b.tasks {
			e.enqueue(t)
		}
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("batch submitted", "batch_id", b.id, "tasks", len(b.tasks), "fail_fast", b.failFast)
	return h, nil
}

// RunBatch submits a batch and blocks until it resolves.
func (e *Executor) RunBatch(ctx context.Context, spec BatchSpec) (BatchOutcome, error) {
	h, err := e.SubmitBatch(ctx, spec)
	if err != nil {
		return BatchOutcome{}, err
	}
	return h.Wait(ctx)
}

// Cancel cancels a task. A queued task is removed from the queue. A
// dispatched task resolves as cancelled at once; its backend is asked to
// abort if it supports that, otherwise the late result is discarded.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	var result error
	err := e.do(ctx, func() {
		t, ok := e.tasks[id]
		if !ok {
			result = ErrTaskNotFound
			return
		}
		if model.IsTerminal(t.rec.Status) {
			result = ErrTaskFinished
			return
		}
		e.cancelTask(t, ErrCancelled)
	})
	if err != nil {
		return err
	}
	return result
}

// Task returns a snapshot of a task record.
func (e *Executor) Task(ctx context.Context, id string) (model.Task, error) {
	var (
		rec   model.Task
		found bool
	)
	err := e.do(ctx, func() {
		if t, ok := e.tasks[id]; ok {
			rec, found = t.rec, true
		}
	})
	if err != nil {
		return model.Task{}, err
	}
	if !found {
		return model.Task{}, ErrTaskNotFound
	}
	return rec, nil
}

// Tasks returns snapshots of every task held in memory, oldest first.
func (e *Executor) Tasks(ctx context.Context) ([]model.Task, error) {
	var out []model.Task
	err := e.do(ctx, func() {
		out = make([]model.Task, 0, len(e.tasks))
		for _, t := range e.tasks {
			out = append(out, t.rec)
		}
	})
	sortTasks(out)
	return out, err
}

// Workers returns a snapshot of every worker.
func (e *Executor) Workers(ctx context.Context) ([]model.WorkerHandle, error) {
	var out []model.WorkerHandle
	err := e.do(ctx, func() {
		for _, w := range e.workers {
			out = append(out, w.handle())
		}
	})
	return out, err
}

// Stats returns executor counters.
func (e *Executor) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := e.do(ctx, func() {
		s = Stats{
			Queued:     e.counts[model.StatusQueued],
			Dispatched: e.counts[model.StatusDispatched],
			Completed:  e.counts[model.StatusCompleted],
			Failed:     e.counts[model.StatusFailed],
			TimedOut:   e.counts[model.StatusTimedOut],
			Cancelled:  e.counts[model.StatusCancelled],
			Retries:    e.retries,
			Workers:    len(e.workers),
			Balancer:   e.strategy.Name(),
		}
		for _, w := range e.workers {
			if w.healthy {
				s.HealthyWorkers++
			}
		}
	})
	return s, err
}

// newTask validates spec and builds the task outside the loop.
func (e *Executor) newTask(spec TaskSpec, b *batch) (*task, error) {
	if err := spec.Circuit.Validate(); err != nil {
		return nil, err
	}
	shots := spec.Shots
	if shots == 0 {
		shots = e.opts.DefaultShots
	}
	if shots < 1 {
		return nil, fmt.Errorf("%w: shot count %d", ErrInvalidTask, shots)
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = e.opts.DefaultTimeout
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", ErrInvalidTask)
	}
	budget := e.opts.DefaultRetryBudget
	if spec.RetryBudget != nil {
		budget = *spec.RetryBudget
	}
	if budget < 0 {
		return nil, fmt.Errorf("%w: negative retry budget", ErrInvalidTask)
	}

	optimized, err := optimizer.Optimize(spec.Circuit, spec.OptimizationLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	backendID := spec.BackendID
	if backendID == "" {
		backendID = BackendAuto
	}
	t := &task{
		rec: model.Task{
			ID:          model.NewID(),
			Status:      model.StatusQueued,
			BackendID:   backendID,
			Qubits:      optimized.Qubits,
			GateCount:   len(optimized.Gates),
			CircuitHash: optimized.Hash(),
			Shots:       shots,
			TimeoutMS:   timeout.Milliseconds(),
			RetryBudget: budget,
			CreatedAt:   time.Now().UTC(),
		},
		circuit:  optimized,
		req:      spec.Requirements,
		fallback: spec.Fallback,
		timeout:  timeout,
		batch:    b,
		done:     make(chan struct{}),
	}
	if b != nil {
		t.rec.BatchID = b.id
	}
	return t, nil
}
