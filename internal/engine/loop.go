package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/balancer"
	"github.com/seantiz/qexec/internal/circuit"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/worker"
)

// task is the loop-owned state of one submission.
type task struct {
	rec      model.Task
	circuit  circuit.Spec
	req      backend.Requirements
	fallback []string
	timeout  time.Duration
	queuedAt time.Time
	batch    *batch

	// Set while dispatched.
	worker    *workerSlot
	inflight  *dispatch
	abortable bool

	done    chan struct{}
	outcome Outcome
}

type batch struct {
	id       string
	failFast bool
	tasks    []*task
	pending  int
	tripped  bool
	resolved bool
	done     chan struct{}
}

// dispatch is the message a worker goroutine receives. The worker reads
// only these fields, never the task. The deadline is fixed at assignment so
// time spent behind other jobs on the same worker counts against the task.
type dispatch struct {
	taskID   string
	attempt  int
	job      worker.Job
	deadline time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	skip     atomic.Bool
}

type completion struct {
	worker   *workerSlot
	taskID   string
	attempt  int
	result   backend.Result
	err      error
	elapsed  time.Duration
	timedOut bool
}

func sortTasks(ts []model.Task) {
	slices.SortFunc(ts, func(a, b model.Task) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
}

func (e *Executor) loop() {
	defer close(e.quit)
	sweep := time.NewTicker(e.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case fn := <-e.cmds:
			fn()
		case c := <-e.events:
			e.complete(c)
		case now := <-sweep.C:
			e.sweep(now)
		case <-e.stop:
			e.shutdown()
			return
		}
		e.dispatch()
		queueDepth.Set(float64(len(e.queue)))
	}
}

func (e *Executor) setStatus(t *task, status string) {
	if t.rec.Status != "" && !model.ValidTransition(t.rec.Status, status) {
		e.logger.Error("invalid task transition", "task_id", t.rec.ID, "from", t.rec.Status, "to", status)
	}
	e.counts[t.rec.Status]--
	e.counts[status]++
	t.rec.Status = status
	e.broker.Publish(TaskEvent{
		TaskID:    t.rec.ID,
		Status:    status,
		Attempts:  t.rec.Attempts,
		BackendID: t.rec.BackendID,
		WorkerID:  t.rec.WorkerID,
		Error:     t.rec.Error,
		At:        time.Now().UTC(),
	})
}

func (e *Executor) enqueue(t *task) {
	e.tasks[t.rec.ID] = t
	e.counts[model.StatusQueued]++
	t.queuedAt = time.Now()
	e.queue = append(e.queue, t)
	e.logger.Info("task queued",
		"task_id", t.rec.ID,
		"backend_id", t.rec.BackendID,
		"qubits", t.rec.Qubits,
		"shots", t.rec.Shots,
	)
}

// dispatch hands queued tasks to workers, in FIFO order, until the queue
// is empty or no worker can take more.
func (e *Executor) dispatch() {
	for len(e.queue) > 0 {
		t := e.queue[0]
		desc, err := e.resolve(t)
		if err != nil {
			e.queue = e.queue[1:]
			e.finish(t, model.StatusFailed, model.ErrorKindNoCapableBackend, err)
			continue
		}
		idx, ok := e.strategy.Pick(e.candidates())
		if !ok {
			return
		}
		e.queue = e.queue[1:]
		e.assign(t, e.workers[idx], desc)
	}
}

func (e *Executor) resolve(t *task) (backend.Descriptor, error) {
	req := t.req
	req.MinQubits = max(req.MinQubits, t.circuit.Qubits)

	policy := backend.Explicit(t.rec.BackendID)
	if t.rec.BackendID == BackendAuto {
		policy = backend.AutoBestFit()
		if len(t.fallback) > 0 {
			policy = backend.AutoWithFallback(t.fallback...)
		}
	}
	return e.reg.Select(req, policy)
}

func (e *Executor) candidates() []balancer.Candidate {
	out := make([]balancer.Candidate, len(e.workers))
	for i, w := range e.workers {
		out[i] = balancer.Candidate{
			ID:       w.runner.ID(),
			Load:     w.load,
			Eligible: w.healthy && w.load < e.opts.WorkerCapacity,
		}
	}
	return out
}

func (e *Executor) assign(t *task, w *workerSlot, desc backend.Descriptor) {
	now := time.Now().UTC()
	t.rec.Attempts++
	t.rec.BackendID = desc.ID
	t.rec.WorkerID = w.runner.ID()
	t.rec.DispatchedAt = &now
	t.worker = w
	t.abortable = desc.Capabilities.SupportsAbort

	d := &dispatch{
		taskID:   t.rec.ID,
		attempt:  t.rec.Attempts,
		deadline: time.Now().Add(t.timeout),
		job: worker.Job{
			TaskID:    t.rec.ID,
			Attempt:   t.rec.Attempts,
			BackendID: desc.ID,
			Circuit:   t.circuit,
			Shots:     t.rec.Shots,
			TimeoutMS: t.timeout.Milliseconds(),
		},
	}
	d.ctx, d.cancel = context.WithCancel(e.baseCtx)
	t.inflight = d

	w.load++
	w.assigned++
	workerLoad.WithLabelValues(w.runner.ID()).Set(float64(w.load))
	e.setStatus(t, model.StatusDispatched)
	e.logger.Info("task dispatched",
		"task_id", t.rec.ID,
		"backend_id", desc.ID,
		"worker_id", w.runner.ID(),
		"attempt", t.rec.Attempts,
		"worker_load", w.load,
	)
	// Never blocks: the buffer holds WorkerCapacity jobs and load counts them.
	w.jobs <- d
}

// complete applies a worker's report. Reports for tasks that already
// resolved (cancelled, or a stale attempt) only release the worker.
func (e *Executor) complete(c completion) {
	w := c.worker
	w.load--
	workerLoad.WithLabelValues(w.runner.ID()).Set(float64(w.load))

	t, ok := e.tasks[c.taskID]
	if !ok || t.rec.Status != model.StatusDispatched || t.rec.Attempts != c.attempt {
		e.logger.Debug("discarding result", "task_id", c.taskID, "attempt", c.attempt, "worker_id", w.runner.ID())
		return
	}
	t.inflight.cancel()
	t.inflight = nil
	t.worker = nil

	switch {
	case c.timedOut:
		e.finish(t, model.StatusTimedOut, model.ErrorKindTimeout,
			fmt.Errorf("%w: no result after %s", ErrTimeoutExceeded, t.timeout))
	case c.err != nil && backend.IsRetryable(c.err) && t.rec.RetryBudget > 0:
		t.rec.RetryBudget--
		e.retries++
		retriesTotal.Inc()
		t.rec.Error = c.err.Error()
		e.logger.Warn("retrying task",
			"task_id", t.rec.ID,
			"backend_id", t.rec.BackendID,
			"attempt", t.rec.Attempts,
			"retries_left", t.rec.RetryBudget,
			"error", c.err,
		)
		t.queuedAt = time.Now()
		e.setStatus(t, model.StatusQueued)
		e.queue = append(e.queue, t)
	case c.err != nil:
		e.finish(t, model.StatusFailed, model.ErrorKindExecution, c.err)
	default:
		t.rec.Error = ""
		t.rec.Result = &model.ExecutionResult{
			TaskID:      t.rec.ID,
			Samples:     c.result.Counts,
			Shots:       c.result.Shots,
			WallTimeMS:  c.elapsed.Milliseconds(),
			BackendUsed: t.rec.BackendID,
		}
		e.finish(t, model.StatusCompleted, "", nil)
	}
}

// finish moves t to a terminal status and resolves its handle.
func (e *Executor) finish(t *task, status, kind string, err error) {
	now := time.Now().UTC()
	t.rec.FinishedAt = &now
	if err != nil {
		t.rec.Error = err.Error()
		t.rec.ErrorKind = kind
		if t.rec.Result == nil && status != model.StatusCancelled {
			t.rec.Result = &model.ExecutionResult{
				TaskID:      t.rec.ID,
				BackendUsed: t.rec.BackendID,
				Error:       err.Error(),
			}
		}
	}
	e.setStatus(t, status)
	e.broker.Close(t.rec.ID)

	t.outcome = Outcome{
		TaskID:   t.rec.ID,
		Status:   status,
		Result:   t.rec.Result,
		Err:      err,
		Attempts: t.rec.Attempts,
	}
	close(t.done)

	tasksTotal.WithLabelValues(status).Inc()
	taskDuration.WithLabelValues(status).Observe(now.Sub(t.rec.CreatedAt).Seconds())

	logArgs := []any{"task_id", t.rec.ID, "status", status, "attempts", t.rec.Attempts, "backend_id", t.rec.BackendID}
	if err != nil {
		e.logger.Warn("task finished", append(logArgs, "error", err)...)
	} else {
		e.logger.Info("task finished", logArgs...)
	}

	if e.rec != nil {
		e.rec.push(t.rec)
	}
	e.retain(t)
	if t.batch != nil {
		e.batchTaskDone(t)
	}
}

// retain keeps at most MaxRetained terminal tasks in memory.
func (e *Executor) retain(t *task) {
	e.retained = append(e.retained, t.rec.ID)
	for len(e.retained) > e.opts.MaxRetained {
		id := e.retained[0]
		e.retained = e.retained[1:]
		delete(e.tasks, id)
		e.broker.Forget(id)
	}
}

func (e *Executor) batchTaskDone(t *task) {
	b := t.batch
	b.pending--
	failed := t.rec.Status == model.StatusFailed || t.rec.Status == model.StatusTimedOut
	if b.failFast && failed && !b.tripped {
		b.tripped = true
		e.logger.Warn("batch failing fast", "batch_id", b.id, "task_id", t.rec.ID)
		cause := fmt.Errorf("%w: batch %s stopped after task %s failed", ErrCancelled, b.id, t.rec.ID)
		for _, other := range b.tasks {
			if !model.IsTerminal(other.rec.Status) {
				e.cancelTask(other, cause)
			}
		}
	}
	if b.pending == 0 && !b.resolved {
		b.resolved = true
		close(b.done)
	}
}

// cancelTask resolves a queued or dispatched task as cancelled.
func (e *Executor) cancelTask(t *task, cause error) {
	switch t.rec.Status {
	case model.StatusQueued:
		e.queue = slices.DeleteFunc(e.queue, func(q *task) bool { return q == t })
	case model.StatusDispatched:
		d := t.inflight
		d.skip.Store(true)
		if t.abortable {
			d.cancel()
		}
		e.logger.Info("cancelling dispatched task",
			"task_id", t.rec.ID,
			"worker_id", t.rec.WorkerID,
			"abort", t.abortable,
		)
	default:
		return
	}
	e.finish(t, model.StatusCancelled, model.ErrorKindCancelled, cause)
}

// sweep fails queued tasks that have waited longer than their timeout
// while no worker is healthy.
func (e *Executor) sweep(now time.Time) {
	for _, w := range e.workers {
		if w.healthy {
			return
		}
	}
	var expired []*task
	for _, t := range e.queue {
		if now.Sub(t.queuedAt) >= t.timeout {
			expired = append(expired, t)
		}
	}
	for _, t := range expired {
		e.queue = slices.DeleteFunc(e.queue, func(q *task) bool { return q == t })
		e.finish(t, model.StatusFailed, model.ErrorKindNoHealthyWorker,
			fmt.Errorf("%w: waited %s", ErrNoHealthyWorker, now.Sub(t.queuedAt).Round(time.Millisecond)))
	}
}

// shutdown resolves every unfinished task with ErrExecutorClosed.
func (e *Executor) shutdown() {
	var open []*task
	for _, t := range e.tasks {
		if !model.IsTerminal(t.rec.Status) {
			open = append(open, t)
		}
	}
	sortByCreation(open)
	for _, t := range open {
		if t.rec.Status == model.StatusQueued {
			e.queue = slices.DeleteFunc(e.queue, func(q *task) bool { return q == t })
		} else if t.inflight != nil {
			t.inflight.skip.Store(true)
		}
		e.finish(t, model.StatusCancelled, model.ErrorKindCancelled, ErrExecutorClosed)
	}
	queueDepth.Set(0)
}

func sortByCreation(ts []*task) {
	slices.SortFunc(ts, func(a, b *task) int {
		return cmp.Or(a.rec.CreatedAt.Compare(b.rec.CreatedAt), cmp.Compare(a.rec.ID, b.rec.ID))
	})
}
