package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/worker"
)

// workerSlot is the loop-owned record of one runner.
type workerSlot struct {
	runner        worker.Runner
	jobs          chan *dispatch
	load          int
	healthy       bool
	missed        int
	lastHeartbeat time.Time
	assigned      int64
}

func (w *workerSlot) handle() model.WorkerHandle {
	return model.WorkerHandle{
		ID:            w.runner.ID(),
		Runtime:       w.runner.Kind(),
		Load:          w.load,
		Healthy:       w.healthy,
		LastHeartbeat: w.lastHeartbeat,
		Assigned:      w.assigned,
	}
}

// runWorker executes the slot's jobs one at a time in assignment order.
func (e *Executor) runWorker(w *workerSlot) {
	for d := range w.jobs {
		c := e.execute(w, d)
		select {
		case e.events <- c:
		case <-e.quit:
		}
	}
}

// execute runs one job under a watchdog. The deadline was set when the job
// was assigned; a runner that ignores its context is abandoned once it
// passes, and a job whose deadline expired while it waited is not started.
func (e *Executor) execute(w *workerSlot, d *dispatch) completion {
	c := completion{worker: w, taskID: d.taskID, attempt: d.attempt}
	if d.skip.Load() || d.ctx.Err() != nil {
		c.err = context.Canceled
		return c
	}
	if !time.Now().Before(d.deadline) {
		c.err = context.DeadlineExceeded
		c.timedOut = true
		return c
	}

	ctx, cancel := context.WithDeadline(d.ctx, d.deadline)
	defer cancel()

	type result struct {
		res backend.Result
		err error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		res, err := w.runner.Run(ctx, d.job)
		ch <- result{res: res, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	c.elapsed = time.Since(start)
	c.result, c.err = r.res, r.err
	c.timedOut = r.err != nil && d.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
	return c
}

// monitor pings every worker each heartbeat interval.
func (e *Executor) monitor(ctx context.Context) {
	ticker := time.NewTicker(e.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.probeWorkers(ctx)
		}
	}
}

func (e *Executor) probeWorkers(ctx context.Context) {
	alive := make([]bool, len(e.workers))
	var wg sync.WaitGroup
	for i, w := range e.workers {
		r := w.runner
		wg.Go(func() { alive[i] = ping(ctx, r, e.opts.ProbeTimeout) })
	}
	wg.Wait()

	now := time.Now().UTC()
	err := e.do(ctx, func() {
		for i, w := range e.workers {
			e.heartbeat(w, alive[i], now)
		}
	})
	if err != nil {
		e.logger.Debug("heartbeat round dropped", "error", err)
	}
}

// ping treats a runner that does not answer within timeout as dead,
// whether or not it honors ctx.
func ping(ctx context.Context, r worker.Runner, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Ping(ctx) }()
	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		return false
	}
}

func (e *Executor) heartbeat(w *workerSlot, alive bool, now time.Time) {
	id := w.runner.ID()
	if alive {
		w.missed = 0
		w.lastHeartbeat = now
		if !w.healthy {
			w.healthy = true
			workerHealthy.WithLabelValues(id).Set(boolGauge(w.healthy))
			e.logger.Info("worker recovered", "worker_id", id)
		}
		return
	}
	w.missed++
	if w.healthy && w.missed >= e.opts.MissedHeartbeats {
		w.healthy = false
		workerHealthy.WithLabelValues(id).Set(boolGauge(w.healthy))
		e.logger.Warn("worker unhealthy", "worker_id", id, "missed_heartbeats", w.missed)
	}
}
