package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/qexec/internal/model"
)

// recordTimeout bounds one Recorder call.
const recordTimeout = 5 * time.Second

// recordQueue hands terminal tasks to a Recorder off the dispatch loop.
// push never blocks; the queue grows instead.
type recordQueue struct {
	recorder Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	pending []model.Task
	closed  bool
	notify  chan struct{}
	done    chan struct{}
}

func newRecordQueue(r Recorder, logger *slog.Logger) *recordQueue {
	return &recordQueue{
		recorder: r,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *recordQueue) push(t model.Task) {
	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// run writes queued records until close, then drains what is left.
func (q *recordQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, t := range batch {
			q.write(t)
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-q.notify
		}
	}
}

func (q *recordQueue) write(t model.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := q.recorder.RecordTask(ctx, t); err != nil {
		q.logger.Error("failed to record task", "task_id", t.ID, "error", err)
	}
}

// close stops run after the queue is drained and waits for it.
func (q *recordQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	<-q.done
}
