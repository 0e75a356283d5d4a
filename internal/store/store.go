// Package store keeps the history of finished tasks and post-processing
// results. The executor owns live state; a Store only ever sees terminal
// records.
package store

import (
	"context"
	"errors"

	"github.com/seantiz/qexec/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// TaskStats holds aggregate execution statistics over recorded tasks.
type TaskStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByBackend map[string]int `json:"count_by_backend"`
	AvgWallTimeMS  float64        `json:"avg_wall_time_ms"`
	AvgAttempts    float64        `json:"avg_attempts"`
}

// Recorder accepts terminal task records.
type Recorder interface {
	RecordTask(ctx context.Context, t model.Task) error
}

// Store defines the persistence operations for task history and attack results.
type Store interface {
	Recorder
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, limit, offset int) ([]*model.Task, int, error)
	GetTaskStats(ctx context.Context) (*TaskStats, error)
	RecordAttack(ctx context.Context, r model.AttackResult) error
	ListAttacks(ctx context.Context, limit, offset int) ([]*model.AttackResult, int, error)
	Close() error
}

// teeRecorder writes every record to each sink in turn.
type teeRecorder []Recorder

// Tee returns a Recorder that writes to every non-nil sink. All sinks are
// attempted; their errors are joined.
func Tee(sinks ...Recorder) Recorder {
	var t teeRecorder
	for _, s := range sinks {
		if s != nil {
			t = append(t, s)
		}
	}
	return t
}

func (t teeRecorder) RecordTask(ctx context.Context, task model.Task) error {
	var errs []error
	for _, s := range t {
		if err := s.RecordTask(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
