package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/qexec/internal/model"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// dialect carries the per-driver differences: DDL and placeholder style.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool
	schema   []string
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on database/sql. Queries are written with ?
// placeholders and rebound for drivers that need numbered ones.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Open opens a store for driver ("sqlite" or "postgres"). For sqlite, dsn is
// a file path or ":memory:".
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLiteStore(dsn)
	case DriverPostgres:
		return NewPostgresStore(dsn)
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s schema: %w", d.name, err)
		}
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... when the dialect needs it.
func (s *SQLStore) rebind(q string) string {
	if !s.dialect.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const taskColumns = `id, batch_id, status, backend_id, worker_id, qubits, gate_count,
	circuit_hash, shots, timeout_ms, retry_budget, attempts, error, error_kind,
	result, wall_time_ms, created_at, dispatched_at, finished_at`

// RecordTask inserts a terminal task record, replacing an earlier record
// with the same id.
func (s *SQLStore) RecordTask(ctx context.Context, t model.Task) error {
	var (
		result   sql.NullString
		wallTime sql.NullInt64
	)
	if t.Result != nil {
		b, err := json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("encode task result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
		wallTime = sql.NullInt64{Int64: t.Result.WallTimeMS, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			worker_id = excluded.worker_id,
			attempts = excluded.attempts,
			error = excluded.error,
			error_kind = excluded.error_kind,
			result = excluded.result,
			wall_time_ms = excluded.wall_time_ms,
			dispatched_at = excluded.dispatched_at,
			finished_at = excluded.finished_at`),
		t.ID, t.BatchID, t.Status, t.BackendID, t.WorkerID, t.Qubits, t.GateCount,
		t.CircuitHash, t.Shots, t.TimeoutMS, t.RetryBudget, t.Attempts, t.Error, t.ErrorKind,
		result, wallTime, t.CreatedAt.UTC(), utcPtr(t.DispatchedAt), utcPtr(t.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record task: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(sc rowScanner) (*model.Task, error) {
	t := &model.Task{}
	var (
		result   sql.NullString
		wallTime sql.NullInt64
	)
	if err := sc.Scan(
		&t.ID, &t.BatchID, &t.Status, &t.BackendID, &t.WorkerID, &t.Qubits, &t.GateCount,
		&t.CircuitHash, &t.Shots, &t.TimeoutMS, &t.RetryBudget, &t.Attempts, &t.Error, &t.ErrorKind,
		&result, &wallTime, &t.CreatedAt, &t.DispatchedAt, &t.FinishedAt,
	); err != nil {
		return nil, err
	}
	if result.Valid {
		t.Result = &model.ExecutionResult{}
		if err := json.Unmarshal([]byte(result.String), t.Result); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
	}
	return t, nil
}

// GetTask retrieves a task record by ID.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns a page of task records, newest first, along with the
// total count of all records.
func (s *SQLStore) ListTasks(ctx context.Context, limit, offset int) ([]*model.Task, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := tx.QueryContext(ctx, s.rebind(`SELECT `+taskColumns+`
		FROM tasks ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, total, nil
}

// GetTaskStats aggregates the recorded tasks. Wall time is averaged over
// tasks that produced a result.
func (s *SQLStore) GetTaskStats(ctx context.Context) (*TaskStats, error) {
	stats := &TaskStats{
		CountByStatus:  make(map[string]int),
		CountByBackend: make(map[string]int),
	}

	var avgWall, avgAttempts sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(wall_time_ms), AVG(attempts) FROM tasks`,
	).Scan(&stats.Total, &avgWall, &avgAttempts); err != nil {
		return nil, fmt.Errorf("task totals: %w", err)
	}
	stats.AvgWallTimeMS = avgWall.Float64
	stats.AvgAttempts = avgAttempts.Float64

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "backend_id", stats.CountByBackend); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills into with per-value row counts of column, which must be a
// fixed column name.
func (s *SQLStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM tasks GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("count tasks by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

const attackColumns = `id, task_id, algorithm, success, derived_value, confidence,
	samples_consumed, diagnostics, note, created_at`

// RecordAttack inserts a post-processing result.
func (s *SQLStore) RecordAttack(ctx context.Context, r model.AttackResult) error {
	if r.ID == "" {
		r.ID = model.NewID()
	}
	derived, err := json.Marshal(r.DerivedValue)
	if err != nil {
		return fmt.Errorf("encode derived value: %w", err)
	}
	diag, err := json.Marshal(r.Diagnostics)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO attacks (`+attackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.TaskID, r.Algorithm, r.Success, string(derived), r.Confidence,
		r.SamplesConsumed, string(diag), r.Note, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record attack: %w", err)
	}
	return nil
}

// ListAttacks returns a page of attack results, newest first, along with
// the total count.
func (s *SQLStore) ListAttacks(ctx context.Context, limit, offset int) ([]*model.AttackResult, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM attacks").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attacks: %w", err)
	}

	rows, err := tx.QueryContext(ctx, s.rebind(`SELECT `+attackColumns+`
		FROM attacks ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list attacks: %w", err)
	}
	defer rows.Close()

	var out []*model.AttackResult
	for rows.Next() {
		r := &model.AttackResult{}
		var derived, diag string
		if err := rows.Scan(
			&r.ID, &r.TaskID, &r.Algorithm, &r.Success, &derived, &r.Confidence,
			&r.SamplesConsumed, &diag, &r.Note, &r.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan attack: %w", err)
		}
		if err := json.Unmarshal([]byte(derived), &r.DerivedValue); err != nil {
			return nil, 0, fmt.Errorf("decode derived value: %w", err)
		}
		if err := json.Unmarshal([]byte(diag), &r.Diagnostics); err != nil {
			return nil, 0, fmt.Errorf("decode diagnostics: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate attacks: %w", err)
	}
	return out, total, nil
}

// utcPtr converts an optional timestamp into a nullable UTC parameter.
func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
