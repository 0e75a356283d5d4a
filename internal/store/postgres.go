package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS tasks (
    id            TEXT PRIMARY KEY,
    batch_id      TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    backend_id    TEXT NOT NULL,
    worker_id     TEXT NOT NULL DEFAULT '',
    qubits        INTEGER NOT NULL,
    gate_count    INTEGER NOT NULL,
    circuit_hash  TEXT NOT NULL DEFAULT '',
    shots         INTEGER NOT NULL,
    timeout_ms    BIGINT NOT NULL,
    retry_budget  INTEGER NOT NULL,
    attempts      INTEGER NOT NULL,
    error         TEXT NOT NULL DEFAULT '',
    error_kind    TEXT NOT NULL DEFAULT '',
    result        TEXT,
    wall_time_ms  BIGINT,
    created_at    TIMESTAMPTZ NOT NULL,
    dispatched_at TIMESTAMPTZ,
    finished_at   TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS tasks_created_at ON tasks (created_at)`,
	`
CREATE TABLE IF NOT EXISTS attacks (
    id               TEXT PRIMARY KEY,
    task_id          TEXT NOT NULL DEFAULT '',
    algorithm        TEXT NOT NULL,
    success          BOOLEAN NOT NULL,
    derived_value    TEXT NOT NULL,
    confidence       DOUBLE PRECISION NOT NULL,
    samples_consumed INTEGER NOT NULL,
    diagnostics      TEXT NOT NULL,
    note             TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL
)`,
}

// NewPostgresStore connects to the Postgres database at dsn and runs
// migrations.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newSQLStore(db, dialect{name: DriverPostgres, numbered: true, schema: postgresSchema})
}
