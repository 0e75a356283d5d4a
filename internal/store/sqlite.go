package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{`
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
    timeout_ms    INTEGER NOT NULL,
    retry_budget  INTEGER NOT NULL,
    attempts      INTEGER NOT NULL,
    error         TEXT NOT NULL DEFAULT '',
    error_kind    TEXT NOT NULL DEFAULT '',
    result        TEXT,
    wall_time_ms  INTEGER,
    created_at    DATETIME NOT NULL,
    dispatched_at DATETIME,
    finished_at   DATETIME
)`,
	`CREATE INDEX IF NOT EXISTS tasks_created_at ON tasks (created_at)`,
	`
CREATE TABLE IF NOT EXISTS attacks (
    id               TEXT PRIMARY KEY,
    task_id          TEXT NOT NULL DEFAULT '',
    algorithm        TEXT NOT NULL,
    success          INTEGER NOT NULL,
    derived_value    TEXT NOT NULL,
    confidence       REAL NOT NULL,
    samples_consumed INTEGER NOT NULL,
    diagnostics      TEXT NOT NULL,
    note             TEXT NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL
)`,
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return newSQLStore(db, dialect{name: DriverSQLite, schema: sqliteSchema})
}
