package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_queue (
  id            TEXT PRIMARY KEY,
  command       TEXT NOT NULL,
  timeout_secs  INTEGER,
  status        TEXT NOT NULL,
  submitted_by  TEXT NOT NULL,
  created_at    TEXT NOT NULL,
  started_at    TEXT,
  completed_at  TEXT,
  worker_id     TEXT,
  last_error    TEXT,
  result        JSON
);`,
		`CREATE TABLE IF NOT EXISTS task_log (
  id            TEXT PRIMARY KEY,
  command       TEXT NOT NULL,
  status        TEXT NOT NULL,
  submitted_by  TEXT NOT NULL,
  created_at    TEXT NOT NULL,
  completed_at  TEXT NOT NULL,
  worker_id     TEXT,
  last_error    TEXT,
  result        JSON
);`,
		`CREATE TABLE IF NOT EXISTS timing_history (
  key         TEXT NOT NULL,
  recorded_at TEXT NOT NULL,
  expected    REAL NOT NULL,
  actual      REAL NOT NULL,
  success     INTEGER NOT NULL,
  complexity  TEXT NOT NULL,
  qtype       TEXT NOT NULL,
  cpu_load    REAL NOT NULL DEFAULT 0,
  gpu_mem_gb  REAL NOT NULL DEFAULT 0,
  token_count INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS timing_stats (
  key       TEXT PRIMARY KEY,
  total     INTEGER NOT NULL DEFAULT 0,
  successes INTEGER NOT NULL DEFAULT 0,
  failures  INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE INDEX IF NOT EXISTS task_queue_status_created_at_idx ON task_queue(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS timing_history_key_idx ON timing_history(key, recorded_at);`,
		`CREATE INDEX IF NOT EXISTS timing_history_tier_idx ON timing_history(complexity, qtype);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
