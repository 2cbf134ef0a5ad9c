// Package storage opens the SQLite database that journals configured
// applications and their invocations.
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

// OpenSQLite opens (and creates if needed) the journal database at path and
// ensures required tables exist. In-memory databases (":memory:") skip the
// filesystem checks.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := checkLocalFilesystem(path, filesystemName); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
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
		`CREATE TABLE IF NOT EXISTS app_registration (
  run_id        TEXT NOT NULL,
  app_id        INTEGER NOT NULL,
  name          TEXT NOT NULL,
  module        TEXT,
  type_name     TEXT,
  method        TEXT,
  source        TEXT NOT NULL,
  fingerprint   TEXT,
  configured_at TEXT NOT NULL,
  PRIMARY KEY (run_id, app_id)
);`,
		`CREATE TABLE IF NOT EXISTS invocation_log (
  id          TEXT PRIMARY KEY,
  run_id      TEXT NOT NULL,
  app_id      INTEGER NOT NULL,
  request_id  TEXT,
  method      TEXT,
  path        TEXT,
  status_code INTEGER,
  outcome     TEXT NOT NULL,
  error       TEXT,
  duration_ms REAL NOT NULL,
  created_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_run_app_idx ON invocation_log(run_id, app_id);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_outcome_created_at_idx ON invocation_log(outcome, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
