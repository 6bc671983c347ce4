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
	if err := CheckLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the queue set and the runner share the handle.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
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
		`CREATE TABLE IF NOT EXISTS command_queue (
  queue        TEXT NOT NULL,
  position     INTEGER NOT NULL,
  creation_id  INTEGER NOT NULL,
  command_key  TEXT NOT NULL,
  record       JSON NOT NULL,
  checksum     TEXT NOT NULL,
  saved_at     TEXT NOT NULL,
  PRIMARY KEY (queue, position)
);`,
		`CREATE TABLE IF NOT EXISTS queue_meta (
  name   TEXT PRIMARY KEY,
  value  INTEGER NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS command_log (
  execution_id  TEXT PRIMARY KEY,
  creation_id   INTEGER NOT NULL,
  command_type  TEXT NOT NULL,
  account       TEXT NOT NULL,
  command_key   TEXT NOT NULL,
  outcome       TEXT NOT NULL,
  destination   TEXT NOT NULL,
  attempt       INTEGER NOT NULL,
  retries_left  INTEGER NOT NULL,
  message       TEXT,
  downloaded    INTEGER NOT NULL DEFAULT 0,
  new_items     INTEGER NOT NULL DEFAULT 0,
  started_at    TEXT NOT NULL,
  completed_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS timeline_state (
  timeline_key TEXT PRIMARY KEY,
  state        JSON NOT NULL DEFAULT '{}',
  updated_at   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS downloaded_item (
  account     TEXT NOT NULL,
  kind        TEXT NOT NULL,
  item_id     TEXT NOT NULL,
  timeline    TEXT,
  payload     JSON,
  first_seen  TEXT NOT NULL,
  PRIMARY KEY (account, kind, item_id)
);`,
		`CREATE INDEX IF NOT EXISTS command_log_account_completed_idx ON command_log(account, completed_at);`,
		`CREATE INDEX IF NOT EXISTS command_log_creation_idx ON command_log(creation_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
