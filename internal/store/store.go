// Package store is the relational backbone of the memory engine: tasks,
// events, artifacts, facts, checkpoints, token metrics, and the reserved
// edges table. It owns a single SQLite connection per process; WAL with
// synchronous=FULL makes every mutation durable on its own, so there is no
// separate flush step.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "rwm-v1-core-schema"

	timeLayout = time.RFC3339Nano
)

// Store wraps the project database. All methods are safe for concurrent use
// within the process; the single connection serializes writes.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the canonical database location for a project root.
func DefaultDBPath(root string) string {
	return filepath.Join(root, "rwm.db")
}

// Open opens (creating if needed) the project database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for diagnostics and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			checksum   TEXT NOT NULL,
			applied_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, coreSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations(version, checksum, applied_at) VALUES(?, ?, ?);`,
		schemaVersion, schemaChecksum, formatTime(time.Now().UTC())); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

const coreSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	parent_id       TEXT,
	title           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'todo',
	accept_criteria TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_session_status ON tasks(session_id, status);

CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	task_id      TEXT,
	session_id   TEXT NOT NULL,
	summary      TEXT NOT NULL,
	evidence_ids TEXT NOT NULL DEFAULT '[]',
	ts           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_id, ts);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	uri        TEXT NOT NULL,
	sha256     TEXT NOT NULL,
	size       INTEGER NOT NULL DEFAULT 0,
	meta_json  TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_sha256 ON artifacts(sha256);

CREATE TABLE IF NOT EXISTS facts (
	id    TEXT PRIMARY KEY,
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT 'repo'
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	label       TEXT NOT NULL,
	ts          TEXT NOT NULL,
	bundle_meta TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);

CREATE TABLE IF NOT EXISTS token_metrics (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	pointer_id TEXT NOT NULL,
	token_cost INTEGER NOT NULL,
	budget     INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

-- Reserved for future relation tracking; no core write path targets it yet.
CREATE TABLE IF NOT EXISTS edges (
	src_id TEXT NOT NULL,
	dst_id TEXT NOT NULL,
	kind   TEXT NOT NULL,
	PRIMARY KEY (src_id, dst_id, kind)
);
`

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullString maps an optional field to its SQL representation.
func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
