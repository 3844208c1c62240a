package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver

	"github.com/repsense/repsense/engine"
)

// SQLite persists artifacts in a single-file SQLite database. SQLite's own
// locking serializes writers and WAL mode lets readers proceed alongside a
// writer, so no application-level locks are needed.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (and if needed initializes) the artifact database at path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open artifact database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping artifact database: %w", err)
	}
	s := &SQLite{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize artifact database: %w", err)
	}
	return s, nil
}

func (s *SQLite) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		action_id  TEXT PRIMARY KEY,
		artifact   TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`
	_, err := s.conn.Exec(schema)
	return err
}

// Put upserts the artifact JSON under its action ID.
func (s *SQLite) Put(ctx context.Context, artifact *engine.Artifact) error {
	raw, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encode artifact %q: %w", artifact.ActionID, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO actions (action_id, artifact, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(action_id) DO UPDATE SET artifact = excluded.artifact, updated_at = excluded.updated_at`,
		artifact.ActionID, string(raw))
	if err != nil {
		return fmt.Errorf("store artifact %q: %w", artifact.ActionID, err)
	}
	return nil
}

// Get decodes the artifact for the action, or returns ErrNotFound.
func (s *SQLite) Get(ctx context.Context, actionID string) (*engine.Artifact, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		`SELECT artifact FROM actions WHERE action_id = ?`, actionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact %q: %w", actionID, err)
	}
	var artifact engine.Artifact
	if err := json.Unmarshal([]byte(raw), &artifact); err != nil {
		return nil, fmt.Errorf("decode artifact %q: %w", actionID, err)
	}
	return &artifact, nil
}

// Delete removes the artifact for the action, if any.
func (s *SQLite) Delete(ctx context.Context, actionID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM actions WHERE action_id = ?`, actionID)
	return err
}

// Close checkpoints the WAL and closes the database.
func (s *SQLite) Close() error {
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.conn.Close()
}
