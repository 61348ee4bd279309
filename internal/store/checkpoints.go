package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checkpoint is a labeled save point: a JSON snapshot of the session's
// objective, active tasks, recent events, and facts. Append-only.
type Checkpoint struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Label      string    `json:"label"`
	TS         time.Time `json:"ts"`
	BundleMeta string    `json:"bundle_meta"`
}

// InsertCheckpoint appends a checkpoint row.
func (s *Store) InsertCheckpoint(ctx context.Context, c Checkpoint) error {
	meta := c.BundleMeta
	if meta == "" {
		meta = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, session_id, label, ts, bundle_meta)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.SessionID, c.Label, formatTime(c.TS), meta)
	if err != nil {
		return fmt.Errorf("insert checkpoint %s: %w", c.ID, err)
	}
	return nil
}

// GetCheckpoint returns one checkpoint or ErrNotFound.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	var c Checkpoint
	var ts string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, label, ts, bundle_meta FROM checkpoints WHERE id = ?
	`, id).Scan(&c.ID, &c.SessionID, &c.Label, &ts, &c.BundleMeta)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	c.TS = parseTime(ts)
	return c, nil
}
