package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EventKind classifies an append-only session event.
type EventKind string

const (
	EventDecision   EventKind = "DECISION"
	EventAssumption EventKind = "ASSUMPTION"
	EventFix        EventKind = "FIX"
	EventBlocker    EventKind = "BLOCKER"
	EventNote       EventKind = "NOTE"
	EventTestFail   EventKind = "TEST_FAIL"
	EventTestPass   EventKind = "TEST_PASS"
)

// ValidEventKind reports whether k is one of the recognized kinds.
func ValidEventKind(k string) bool {
	switch EventKind(k) {
	case EventDecision, EventAssumption, EventFix, EventBlocker, EventNote, EventTestFail, EventTestPass:
		return true
	}
	return false
}

// Event records a decision, assumption, fix, blocker, note, or test result.
// Events are append-only: rows are never updated or deleted.
type Event struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	TaskID      *string   `json:"task_id,omitempty"`
	SessionID   string    `json:"session_id"`
	Summary     string    `json:"summary"`
	EvidenceIDs string    `json:"evidence_ids"` // JSON-encoded list of artifact/event IDs
	TS          time.Time `json:"ts"`
}

// InsertEvent appends an event. A duplicate primary key is a programmer
// error and surfaces as a constraint failure.
func (s *Store) InsertEvent(ctx context.Context, e Event) error {
	evidence := e.EvidenceIDs
	if evidence == "" {
		evidence = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, kind, task_id, session_id, summary, evidence_ids, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Kind), nullString(e.TaskID), e.SessionID, e.Summary, evidence, formatTime(e.TS))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var e Event
	var taskID sql.NullString
	var kind, ts string
	if err := row.Scan(&e.ID, &kind, &taskID, &e.SessionID, &e.Summary, &e.EvidenceIDs, &ts); err != nil {
		return Event{}, err
	}
	e.Kind = EventKind(kind)
	e.TaskID = fromNullString(taskID)
	e.TS = parseTime(ts)
	return e, nil
}

const eventColumns = `id, kind, task_id, session_id, summary, evidence_ids, ts`

// GetEvent returns one event or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Event{}, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

// ListRecentEvents returns a session's events ordered by ts descending.
// Ties carry no secondary ordering; the renderer tolerates that.
func (s *Store) ListRecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE session_id = ?
		ORDER BY ts DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
