package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusTodo    TaskStatus = "todo"
	TaskStatusDoing   TaskStatus = "doing"
	TaskStatusBlocked TaskStatus = "blocked"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusReview  TaskStatus = "review"
)

// ValidTaskStatus reports whether s is one of the recognized states.
func ValidTaskStatus(s string) bool {
	switch TaskStatus(s) {
	case TaskStatusTodo, TaskStatusDoing, TaskStatusBlocked, TaskStatusDone, TaskStatusReview:
		return true
	}
	return false
}

// Task is a unit of work derived from a commit's task title. Tasks are never
// deleted; commits addressing the same derived ID mutate the row in place.
type Task struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	ParentID       *string    `json:"parent_id,omitempty"`
	Title          string     `json:"title"`
	Status         TaskStatus `json:"status"`
	AcceptCriteria *string    `json:"accept_criteria,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// UpsertTask inserts or updates a task by primary key. created_at is kept
// from the original row on conflict.
func (s *Store) UpsertTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, parent_id, title, status, accept_criteria, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id      = excluded.session_id,
			parent_id       = excluded.parent_id,
			title           = excluded.title,
			status          = excluded.status,
			accept_criteria = excluded.accept_criteria,
			updated_at      = excluded.updated_at
	`, t.ID, t.SessionID, nullString(t.ParentID), t.Title, string(t.Status),
		nullString(t.AcceptCriteria), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var parent, accept sql.NullString
	var status, created, updated string
	if err := row.Scan(&t.ID, &t.SessionID, &parent, &t.Title, &status, &accept, &created, &updated); err != nil {
		return Task{}, err
	}
	t.ParentID = fromNullString(parent)
	t.AcceptCriteria = fromNullString(accept)
	t.Status = TaskStatus(status)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

const taskColumns = `id, session_id, parent_id, title, status, accept_criteria, created_at, updated_at`

// GetTask returns one task or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// ListActiveTasks returns tasks for a session with status doing or blocked,
// most recently updated first.
func (s *Store) ListActiveTasks(ctx context.Context, sessionID string, limit int) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE session_id = ? AND status IN ('doing', 'blocked')
		ORDER BY updated_at DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
