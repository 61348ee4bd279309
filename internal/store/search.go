package store

import (
	"context"
	"fmt"
)

// SearchResult groups the three scoped substring matches of a search.
type SearchResult struct {
	Events []Event `json:"events"`
	Tasks  []Task  `json:"tasks"`
	Facts  []Fact  `json:"facts"`
}

// Search runs three parallel substring matches: events by summary or ID and
// tasks by title or ID (both session-scoped), and facts by key or value
// (project-wide, ignoring session on purpose).
func (s *Store) Search(ctx context.Context, sessionID, query string, limit int) (SearchResult, error) {
	like := "%" + query + "%"
	var out SearchResult

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE session_id = ? AND (summary LIKE ? OR id LIKE ?)
		ORDER BY ts DESC
		LIMIT ?
	`, sessionID, like, like, limit)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return SearchResult{}, fmt.Errorf("scan event: %w", err)
		}
		out.Events = append(out.Events, e)
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, err
	}

	taskRows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE session_id = ? AND (title LIKE ? OR id LIKE ?)
		ORDER BY updated_at DESC
		LIMIT ?
	`, sessionID, like, like, limit)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search tasks: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		t, err := scanTask(taskRows)
		if err != nil {
			return SearchResult{}, fmt.Errorf("scan task: %w", err)
		}
		out.Tasks = append(out.Tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return SearchResult{}, err
	}

	factRows, err := s.db.QueryContext(ctx, `
		SELECT id, key, value, scope FROM facts
		WHERE key LIKE ? OR value LIKE ?
		ORDER BY key
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search facts: %w", err)
	}
	defer factRows.Close()
	for factRows.Next() {
		f, err := scanFact(factRows)
		if err != nil {
			return SearchResult{}, fmt.Errorf("scan fact: %w", err)
		}
		out.Facts = append(out.Facts, f)
	}
	return out, factRows.Err()
}
