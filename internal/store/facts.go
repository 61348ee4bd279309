package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// FactScope bounds where a durable fact applies.
type FactScope string

const (
	ScopeRepo    FactScope = "repo"
	ScopeService FactScope = "service"
	ScopeTeam    FactScope = "team"
	ScopeGlobal  FactScope = "global"
)

// ValidFactScope reports whether s is one of the recognized scopes.
func ValidFactScope(s string) bool {
	switch FactScope(s) {
	case ScopeRepo, ScopeService, ScopeTeam, ScopeGlobal:
		return true
	}
	return false
}

// Fact is a durable project-wide key/value. The ID is derived from
// (key, scope), so re-committing the same pair updates in place. Facts carry
// no session column.
type Fact struct {
	ID    string    `json:"id"`
	Key   string    `json:"key"`
	Value string    `json:"value"`
	Scope FactScope `json:"scope"`
}

// UpsertFact inserts or overwrites value and scope by deterministic ID.
func (s *Store) UpsertFact(ctx context.Context, f Fact) error {
	scope := f.Scope
	if scope == "" {
		scope = ScopeRepo
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (id, key, value, scope)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			value = excluded.value,
			scope = excluded.scope
	`, f.ID, f.Key, f.Value, string(scope))
	if err != nil {
		return fmt.Errorf("upsert fact %s: %w", f.ID, err)
	}
	return nil
}

func scanFact(row interface{ Scan(...any) error }) (Fact, error) {
	var f Fact
	var scope string
	if err := row.Scan(&f.ID, &f.Key, &f.Value, &scope); err != nil {
		return Fact{}, err
	}
	f.Scope = FactScope(scope)
	return f, nil
}

// GetFact returns one fact or ErrNotFound.
func (s *Store) GetFact(ctx context.Context, id string) (Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key, value, scope FROM facts WHERE id = ?`, id)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Fact{}, fmt.Errorf("fact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Fact{}, fmt.Errorf("get fact %s: %w", id, err)
	}
	return f, nil
}

// ListFacts returns all facts. Facts are project-wide, so there is no
// session filter.
func (s *Store) ListFacts(ctx context.Context) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, key, value, scope FROM facts ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
