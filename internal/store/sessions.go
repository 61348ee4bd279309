package store

import (
	"context"
	"fmt"
)

// CanonicalizeSessions folds alias sessions onto the canonical ID: every
// events/tasks/checkpoints row whose session_id starts with "<base>@" and is
// not already canonical is rewritten. Used when the resolver discovers the
// real branch for a session previously recorded under a placeholder suffix.
func (s *Store) CanonicalizeSessions(ctx context.Context, base, canonical string) error {
	pattern := base + "@%"
	for _, table := range []string{"events", "tasks", "checkpoints"} {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE `+table+` SET session_id = ? WHERE session_id LIKE ? AND session_id != ?`,
			canonical, pattern, canonical); err != nil {
			return fmt.Errorf("canonicalize %s: %w", table, err)
		}
	}
	return nil
}
