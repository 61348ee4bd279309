package store

import (
	"context"
	"fmt"
	"time"
)

// TokenMetric records the token cost of one pointer picked into a bundle,
// against the budget that composition ran under. Diagnostic, append-only.
type TokenMetric struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	PointerID string    `json:"pointer_id"`
	TokenCost int       `json:"token_cost"`
	Budget    int       `json:"budget"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertTokenMetric appends a token metric row.
func (s *Store) InsertTokenMetric(ctx context.Context, m TokenMetric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_metrics (id, session_id, pointer_id, token_cost, budget, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.SessionID, m.PointerID, m.TokenCost, m.Budget, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert token metric %s: %w", m.ID, err)
	}
	return nil
}
