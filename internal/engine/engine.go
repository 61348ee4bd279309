// Package engine implements the memory core: applying state frame commits,
// composing budgeted rehydration bundles, building checkpoint snapshots, and
// patching individual records. It writes through the store and the artifact
// pool and never touches the wire format.
package engine

import (
	"errors"

	"github.com/basket/rwm/internal/artifacts"
	"github.com/basket/rwm/internal/store"
	"github.com/basket/rwm/internal/tokenest"
)

// ErrInvalidUpdate is returned when an update carries no mutable fields for
// its target.
var ErrInvalidUpdate = errors.New("no mutable fields in update")

// ErrInvalidValue is returned when an update sets an enumerated field to a
// value outside its recognized set.
var ErrInvalidValue = errors.New("value outside the recognized set")

// Engine wires the store, the artifact pool, and the token estimator.
type Engine struct {
	store     *store.Store
	pool      *artifacts.Pool
	estimator *tokenest.Estimator
	family    tokenest.Family
}

// New builds an Engine. family selects the token accounting model for
// bundle composition.
func New(s *store.Store, pool *artifacts.Pool, est *tokenest.Estimator, family tokenest.Family) *Engine {
	return &Engine{store: s, pool: pool, estimator: est, family: family}
}

// Store exposes the underlying store for handlers that query directly.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Pool exposes the artifact pool for resource reads.
func (e *Engine) Pool() *artifacts.Pool {
	return e.pool
}
