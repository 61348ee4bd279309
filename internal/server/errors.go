package server

import (
	"errors"

	"github.com/basket/rwm/internal/engine"
	"github.com/basket/rwm/internal/store"
	"github.com/basket/rwm/internal/workspace"
)

// Error kinds surfaced on the wire.
const (
	KindValidation    = "validation"
	KindPathEscape    = "path-escape"
	KindNotFound      = "not-found"
	KindInvalidUpdate = "invalid-update"
	KindIO            = "io"
)

// Error is a classified request failure.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Message
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// classify wraps an internal error into a wire Error, mapping the sentinel
// errors to their kinds and everything else to io.
func classify(err error) *Error {
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr
	}
	kind := KindIO
	switch {
	case errors.Is(err, workspace.ErrPathEscape):
		kind = KindPathEscape
	case errors.Is(err, store.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, engine.ErrInvalidUpdate):
		kind = KindInvalidUpdate
	case errors.Is(err, engine.ErrInvalidValue):
		kind = KindValidation
	}
	return &Error{Kind: kind, Message: err.Error()}
}
