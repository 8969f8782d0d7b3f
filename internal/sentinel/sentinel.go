// Package sentinel holds errors for infrastructure facts. Stores and clients
// return these, optionally wrapped, and callers translate them into HTTP
// responses or fallbacks.
package sentinel

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("unavailable")
)
