// Package domain holds error conditions shared across the engine's packages.
package domain

import "errors"

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)
