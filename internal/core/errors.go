package core

import "errors"

var (
	// ErrInvalidInput marks a caller-input error: surfaced immediately,
	// no partial work performed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a missing conversation or message set for a
	// memory-update request.
	ErrNotFound = errors.New("not found")
)
