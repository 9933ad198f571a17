package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunImmutable is returned when a write targets a run that is already terminal.
	ErrRunImmutable = errors.New("run is terminal and immutable")
)
