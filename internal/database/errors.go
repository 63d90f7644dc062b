package database

import "errors"

var (
	// ErrConflict is returned by compare-and-swap writes whose precondition no
	// longer holds. Callers re-read and retry.
	ErrConflict = errors.New("concurrent modification")

	// ErrNotFound is returned when a cluster does not exist.
	ErrNotFound = errors.New("not found")
)
