package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a save violates a uniqueness constraint.
	ErrAlreadyExists = errors.New("already exists")
)
