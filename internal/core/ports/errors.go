package ports

import "errors"

var (
	// ErrNotFound is returned when no record matches the given id.
	ErrNotFound = errors.New("workflow record not found")

	// ErrVersionConflict is returned when an optimistic update lost the
	// race against a newer persisted version.
	ErrVersionConflict = errors.New("workflow record version conflict")

	// ErrDuplicateID is returned when creating a record whose id already
	// exists.
	ErrDuplicateID = errors.New("workflow record id already exists")
)
