package record

import "errors"

var (
	// ErrNotFound is returned when no record matches the identity triple.
	ErrNotFound = errors.New("record not found")

	// ErrNotAuthorized is returned when a record exists but belongs to a
	// different owner.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrConflict is returned when a create collides with an existing id
	// under a different owner or project.
	ErrConflict = errors.New("record already exists")
)
