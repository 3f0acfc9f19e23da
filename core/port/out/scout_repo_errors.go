package out

import "errors"

// Sentinel errors shared by all repository implementations. Services match
// on these with errors.Is, never on driver error types.
var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint.
	ErrDuplicate = errors.New("duplicate")
)
