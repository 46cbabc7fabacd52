package storagecontext

import "errors"

var (
	// ErrNotFound is returned when a key is absent from the requested
	// namespace (spec.md §6.1).
	ErrNotFound = errors.New("storagecontext: key not found")

	// ErrConflict is the 1:1 mapping of badger's optimistic-transaction
	// conflict error (spec.md §6.1 "optimistic transactions"; SPEC_FULL.md
	// §B).
	ErrConflict = errors.New("storagecontext: transaction conflict, retry")
)
