package merk

import "errors"

var (
	errLinkNotLoaded  = errors.New("merk: link is not in Loaded state")
	errKeyNotFound    = errors.New("merk: key not found")
	errEmptyBatch     = errors.New("merk: batch must be non-empty")
	errBatchUnsorted  = errors.New("merk: batch must be sorted by key with no duplicates")
	errDeleteNotFound = errors.New("merk: delete target not found")
	errInvalidProof   = errors.New("merk: invalid proof")
)

// ErrInvalidProof is returned by VerifyProof when a proof stream is
// malformed or leaves the stack machine in an inconsistent state.
var ErrInvalidProof = errInvalidProof

// ErrKeyNotFound is returned by Tree.Get for an absent key.
var ErrKeyNotFound = errKeyNotFound
