package grovedb

import (
	"errors"

	"github.com/dapperlabs/grovedb/grove"
	"github.com/dapperlabs/grovedb/merk"
	"github.com/dapperlabs/grovedb/query"
	"github.com/dapperlabs/grovedb/storagecontext"
)

// Kind is GroveDB's closed set of externally meaningful error categories
// (spec.md §7). Every error this package returns classifies into
// exactly one Kind; callers should branch on Kind rather than on the
// wrapped sentinel errors of the lower packages, which are
// implementation detail.
type Kind int

const (
	// Unknown is never returned by ClassifyError on a non-nil error; it
	// exists only as Kind's zero value.
	Unknown Kind = iota
	NotFound
	WrongElementType
	CyclicReference
	ReferenceLimitExceeded
	InvalidProof
	InvalidBatch
	CorruptStorage
	StorageConflict
	NotSupported
	CapacityExceeded
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case WrongElementType:
		return "WrongElementType"
	case CyclicReference:
		return "CyclicReference"
	case ReferenceLimitExceeded:
		return "ReferenceLimitExceeded"
	case InvalidProof:
		return "InvalidProof"
	case InvalidBatch:
		return "InvalidBatch"
	case CorruptStorage:
		return "CorruptStorage"
	case StorageConflict:
		return "StorageConflict"
	case NotSupported:
		return "NotSupported"
	case CapacityExceeded:
		return "CapacityExceeded"
	default:
		return "Unknown"
	}
}

// Error wraps a lower-level error with the Kind a caller should branch
// on, the way the lower packages' own sentinel errors let internal
// callers branch with errors.Is.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// ClassifyError maps err onto GroveDB's closed error-kind set. A nil err
// classifies as Unknown (callers should check err directly before
// calling ClassifyError).
func ClassifyError(err error) Kind {
	if err == nil {
		return Unknown
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	switch {
	case errors.Is(err, grove.ErrNotFound), errors.Is(err, storagecontext.ErrNotFound), errors.Is(err, merk.ErrKeyNotFound):
		return NotFound
	case errors.Is(err, grove.ErrWrongElementType):
		return WrongElementType
	case errors.Is(err, grove.ErrCyclicReference):
		return CyclicReference
	case errors.Is(err, grove.ErrReferenceLimitExceeded):
		return ReferenceLimitExceeded
	case errors.Is(err, merk.ErrInvalidProof):
		return InvalidProof
	case errors.Is(err, grove.ErrTreeNotEmpty), errors.Is(err, grove.ErrInsertOnlyExists), errors.Is(err, query.ErrInvalidQuery):
		return InvalidBatch
	case errors.Is(err, storagecontext.ErrConflict):
		return StorageConflict
	default:
		return CorruptStorage
	}
}

// wrapErr attaches a Kind to err via ClassifyError, leaving nil
// untouched so callers can keep using plain nil-checks.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	return &Error{Kind: ClassifyError(err), Err: err}
}
