package merk

import (
	"github.com/dapperlabs/grovedb/cost"
)

// Fetch lazily materializes a child node from storage given its key,
// decoding it into an in-memory Node (spec.md §4.3.4). Implementations
// are supplied by the storage-context adapter layer, which sits above
// this package in the dependency order (spec.md §2): the Merk engine
// only depends on this narrow interface, never on a concrete storage
// engine (spec.md §9 "keep them narrow: three methods each").
type Fetch interface {
	// FetchNode loads and decodes the node stored under key within the
	// current subtree's prefix, returning it fully formed (children as
	// Reference links, own hashes populated from the decoded record).
	FetchNode(key []byte) (*Node, cost.Context, error)

	// CostForValue returns a value-defined storage cost override for a
	// given encoded value, when the storage-context adapter's policy
	// supplies one. A nil returned Context pointer means "use the
	// default, size-based accounting" (spec.md §4.3.4).
	CostForValue(value []byte) *cost.Context
}

// noopFetch is used for a Tree operating purely on an in-memory batch
// with no backing store (e.g. during tests or pure `build`), where no
// child is ever in the Reference state.
type noopFetch struct{}

func (noopFetch) FetchNode(key []byte) (*Node, cost.Context, error) {
	return nil, cost.Context{}, errKeyNotFound
}

func (noopFetch) CostForValue(value []byte) *cost.Context { return nil }
