package merk

import "github.com/dapperlabs/grovedb/element"

// OpKind discriminates the Op variants the Merk engine accepts in a
// batch (spec.md §4.3.1).
type OpKind uint8

const (
	OpPut OpKind = iota
	OpPutWithSpecializedCost
	OpPutCombinedReference
	OpReplace
	OpPatch
	OpDelete
	OpDeleteLayered
	OpDeleteMaybeSpecialized
)

// Op is a single key-scoped mutation within a batch (spec.md §4.3.1).
type Op struct {
	Kind OpKind

	// Put, PutWithSpecializedCost, Replace, PutCombinedReference
	Value   []byte
	Feature element.FeatureType

	// OwnAggregate is this entry's own (pre-children) aggregate
	// contribution, precomputed by the element system from the decoded
	// Element (spec.md §4.4.5). The Merk engine never decodes element
	// bytes itself; feature-type semantics stay above this layer.
	OwnAggregate element.Aggregate

	// PutCombinedReference: the referenced value's hash, combined with
	// H(Value) to form value_hash (spec.md §4.2).
	ReferencedHash []byte

	// Patch: a delta applied to the existing value; interpretation is a
	// caller concern (element-level patching), the Merk engine treats it
	// as an opaque byte transform hook.
	Patch func(existing []byte) ([]byte, error)

	// PutWithSpecializedCost: an explicit cost override for this value,
	// bypassing size-based accounting (spec.md §4.3.4).
	SpecializedCost *uint64
}

// KeyedOp pairs an Op with the key it targets, the unit batches are
// sorted and applied in.
type KeyedOp struct {
	Key []byte
	Op  Op
}
