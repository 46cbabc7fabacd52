package merk

import (
	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/element"
)

// buildEntry is a sorted, already-resolved (key, value, feature,
// aggregate) triple ready to be placed into a perfectly balanced tree.
// It is the build-phase counterpart of KeyedOp, after Put-kind ops have
// been resolved to concrete node contents.
type buildEntry struct {
	key       []byte
	value     []byte
	feat      element.FeatureType
	agg       element.Aggregate
	combinedH *combinedValueHash // non-nil when value_hash must be a combine_hash result
}

// combinedValueHash carries the child/referent hash to fold into
// value_hash for tree-like or reference entries created during a build
// (spec.md §4.2 "Combined value hashes").
type combinedValueHash struct {
	other []byte // the raw hash bytes to combine with H(value)
}

// build constructs a perfectly balanced tree from a sorted, duplicate-
// free batch by median split (spec.md §4.3.2 "Empty-tree case"): the
// element at index n/2 becomes the root, the left and right halves are
// built recursively and attached. The resulting tree has height
// ceil(log2(n+1)) with no rebalancing passes needed, since a median split
// is already height-balanced at every level.
func build(entries []buildEntry) (*Node, cost.Context) {
	var total cost.Context
	root := buildRange(entries, &total)
	return root, total
}

func buildRange(entries []buildEntry, total *cost.Context) *Node {
	if len(entries) == 0 {
		return nil
	}
	mid := len(entries) / 2
	e := entries[mid]
	n := NewNode(e.key, e.value, e.feat, e.agg)
	if e.combinedH != nil {
		n.SetCombinedValueHash(hashFromBytes(e.combinedH.other))
	}
	total.AddHash(len(e.value) + 8)
	total.StorageAdded += uint64(len(e.key) + len(e.value))

	left := buildRange(entries[:mid], total)
	right := buildRange(entries[mid+1:], total)

	if left != nil {
		n.SetLeft(NewModifiedLink(left, pendingWritesOf(left)+1))
	}
	if right != nil {
		n.SetRight(NewModifiedLink(right, pendingWritesOf(right)+1))
	}
	return n
}
