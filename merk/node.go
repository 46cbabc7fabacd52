// Package merk implements the persistent Merkle AVL subtree engine of
// spec.md §4.3: node layout, lazily-loaded links, batched build/apply,
// rotation-based rebalancing, and three-level hashing. It is grounded on
// the teacher's ledger/complete/mtrie/node.Node (same "immutable node
// layout plus height bookkeeping" shape) generalized from a fixed-depth
// sparse trie to a self-balancing AVL tree over arbitrary keys.
package merk

import (
	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/hash"
)

// Node is a single vertex of a Merk subtree (spec.md §3 "Merk node").
//
// The key is never stored inside the encoded node — it is the storage
// key the node is filed under — but Node keeps it in memory since every
// operation that reaches a node already knows its key from the descent.
type Node struct {
	key   []byte
	value []byte // serialized element bytes
	feat  element.FeatureType

	valueHash hash.CryptoHash
	kvHash    hash.CryptoHash

	left  *Link
	right *Link

	aggregate element.Aggregate

	// priorValue and knownStorageCost are transient, used only to compute
	// cost deltas for a replace/delete; never persisted.
	priorValue       []byte
	knownStorageCost uint64
}

// NewNode constructs a leaf node (no children) from a key/value pair,
// computing its value_hash and kv_hash eagerly as spec.md §3 requires
// ("value_hash precomputed", "kv_hash precomputed").
func NewNode(key, value []byte, feat element.FeatureType, agg element.Aggregate) *Node {
	n := &Node{key: key, value: value, feat: feat, aggregate: agg}
	n.recomputeOwnHashes()
	return n
}

// recomputeOwnHashes recomputes value_hash and kv_hash from the node's
// current value. It does NOT recompute node_hash, which additionally
// depends on children and is the Link/Walker's responsibility during
// commit (spec.md §4.3.5).
func (n *Node) recomputeOwnHashes() {
	n.valueHash = hash.Value(n.value)
	n.kvHash = hash.KV(n.key, n.valueHash)
}

// SetCombinedValueHash overrides value_hash with a combine_hash result for
// tree-like and reference elements (spec.md §4.2 "Combined value
// hashes"), then recomputes kv_hash to match. childOrReferentHash is the
// child subtree's root hash (Tree-like) or the referent's value hash
// (Reference).
func (n *Node) SetCombinedValueHash(childOrReferentHash hash.CryptoHash) {
	n.valueHash = hash.Combine(hash.Value(n.value), childOrReferentHash)
	n.kvHash = hash.KV(n.key, n.valueHash)
}

// Key returns the node's storage key.
func (n *Node) Key() []byte { return n.key }

// Value returns the node's serialized element bytes.
func (n *Node) Value() []byte { return n.value }

// FeatureType returns the node's aggregation mode.
func (n *Node) FeatureType() element.FeatureType { return n.feat }

// ValueHash returns the precomputed value_hash.
func (n *Node) ValueHash() hash.CryptoHash { return n.valueHash }

// KVHash returns the precomputed kv_hash.
func (n *Node) KVHash() hash.CryptoHash { return n.kvHash }

// Aggregate returns the node's own (not yet combined with children)
// aggregate contribution.
func (n *Node) Aggregate() element.Aggregate { return n.aggregate }

// SetValue replaces the node's element bytes and recomputes its own
// hashes, recording the previous value/cost for delta accounting.
func (n *Node) SetValue(value []byte, feat element.FeatureType, agg element.Aggregate, knownCost uint64) {
	n.priorValue = n.value
	n.knownStorageCost = knownCost
	n.value = value
	n.feat = feat
	n.aggregate = agg
	n.recomputeOwnHashes()
}

// PriorValue returns the value this node held before its most recent
// SetValue call, or nil if it has not been modified since creation/load.
func (n *Node) PriorValue() []byte { return n.priorValue }

// Left returns the left child link, or nil.
func (n *Node) Left() *Link { return n.left }

// Right returns the right child link, or nil.
func (n *Node) Right() *Link { return n.right }

// SetLeft replaces the left child link.
func (n *Node) SetLeft(l *Link) { n.left = l }

// SetRight replaces the right child link.
func (n *Node) SetRight(l *Link) { n.right = l }

// Child returns the link on the given side: false = left, true = right.
func (n *Node) Child(right bool) *Link {
	if right {
		return n.right
	}
	return n.left
}

// SetChild replaces the link on the given side.
func (n *Node) SetChild(right bool, l *Link) {
	if right {
		n.right = l
	} else {
		n.left = l
	}
}

// Height returns this node's own height: 1 + max(child heights), so 1
// if it has no children.
func (n *Node) Height() uint8 {
	lh, rh := uint8(0), uint8(0)
	if n.left != nil {
		lh = n.left.Height()
	}
	if n.right != nil {
		rh = n.right.Height()
	}
	if lh > rh {
		return lh + 1
	}
	return rh + 1
}

// BalanceFactor returns right_height - left_height (spec.md §4.3.3).
func (n *Node) BalanceFactor() int {
	lh, rh := 0, 0
	if n.left != nil {
		lh = int(n.left.Height())
	}
	if n.right != nil {
		rh = int(n.right.Height())
	}
	return rh - lh
}

// NodeHash computes this node's node_hash from its own kv_hash and its
// children's hashes (spec.md §4.2, §8 invariant 2). Missing children
// hash to hash.Null.
func (n *Node) NodeHash() hash.CryptoHash {
	lh, rh := hash.Null, hash.Null
	if n.left != nil {
		lh = n.left.Hash()
	}
	if n.right != nil {
		rh = n.right.Hash()
	}
	switch n.feat {
	case element.FeatureProvableCount, element.FeatureProvableCountSum:
		return hash.NodeWithCount(n.kvHash, lh, rh, n.combinedCount())
	default:
		return hash.Node(n.kvHash, lh, rh)
	}
}

// combinedCount returns the node's own count plus its children's
// counts, the value hashed into ProvableCount* node hashes (spec.md
// §4.2 "Provable count nodes").
func (n *Node) combinedCount() uint64 {
	total := n.aggregate.Count
	if n.left != nil {
		total += n.left.Aggregate().Count
	}
	if n.right != nil {
		total += n.right.Aggregate().Count
	}
	return total
}

// CombinedAggregate returns own + left + right aggregate (spec.md §4.4.5,
// §8 invariant 5).
func (n *Node) CombinedAggregate() element.Aggregate {
	agg := n.aggregate
	if n.left != nil {
		agg = agg.Combine(n.left.Aggregate())
	}
	if n.right != nil {
		agg = agg.Combine(n.right.Aggregate())
	}
	return agg
}
