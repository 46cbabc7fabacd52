package merk

import (
	"fmt"

	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/hash"
)

// Tree is one Merk subtree: a Merkle AVL tree over a sorted key space,
// parameterized over a Fetch capability that lazily materializes
// children (spec.md §3 "Subtree", §4.3.1).
type Tree struct {
	root *Node
	w    *walker
}

// NewTree returns an empty Tree backed by fetch.
func NewTree(fetch Fetch) *Tree {
	return &Tree{w: newWalker(fetch)}
}

// OpenTree loads an existing Tree given its root node's storage key. A
// nil rootKey yields an empty tree (spec.md §8 "Empty subtree").
func OpenTree(fetch Fetch, rootKey []byte) (*Tree, cost.Context, error) {
	t := &Tree{w: newWalker(fetch)}
	if rootKey == nil {
		return t, cost.Context{}, nil
	}
	n, c, err := t.w.fetch.FetchNode(rootKey)
	if err != nil {
		return nil, c, fmt.Errorf("merk: opening tree at root %x: %w", rootKey, err)
	}
	t.root = n
	return t, c, nil
}

// IsEmpty reports whether the tree holds no elements.
func (t *Tree) IsEmpty() bool { return t.root == nil }

// RootKey returns the storage key of the root node, or nil if empty.
func (t *Tree) RootKey() []byte {
	if t.root == nil {
		return nil
	}
	return t.root.Key()
}

// RootHash returns the tree's root_hash (spec.md §4.3.1), NULL_HASH for
// an empty tree (spec.md §8 "Empty subtree"). Only valid to call once
// every Modified link below the root has been committed.
func (t *Tree) RootHash() hash.CryptoHash {
	if t.root == nil {
		return hash.Null
	}
	return t.root.NodeHash()
}

// Aggregate returns the tree's root aggregate (spec.md §4.4.5), the
// identity value for an empty tree (spec.md §8 "Empty subtree").
func (t *Tree) Aggregate() element.Aggregate {
	if t.root == nil {
		return element.Aggregate{}
	}
	return t.root.CombinedAggregate()
}

// Height returns the tree's height, 0 for an empty tree.
func (t *Tree) Height() uint8 {
	if t.root == nil {
		return 0
	}
	return t.root.Height()
}

// Get retrieves the serialized element bytes stored under key (spec.md
// §4.3.1). Returns ErrKeyNotFound if absent.
func (t *Tree) Get(key []byte) ([]byte, cost.Context, error) {
	var total cost.Context
	n := t.root
	for n != nil {
		cmp := compareKeys(key, n.Key())
		if cmp == 0 {
			return n.Value(), total, nil
		}
		var link *Link
		if cmp < 0 {
			link = n.Left()
		} else {
			link = n.Right()
		}
		if link == nil {
			return nil, total, ErrKeyNotFound
		}
		total.Seeks++
		if link.State() == StateReference {
			child, c, err := t.w.fetch.FetchNode(link.Key())
			total.Add(c)
			if err != nil {
				return nil, total, fmt.Errorf("merk: fetching %x: %w", link.Key(), err)
			}
			total.StorageLoaded += uint64(len(child.Key()) + len(child.Value()))
			n = child
		} else {
			n = link.Subtree()
		}
	}
	return nil, total, ErrKeyNotFound
}

// GetValueHash returns the precomputed value_hash of the node stored
// under key, without paying to copy its (possibly much larger) value
// bytes. Used by reference resolution to bind a Reference's combine_hash
// to its referent without re-decoding the referent's element (spec.md
// §4.2, §4.4.4).
func (t *Tree) GetValueHash(key []byte) (hash.CryptoHash, cost.Context, error) {
	var total cost.Context
	n := t.root
	for n != nil {
		cmp := compareKeys(key, n.Key())
		if cmp == 0 {
			return n.ValueHash(), total, nil
		}
		var link *Link
		if cmp < 0 {
			link = n.Left()
		} else {
			link = n.Right()
		}
		if link == nil {
			return hash.Null, total, ErrKeyNotFound
		}
		total.Seeks++
		if link.State() == StateReference {
			child, c, err := t.w.fetch.FetchNode(link.Key())
			total.Add(c)
			if err != nil {
				return hash.Null, total, fmt.Errorf("merk: fetching %x: %w", link.Key(), err)
			}
			n = child
		} else {
			n = link.Subtree()
		}
	}
	return hash.Null, total, ErrKeyNotFound
}

// Has reports whether key is present, without paying for decoding the
// value beyond what Get's traversal already does.
func (t *Tree) Has(key []byte) (bool, cost.Context, error) {
	_, c, err := t.Get(key)
	if err == ErrKeyNotFound {
		return false, c, nil
	}
	if err != nil {
		return false, c, err
	}
	return true, c, nil
}

// Apply applies a batch of key-scoped ops to the tree (spec.md §4.3.1,
// §4.3.2). The batch must already be sorted by key with no duplicate
// keys — the grove/batch layer guarantees this before calling down.
func (t *Tree) Apply(batch []KeyedOp) (cost.Context, error) {
	if len(batch) == 0 {
		return cost.Context{}, nil
	}
	for i := 1; i < len(batch); i++ {
		if compareKeys(batch[i-1].Key, batch[i].Key) >= 0 {
			return cost.Context{}, errBatchUnsorted
		}
	}
	newRoot, c, err := t.w.applySorted(t.root, batch)
	if err != nil {
		return c, err
	}
	t.root = newRoot
	return c, nil
}

// Commit recomputes hashes bottom-up for every dirty node and persists
// them via w, in an order that writes children before the parent link
// referencing them is finalized (spec.md §4.3.5). After Commit, every
// previously-Modified link is Uncommitted; call MarkLoaded once the
// caller's storage transaction has actually flushed the writes.
func (t *Tree) Commit(w NodeWriter) (cost.Context, error) {
	if t.root == nil {
		return cost.Context{}, nil
	}
	_, _, c, err := commitNode(t.root, w)
	if err != nil {
		return c, err
	}
	if err := w.WriteNode(t.root.Key(), EncodeNode(t.root)); err != nil {
		return c, fmt.Errorf("merk: writing root %x: %w", t.root.Key(), err)
	}
	return c, nil
}

// MarkLoaded transitions every Uncommitted link below the root to
// Loaded, once the storage context's batch has actually been applied
// (spec.md §3 diagram).
func (t *Tree) MarkLoaded() {
	markLoadedRecursive(t.root)
}

// Root exposes the root node for callers (proof generation, query
// execution) that need read access to tree structure beyond Get/Apply.
func (t *Tree) Root() *Node { return t.root }

// Fetch exposes the tree's lazy-load capability, e.g. so a caller walking
// raw nodes (proof generation) can fault in children itself.
func (t *Tree) Fetch() Fetch { return t.w.fetch }
