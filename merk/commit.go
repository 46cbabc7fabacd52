package merk

import (
	"fmt"

	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/hash"
)

// commitNode walks n depth-first, recomputing value_hash/kv_hash/
// node_hash for every Modified descendant and persisting it before its
// parent's link is updated, so writes respect pending_writes ordering
// (spec.md §4.3.5). It returns n's own (now valid) node_hash and
// combined aggregate.
func commitNode(n *Node, w NodeWriter) (hash.CryptoHash, element.Aggregate, cost.Context, error) {
	var total cost.Context

	if n.left != nil && n.left.State() == StateModified {
		childHash, childAgg, c, err := commitNode(n.left.Subtree(), w)
		total.Add(c)
		if err != nil {
			return hash.Null, element.Aggregate{}, total, err
		}
		n.left.markUncommitted(childHash, childAgg)
		if err := w.WriteNode(n.left.Key(), EncodeNode(n.left.Subtree())); err != nil {
			return hash.Null, element.Aggregate{}, total, fmt.Errorf("merk: writing left child %x: %w", n.left.Key(), err)
		}
	}

	if n.right != nil && n.right.State() == StateModified {
		childHash, childAgg, c, err := commitNode(n.right.Subtree(), w)
		total.Add(c)
		if err != nil {
			return hash.Null, element.Aggregate{}, total, err
		}
		n.right.markUncommitted(childHash, childAgg)
		if err := w.WriteNode(n.right.Key(), EncodeNode(n.right.Subtree())); err != nil {
			return hash.Null, element.Aggregate{}, total, fmt.Errorf("merk: writing right child %x: %w", n.right.Key(), err)
		}
	}

	ownHash := n.NodeHash()
	total.AddHash(hash.Size * 3)
	return ownHash, n.CombinedAggregate(), total, nil
}

// markLoadedRecursive flips every Uncommitted link below n to Loaded,
// once the storage-context adapter has actually flushed the write batch
// commit() queued (spec.md §3 diagram: Uncommitted -> flush -> Loaded).
// Call this after the outer storage transaction commits successfully.
func markLoadedRecursive(n *Node) {
	if n == nil {
		return
	}
	if n.left != nil {
		n.left.markLoaded()
		if n.left.Subtree() != nil {
			markLoadedRecursive(n.left.Subtree())
		}
	}
	if n.right != nil {
		n.right.markLoaded()
		if n.right.Subtree() != nil {
			markLoadedRecursive(n.right.Subtree())
		}
	}
}
