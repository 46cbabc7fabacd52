package merk

import (
	"fmt"
	"sort"

	"github.com/dapperlabs/grovedb/cost"
)

// searchBatch binary-searches batch (sorted by key) for key, returning
// the index of an exact match and true, or the insertion point and
// false.
func searchBatch(batch []KeyedOp, key []byte) (int, bool) {
	idx := sort.Search(len(batch), func(i int) bool {
		return compareKeys(batch[i].Key, key) >= 0
	})
	if idx < len(batch) && compareKeys(batch[idx].Key, key) == 0 {
		return idx, true
	}
	return idx, false
}

// opsToEntries resolves a batch of Put-kind ops (no existing node to
// apply Delete/Replace/Patch against) into buildEntry values for build().
// A Delete op reaching an empty subtree is a no-op removal of an absent
// key; it contributes no entry.
func opsToEntries(batch []KeyedOp) ([]buildEntry, error) {
	entries := make([]buildEntry, 0, len(batch))
	for _, ko := range batch {
		switch ko.Op.Kind {
		case OpDelete, OpDeleteLayered, OpDeleteMaybeSpecialized:
			continue
		case OpReplace, OpPatch:
			return nil, fmt.Errorf("merk: %w: op %d on absent key", errDeleteNotFound, ko.Op.Kind)
		default:
			e := buildEntry{key: ko.Key, value: ko.Op.Value, feat: ko.Op.Feature, agg: ko.Op.OwnAggregate}
			if ko.Op.Kind == OpPutCombinedReference {
				e.combinedH = &combinedValueHash{other: ko.Op.ReferencedHash}
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// applyToNode resolves Op against n's current value in place, returning
// whether n should be removed entirely (Delete-kind ops).
func applyToNode(n *Node, op Op) (remove bool, c cost.Context, err error) {
	switch op.Kind {
	case OpDelete, OpDeleteLayered, OpDeleteMaybeSpecialized:
		c.StorageRemoved = uint64(len(n.Key()) + len(n.Value()))
		return true, c, nil

	case OpReplace:
		c.StorageReplaced = uint64(len(op.Value))
		n.SetValue(op.Value, op.Feature, op.OwnAggregate, 0)
		c.AddHash(len(op.Value) + len(n.Key()))
		return false, c, nil

	case OpPatch:
		newVal, perr := op.Patch(n.Value())
		if perr != nil {
			return false, c, fmt.Errorf("merk: patch failed: %w", perr)
		}
		c.StorageReplaced = uint64(len(newVal))
		n.SetValue(newVal, op.Feature, op.OwnAggregate, 0)
		c.AddHash(len(newVal) + len(n.Key()))
		return false, c, nil

	case OpPutCombinedReference:
		n.SetValue(op.Value, op.Feature, op.OwnAggregate, 0)
		n.SetCombinedValueHash(hashFromBytes(op.ReferencedHash))
		c.StorageReplaced = uint64(len(op.Value))
		c.AddHash(len(op.Value) + len(n.Key()) + 32)
		return false, c, nil

	case OpPutWithSpecializedCost:
		n.SetValue(op.Value, op.Feature, op.OwnAggregate, *op.SpecializedCost)
		c.StorageReplaced = *op.SpecializedCost
		c.AddHash(len(op.Value) + len(n.Key()))
		return false, c, nil

	default: // OpPut: re-insert at an existing key overwrites the value.
		c.StorageReplaced = uint64(len(op.Value))
		n.SetValue(op.Value, op.Feature, op.OwnAggregate, 0)
		c.AddHash(len(op.Value) + len(n.Key()))
		return false, c, nil
	}
}

// applySorted is the non-empty-tree apply of spec.md §4.3.2: binary
// search the batch for n's own key; if found, apply the op in place;
// regardless, split the remaining batch at the insertion point and
// recurse into both children (lazy-loading via Fetch as needed), then
// rebalance.
func (w *walker) applySorted(n *Node, batch []KeyedOp) (*Node, cost.Context, error) {
	var total cost.Context

	if n == nil {
		entries, err := opsToEntries(batch)
		if err != nil {
			return nil, total, err
		}
		root, c := build(entries)
		total.Add(c)
		return root, total, nil
	}

	idx, found := searchBatch(batch, n.Key())
	leftBatch := batch[:idx]
	var rightBatch []KeyedOp
	removed := false

	if found {
		rightBatch = batch[idx+1:]
		var c cost.Context
		var err error
		removed, c, err = applyToNode(n, batch[idx].Op)
		total.Add(c)
		if err != nil {
			return n, total, err
		}
	} else {
		rightBatch = batch[idx:]
	}

	leftChild, c, err := w.detach(n, false)
	total.Add(c)
	if err != nil {
		return n, total, err
	}
	if len(leftBatch) > 0 {
		leftChild, c, err = w.applySorted(leftChild, leftBatch)
		total.Add(c)
		if err != nil {
			return n, total, err
		}
	}

	rightChild, c, err := w.detach(n, true)
	total.Add(c)
	if err != nil {
		return n, total, err
	}
	if len(rightBatch) > 0 {
		rightChild, c, err = w.applySorted(rightChild, rightBatch)
		total.Add(c)
		if err != nil {
			return n, total, err
		}
	}

	if removed {
		newRoot, c2, err := w.deleteNode(leftChild, rightChild)
		total.Add(c2)
		return newRoot, total, err
	}

	w.attach(n, false, leftChild)
	w.attach(n, true, rightChild)
	newN, c2, err := w.maybeBalance(n)
	total.Add(c2)
	return newN, total, err
}

// deleteNode removes a node given its two (already-updated) children,
// promoting the inorder neighbor from the taller subtree (spec.md
// §4.3.3 "Deletion of internal nodes"): leftmost of right if right is
// taller or equal, rightmost of left otherwise.
func (w *walker) deleteNode(left, right *Node) (*Node, cost.Context, error) {
	var total cost.Context
	switch {
	case left == nil:
		return right, total, nil
	case right == nil:
		return left, total, nil
	}

	if right.Height() >= left.Height() {
		newRight, neighbor, c, err := w.extractMin(right)
		total.Add(c)
		if err != nil {
			return nil, total, err
		}
		w.attach(neighbor, false, left)
		w.attach(neighbor, true, newRight)
		newN, c2, err := w.maybeBalance(neighbor)
		total.Add(c2)
		return newN, total, err
	}

	newLeft, neighbor, c, err := w.extractMax(left)
	total.Add(c)
	if err != nil {
		return nil, total, err
	}
	w.attach(neighbor, false, newLeft)
	w.attach(neighbor, true, right)
	newN, c2, err := w.maybeBalance(neighbor)
	total.Add(c2)
	return newN, total, err
}

// extractMin removes and returns the leftmost (minimum-key) node of n's
// subtree, along with the remainder of that subtree with the minimum
// removed, rebalancing on the way back up.
func (w *walker) extractMin(n *Node) (remainder *Node, min *Node, c cost.Context, err error) {
	var total cost.Context
	left, c1, err := w.detach(n, false)
	total.Add(c1)
	if err != nil {
		return n, nil, total, err
	}
	if left == nil {
		right, c2, err := w.detach(n, true)
		total.Add(c2)
		if err != nil {
			return n, nil, total, err
		}
		return right, n, total, nil
	}
	newLeft, minNode, c2, err := w.extractMin(left)
	total.Add(c2)
	if err != nil {
		return n, nil, total, err
	}
	w.attach(n, false, newLeft)
	newN, c3, err := w.maybeBalance(n)
	total.Add(c3)
	return newN, minNode, total, err
}

// extractMax is the mirror image of extractMin, removing the rightmost
// (maximum-key) node.
func (w *walker) extractMax(n *Node) (remainder *Node, max *Node, c cost.Context, err error) {
	var total cost.Context
	right, c1, err := w.detach(n, true)
	total.Add(c1)
	if err != nil {
		return n, nil, total, err
	}
	if right == nil {
		left, c2, err := w.detach(n, false)
		total.Add(c2)
		if err != nil {
			return n, nil, total, err
		}
		return left, n, total, nil
	}
	newRight, maxNode, c2, err := w.extractMax(right)
	total.Add(c2)
	if err != nil {
		return n, nil, total, err
	}
	w.attach(n, true, newRight)
	newN, c3, err := w.maybeBalance(n)
	total.Add(c3)
	return newN, maxNode, total, err
}
