package merk

import "github.com/dapperlabs/grovedb/cost"

// maybeBalance inspects n's balance factor and performs the rotation
// spec.md §4.3.3 prescribes, returning the (possibly different) node
// that should now occupy n's position. It must be invoked by every
// ascending step of apply/delete, since rotations may cascade upward.
func (w *walker) maybeBalance(n *Node) (*Node, cost.Context, error) {
	var total cost.Context
	bf := n.BalanceFactor()
	switch {
	case bf >= -1 && bf <= 1:
		return n, total, nil

	case bf == 2:
		right, c, err := w.detach(n, true)
		total.Add(c)
		if err != nil {
			return n, total, err
		}
		if right.BalanceFactor() < 0 {
			var c2 cost.Context
			right, c2, err = w.rotate(right, false) // right-rotate right child
			total.Add(c2)
			if err != nil {
				return n, total, err
			}
		}
		w.attach(n, true, right)
		return w.rotate(n, true) // left-rotate n

	case bf == -2:
		left, c, err := w.detach(n, false)
		total.Add(c)
		if err != nil {
			return n, total, err
		}
		if left.BalanceFactor() > 0 {
			var c2 cost.Context
			left, c2, err = w.rotate(left, true) // left-rotate left child
			total.Add(c2)
			if err != nil {
				return n, total, err
			}
		}
		w.attach(n, false, left)
		return w.rotate(n, false) // right-rotate n

	default:
		// A single structural change can only move the balance factor by
		// one step past the AVL bound; anything beyond [-2,2] indicates a
		// caller applied more than one mutation without rebalancing
		// between them.
		return n, total, nil
	}
}

// rotate performs a single rotation of n toward the given direction.
// left=true means "left rotation" (promote the right child): detach the
// heavier child, detach its opposite-side grandchild, attach the
// grandchild to n, attach n as a child of the promoted node (spec.md
// §4.3.3 "A rotation is...").
func (w *walker) rotate(n *Node, left bool) (*Node, cost.Context, error) {
	var total cost.Context

	heavy, c, err := w.detach(n, left) // left rotation promotes the right child
	total.Add(c)
	if err != nil {
		return n, total, err
	}

	grandchild, c2, err := w.detach(heavy, !left)
	total.Add(c2)
	if err != nil {
		return n, total, err
	}

	w.attach(n, left, grandchild)
	w.attach(heavy, !left, n)

	return heavy, total, nil
}
