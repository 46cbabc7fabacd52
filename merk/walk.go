package merk

import "github.com/dapperlabs/grovedb/cost"

// Bounds describes a half-open-or-closed key range for Tree.Range. A nil
// Lower means "-infinity", a nil Upper means "+infinity" (spec.md §4.6
// QueryItem variants RangeFull, RangeFrom, RangeTo, ...).
type Bounds struct {
	Lower        []byte
	LowerExclude bool // true: Lower itself is excluded (RangeAfter*)
	Upper        []byte
	UpperExclude bool // true: Upper itself is excluded (Range, RangeTo)
}

func (b Bounds) includes(key []byte) bool {
	if b.Lower != nil {
		c := compareKeys(key, b.Lower)
		if c < 0 || (c == 0 && b.LowerExclude) {
			return false
		}
	}
	if b.Upper != nil {
		c := compareKeys(key, b.Upper)
		if c > 0 || (c == 0 && b.UpperExclude) {
			return false
		}
	}
	return true
}

// Includes is the exported form of includes, for callers outside this
// package (the proof package's layered verification) that need to match
// a proof-committed key back to the QueryItem that produced it.
func (b Bounds) Includes(key []byte) bool {
	return b.includes(key)
}

// Visit is called once per matching (key, value) in traversal order; it
// returns cont=false to stop the walk early (spec.md §4.6 "iteration
// stops immediately when limit reaches zero").
type Visit func(key, value []byte) (cont bool, err error)

// Range walks the subset of the tree within bounds, in ascending order
// if leftToRight else descending, invoking visit for each match and
// lazily fetching Reference children it descends into (spec.md §4.3.1
// "walk", §4.6). It is the structural primitive the query engine drives
// to answer PathQuery range items.
func (t *Tree) Range(bounds Bounds, leftToRight bool, visit Visit) (cost.Context, error) {
	var total cost.Context
	_, err := t.w.rangeScan(t.root, bounds, leftToRight, visit, &total)
	return total, err
}

func (w *walker) rangeScan(n *Node, bounds Bounds, leftToRight bool, visit Visit, total *cost.Context) (bool, error) {
	if n == nil {
		return true, nil
	}

	firstSide, secondSide := false, true // left first, then right (ascending)
	if !leftToRight {
		firstSide, secondSide = true, false
	}

	// Prune: only descend into a child if the range could still overlap
	// it, using the node's own key as the dividing point.
	descendFirst := true
	if leftToRight {
		descendFirst = bounds.Lower == nil || compareKeys(bounds.Lower, n.Key()) < 0 || (compareKeys(bounds.Lower, n.Key()) == 0 && !bounds.LowerExclude)
	} else {
		descendFirst = bounds.Upper == nil || compareKeys(bounds.Upper, n.Key()) > 0 || (compareKeys(bounds.Upper, n.Key()) == 0 && !bounds.UpperExclude)
	}

	if descendFirst {
		child, c, err := w.peek(n, firstSide)
		total.Add(c)
		if err != nil {
			return false, err
		}
		cont, err := w.rangeScan(child, bounds, leftToRight, visit, total)
		if err != nil || !cont {
			return cont, err
		}
	}

	if bounds.includes(n.Key()) {
		cont, err := visit(n.Key(), n.Value())
		if err != nil || !cont {
			return cont, err
		}
	}

	descendSecond := true
	if leftToRight {
		descendSecond = bounds.Upper == nil || compareKeys(bounds.Upper, n.Key()) > 0 || (compareKeys(bounds.Upper, n.Key()) == 0 && !bounds.UpperExclude)
	} else {
		descendSecond = bounds.Lower == nil || compareKeys(bounds.Lower, n.Key()) < 0 || (compareKeys(bounds.Lower, n.Key()) == 0 && !bounds.LowerExclude)
	}

	if descendSecond {
		child, c, err := w.peek(n, secondSide)
		total.Add(c)
		if err != nil {
			return false, err
		}
		return w.rangeScan(child, bounds, leftToRight, visit, total)
	}
	return true, nil
}

// peek is a read-only detach: it faults in a Reference child (I/O) but,
// unlike detach, leaves the parent's link untouched (the parent is not
// being mutated, so it must not become dirty).
func (w *walker) peek(n *Node, right bool) (*Node, cost.Context, error) {
	link := n.Child(right)
	if link == nil {
		return nil, cost.Context{}, nil
	}
	if link.State() != StateReference {
		return link.Subtree(), cost.Context{}, nil
	}
	child, c, err := w.fetch.FetchNode(link.Key())
	return child, c, err
}
