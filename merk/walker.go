package merk

import (
	"github.com/dapperlabs/grovedb/cost"
)

// walker wraps a node plus a Fetch source and implements the detach/
// attach discipline of spec.md §4.3.4 and §9 ("Cyclic link graph"): the
// tree is strictly a parent-owns-children DAG, mutated by detaching a
// child (which may fault in its subtree), mutating it, and attaching it
// back, never by holding a child reference alongside the parent's
// mutable state.
type walker struct {
	fetch Fetch
}

func newWalker(fetch Fetch) *walker {
	if fetch == nil {
		fetch = noopFetch{}
	}
	return &walker{fetch: fetch}
}

// detach takes ownership of the child on the given side of n, removing
// it from n. A Reference child triggers fetch() (I/O); any other state
// is taken over without I/O (spec.md §4.3.4).
func (w *walker) detach(n *Node, right bool) (*Node, cost.Context, error) {
	link := n.Child(right)
	n.SetChild(right, nil)
	if link == nil {
		return nil, cost.Context{}, nil
	}
	return w.detachLink(link)
}

func (w *walker) detachLink(link *Link) (*Node, cost.Context, error) {
	switch link.State() {
	case StateReference:
		child, c, err := w.fetch.FetchNode(link.Key())
		if err != nil {
			return nil, c, err
		}
		return child, c, nil
	default:
		return link.Subtree(), cost.Context{}, nil
	}
}

// attach installs child as the link on the given side of n, always in
// the Modified state (the parent becomes dirty) per spec.md §4.3.4
// ("Attaching a child always places it in Modified").
func (w *walker) attach(n *Node, right bool, child *Node) {
	if child == nil {
		n.SetChild(right, nil)
		return
	}
	n.SetChild(right, NewModifiedLink(child, pendingWritesOf(child)+1))
}

// pendingWritesOf counts the dirty nodes below n: the pending writes
// recorded on its Modified child links. n itself is not counted; attach
// adds one for it. Clean (Loaded/Reference/Uncommitted) children
// contribute zero, since they have nothing left to flush.
func pendingWritesOf(n *Node) int {
	total := 0
	if n.Left() != nil && n.Left().State() == StateModified {
		total += n.Left().PendingWrites()
	}
	if n.Right() != nil && n.Right().State() == StateModified {
		total += n.Right().PendingWrites()
	}
	return total
}
