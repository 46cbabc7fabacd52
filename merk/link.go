package merk

import (
	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/hash"
)

// LinkState is the four-state child-edge machine of spec.md §3 ("Link").
type LinkState uint8

const (
	// StateReference: hash valid, subtree not in memory. Produced by
	// decoding a node from storage.
	StateReference LinkState = iota
	// StateLoaded: hash valid, subtree clean, persisted. Reached by
	// fetch()ing a Reference link.
	StateLoaded
	// StateModified: hash invalid (pending), subtree dirty,
	// pendingWrites >= 1. Reached by mutating a Loaded/Reference subtree.
	StateModified
	// StateUncommitted: hash freshly recomputed, subtree clean, not yet
	// persisted. Reached by commit()'s bottom-up hash recompute.
	StateUncommitted
)

// Link is a child edge in one of the four states described by spec.md
// §3. Every state carries childHeights (the heights of the child's own
// left/right subtrees, i.e. `(left_height, right_height)` of the child
// node itself) so height and balance-factor queries never require a
// fetch.
type Link struct {
	state LinkState

	hash           hash.CryptoHash // valid in Reference, Loaded, Uncommitted
	childHeightL   uint8
	childHeightR   uint8
	aggregate      element.Aggregate // valid in Reference, Loaded, Uncommitted
	key            []byte            // child's storage key, valid whenever subtree is not resident
	pendingWrites  int               // valid in Modified: count of dirty descendants incl. self
	subtree        *Node             // resident in Loaded, Modified, Uncommitted
}

// NewReferenceLink constructs a Reference link: hash known, subtree not
// loaded. This is what decoding a node's child pointer from storage
// produces (spec.md §3 "decode -> Reference").
func NewReferenceLink(childKey []byte, h hash.CryptoHash, heightL, heightR uint8, agg element.Aggregate) *Link {
	return &Link{
		state:        StateReference,
		hash:         h,
		key:          childKey,
		childHeightL: heightL,
		childHeightR: heightR,
		aggregate:    agg,
	}
}

// NewLoadedLink wraps an already-resident subtree as Loaded (hash valid,
// clean, persisted).
func NewLoadedLink(n *Node, h hash.CryptoHash, agg element.Aggregate) *Link {
	l := &Link{state: StateLoaded, subtree: n, hash: h, aggregate: agg}
	l.refreshChildHeights()
	return l
}

// NewModifiedLink wraps a freshly-attached or freshly-mutated subtree as
// Modified: hash invalid until commit, pendingWrites counts the dirty
// node plus any dirty descendants already recorded on it.
func NewModifiedLink(n *Node, pendingWrites int) *Link {
	l := &Link{state: StateModified, subtree: n, pendingWrites: pendingWrites}
	l.refreshChildHeights()
	return l
}

func (l *Link) refreshChildHeights() {
	if l.subtree == nil {
		return
	}
	if l.subtree.left != nil {
		l.childHeightL = l.subtree.left.Height()
	} else {
		l.childHeightL = 0
	}
	if l.subtree.right != nil {
		l.childHeightR = l.subtree.right.Height()
	} else {
		l.childHeightR = 0
	}
}

// State returns the link's current state.
func (l *Link) State() LinkState { return l.state }

// Hash returns the child's node_hash. Valid in every state except
// Modified (where it is, by invariant, not yet known); callers must
// commit first.
func (l *Link) Hash() hash.CryptoHash {
	if l.state == StateModified {
		panic("merk: Hash() called on a Modified link before commit")
	}
	return l.hash
}

// Aggregate returns the child's combined (own+descendants) aggregate.
func (l *Link) Aggregate() element.Aggregate {
	if l.state == StateModified && l.subtree != nil {
		return l.subtree.CombinedAggregate()
	}
	return l.aggregate
}

// Height returns 1 + max(childHeightL, childHeightR): the height of the
// subtree this link points to.
func (l *Link) Height() uint8 {
	if l.childHeightL > l.childHeightR {
		return l.childHeightL + 1
	}
	return l.childHeightR + 1
}

// Key returns the child's storage key.
func (l *Link) Key() []byte {
	if l.subtree != nil {
		return l.subtree.Key()
	}
	return l.key
}

// Subtree returns the resident node, or nil if the link is a bare
// Reference that has not been fetched.
func (l *Link) Subtree() *Node { return l.subtree }

// PendingWrites returns the dirty-descendant count recorded on a
// Modified link.
func (l *Link) PendingWrites() int { return l.pendingWrites }

// IsStale reports whether the link's cached hash cannot be trusted
// without a commit.
func (l *Link) IsStale() bool { return l.state == StateModified }

// markModified transitions the link to Modified after an in-place
// mutation of its subtree, invalidating its cached hash and recording
// the dirty count passed by the caller (its own mutation plus whatever
// pendingWrites its children already carried).
func (l *Link) markModified(pendingWrites int) {
	l.state = StateModified
	l.pendingWrites = pendingWrites
	l.refreshChildHeights()
}

// markUncommitted transitions a Modified link to Uncommitted after
// commit() recomputes its hash (spec.md §3 "commit() -- bottom-up hash
// recompute").
func (l *Link) markUncommitted(h hash.CryptoHash, agg element.Aggregate) {
	l.state = StateUncommitted
	l.hash = h
	l.aggregate = agg
	l.refreshChildHeights()
}

// markLoaded transitions an Uncommitted link to Loaded once the storage
// context's batch has actually been applied (spec.md §3 diagram).
func (l *Link) markLoaded() {
	if l.state == StateUncommitted {
		l.state = StateLoaded
	}
}

// intoReference prunes a Loaded link back to a bare Reference, dropping
// the in-memory subtree (spec.md §4.3.1 "into_reference()", SPEC_FULL.md
// §C). Only legal on Loaded links: a dirty link must be committed first.
func (l *Link) intoReference() error {
	if l.state != StateLoaded {
		return errLinkNotLoaded
	}
	l.key = l.subtree.Key()
	l.subtree = nil
	return nil
}
