// Package query implements GroveDB's path-query engine (spec.md §4.6):
// a sorted, non-overlapping set of QueryItems over one subtree, with
// optional per-match subquery branches that descend into nested
// subtrees, and global limit/offset bookkeeping across the whole
// recursive walk. It is grounded on merk.Tree.Range (the structural
// range-walk primitive) and, for NewQuery's item validation, on
// google/btree the way the pack uses it elsewhere for sorted in-memory
// indexes. Conditional branches are looked up in a map keyed by item.
package query

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/btree"

	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/grove"
	"github.com/dapperlabs/grovedb/merk"
)

// ErrInvalidQuery is returned by NewQuery when items are not sorted and
// non-overlapping, or when a conditional branch overlaps another
// (Open Question decision #4, DESIGN.md).
var ErrInvalidQuery = errors.New("query: invalid query")

// ItemKind discriminates the closed set of QueryItem variants (spec.md
// §4.6).
type ItemKind uint8

const (
	ItemKey ItemKind = iota
	ItemRange
	ItemRangeInclusive
	ItemRangeFull
	ItemRangeFrom
	ItemRangeTo
	ItemRangeToInclusive
	ItemRangeAfter
	ItemRangeAfterTo
	ItemRangeAfterToInclusive
)

// QueryItem is one closed-set range or key selector (spec.md §4.6). Use
// the constructor functions below rather than building one directly.
type QueryItem struct {
	Kind  ItemKind
	Lower []byte
	Upper []byte
}

func Key(k []byte) QueryItem                { return QueryItem{Kind: ItemKey, Lower: k, Upper: k} }
func Range(a, b []byte) QueryItem           { return QueryItem{Kind: ItemRange, Lower: a, Upper: b} }
func RangeInclusive(a, b []byte) QueryItem  { return QueryItem{Kind: ItemRangeInclusive, Lower: a, Upper: b} }
func RangeFull() QueryItem                  { return QueryItem{Kind: ItemRangeFull} }
func RangeFrom(a []byte) QueryItem          { return QueryItem{Kind: ItemRangeFrom, Lower: a} }
func RangeTo(b []byte) QueryItem            { return QueryItem{Kind: ItemRangeTo, Upper: b} }
func RangeToInclusive(b []byte) QueryItem   { return QueryItem{Kind: ItemRangeToInclusive, Upper: b} }
func RangeAfter(a []byte) QueryItem         { return QueryItem{Kind: ItemRangeAfter, Lower: a} }
func RangeAfterTo(a, b []byte) QueryItem    { return QueryItem{Kind: ItemRangeAfterTo, Lower: a, Upper: b} }
func RangeAfterToInclusive(a, b []byte) QueryItem {
	return QueryItem{Kind: ItemRangeAfterToInclusive, Lower: a, Upper: b}
}

// Bounds translates a QueryItem into the merk.Tree.Range primitive's
// half-open-or-closed representation.
func (it QueryItem) Bounds() merk.Bounds {
	switch it.Kind {
	case ItemKey:
		return merk.Bounds{Lower: it.Lower, Upper: it.Upper}
	case ItemRange:
		return merk.Bounds{Lower: it.Lower, Upper: it.Upper, UpperExclude: true}
	case ItemRangeInclusive:
		return merk.Bounds{Lower: it.Lower, Upper: it.Upper}
	case ItemRangeFull:
		return merk.Bounds{}
	case ItemRangeFrom:
		return merk.Bounds{Lower: it.Lower}
	case ItemRangeTo:
		return merk.Bounds{Upper: it.Upper, UpperExclude: true}
	case ItemRangeToInclusive:
		return merk.Bounds{Upper: it.Upper}
	case ItemRangeAfter:
		return merk.Bounds{Lower: it.Lower, LowerExclude: true}
	case ItemRangeAfterTo:
		return merk.Bounds{Lower: it.Lower, LowerExclude: true, Upper: it.Upper, UpperExclude: true}
	case ItemRangeAfterToInclusive:
		return merk.Bounds{Lower: it.Lower, LowerExclude: true, Upper: it.Upper}
	default:
		return merk.Bounds{}
	}
}

// key is a canonical byte encoding of a QueryItem, used both as a
// conditional-branch map key and as the btree ordering key.
func (it QueryItem) key() string {
	return fmt.Sprintf("%d:%x:%x", it.Kind, it.Lower, it.Upper)
}

// lowerSortKey is the byte value items are ordered by: nil (meaning
// "-infinity") sorts before everything.
func (it QueryItem) lowerSortKey() []byte { return it.Lower }

// SubqueryBranch describes what to do with a match per spec.md §4.6's
// table: descend a fixed path, apply a nested Query, both, or neither.
type SubqueryBranch struct {
	SubqueryPath [][]byte
	Subquery     *Query
}

// Query is one subtree-scoped query (spec.md §4.6).
type Query struct {
	Items                       []QueryItem
	DefaultSubqueryBranch       *SubqueryBranch
	ConditionalSubqueryBranches map[string]SubqueryBranch
	LeftToRight                 bool
	AddParentTreeOnSubquery     bool
}

// btreeEntry adapts a QueryItem for ordering inside a google/btree.BTree,
// used by NewQuery to reject items that share a lower bound.
type btreeEntry struct {
	item QueryItem
}

func (e btreeEntry) Less(than btree.Item) bool {
	other := than.(btreeEntry)
	return bytes.Compare(e.item.lowerSortKey(), other.item.lowerSortKey()) < 0
}

// NewQuery validates items are sorted and pairwise non-overlapping
// (spec.md §4.6 "items: sorted, non-overlapping QueryItems"), indexing
// them in a btree.BTree ordered by lower bound purely to detect exact
// duplicate-key collisions in O(log n) rather than an O(n²) pairwise
// scan; genuine partial-range overlap is still a local adjacent-pair
// check, since google/btree has no native interval-overlap query.
func NewQuery(items []QueryItem, leftToRight bool) (*Query, error) {
	idx := btree.New(32)
	var prev *QueryItem
	for i := range items {
		it := items[i]
		if prev != nil {
			prevBounds, curBounds := prev.Bounds(), it.Bounds()
			if rangesOverlapOrOutOfOrder(prevBounds, curBounds) {
				return nil, fmt.Errorf("%w: item %d overlaps or precedes item %d", ErrInvalidQuery, i-1, i)
			}
		}
		if idx.ReplaceOrInsert(btreeEntry{item: it}) != nil {
			return nil, fmt.Errorf("%w: duplicate item at index %d", ErrInvalidQuery, i)
		}
		prevCopy := it
		prev = &prevCopy
	}
	return &Query{Items: items, LeftToRight: leftToRight, ConditionalSubqueryBranches: map[string]SubqueryBranch{}}, nil
}

// rangesOverlapOrOutOfOrder reports whether b (which must start no
// earlier than a) actually starts before a ends, i.e. the two bounds
// overlap, or a has no upper bound at all (in which case nothing can
// validly follow it).
func rangesOverlapOrOutOfOrder(a, b merk.Bounds) bool {
	if a.Upper == nil {
		return true
	}
	c := bytes.Compare(a.Upper, lowerOf(b))
	if c < 0 {
		return false
	}
	if c > 0 {
		return true
	}
	return !a.UpperExclude && !b.LowerExclude
}

func lowerOf(b merk.Bounds) []byte {
	if b.Lower == nil {
		return nil
	}
	return b.Lower
}

// SetConditionalBranch registers branch as the conditional handler for
// item, rejecting it if item overlaps one already registered (Open
// Question decision #4: overlapping conditional branches are a
// construction-time error, not resolved by a priority rule).
func (q *Query) SetConditionalBranch(item QueryItem, branch SubqueryBranch) error {
	key := item.key()
	if _, exists := q.ConditionalSubqueryBranches[key]; exists {
		return fmt.Errorf("%w: conditional branch already set for this item", ErrInvalidQuery)
	}
	for _, existing := range q.Items {
		if existing.key() == key {
			q.ConditionalSubqueryBranches[key] = branch
			return nil
		}
	}
	return fmt.Errorf("%w: conditional branch item is not among the query's items", ErrInvalidQuery)
}

// BranchFor resolves the effective branch for matches produced by item:
// a conditional branch wins over the default (spec.md §4.6, "When a
// conditional branch matches, the default branch does not also run").
// Exported so the proof package can re-apply the same resolution rule
// independently when verifying a layered proof, rather than trusting a
// prover-supplied branch choice.
func (q *Query) BranchFor(item QueryItem) (SubqueryBranch, bool) {
	if b, ok := q.ConditionalSubqueryBranches[item.key()]; ok {
		return b, true
	}
	if q.DefaultSubqueryBranch != nil {
		return *q.DefaultSubqueryBranch, true
	}
	return SubqueryBranch{}, false
}

// Result is a query match: the element itself plus the (path, key) it
// was found at, so callers can tell results from different subtrees
// apart.
type Result struct {
	Path grove.Path
	Key  []byte
	El   *element.Element
}
