package query

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v2"

	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/grove"
)

// SizedQuery pairs a Query with an optional limit and offset (spec.md
// §4.6).
type SizedQuery struct {
	Query  *Query
	Limit  *uint64
	Offset *uint64
}

// PathQuery is the top-level query request: the subtree to start in,
// plus the sized query to run there (spec.md §4.6).
type PathQuery struct {
	Path  grove.Path
	Sized SizedQuery
}

// Executor runs PathQuery requests against a Grove.
type Executor struct {
	g *grove.Grove
}

// NewExecutor returns an Executor driving g.
func NewExecutor(g *grove.Grove) *Executor {
	return &Executor{g: g}
}

// execState carries limit/offset bookkeeping across the whole recursive
// walk (spec.md §4.6 "Limit/offset decrement globally across all
// recursion; iteration stops immediately when limit reaches zero").
type execState struct {
	limit   *int64
	offset  *int64
	results []Result
}

func (st *execState) stopped() bool {
	return st.limit != nil && *st.limit <= 0
}

// emit records one result, honoring offset (skip, don't count against
// limit) and limit (stop once exhausted). Returns whether the caller
// should keep iterating.
func (st *execState) emit(path grove.Path, key []byte, el *element.Element) bool {
	if st.stopped() {
		return false
	}
	if st.offset != nil && *st.offset > 0 {
		*st.offset--
		return true
	}
	st.results = append(st.results, Result{Path: path, Key: append([]byte(nil), key...), El: el})
	if st.limit != nil {
		*st.limit--
		if *st.limit <= 0 {
			return false
		}
	}
	return true
}

// Execute runs pq, returning every matched element in traversal order.
func (e *Executor) Execute(pq PathQuery) ([]Result, cost.Context, error) {
	var total cost.Context
	st := &execState{}
	if pq.Sized.Limit != nil {
		l := int64(*pq.Sized.Limit)
		st.limit = &l
	}
	if pq.Sized.Offset != nil {
		o := int64(*pq.Sized.Offset)
		st.offset = &o
	}

	err := e.g.Engine().View(func(txn *badger.Txn) error {
		c, err := e.runQuery(txn, pq.Path, pq.Sized.Query, st)
		total.Add(c)
		return err
	})
	return st.results, total, err
}

// runQuery walks q's items against the subtree at path, applying
// subquery branches per match (spec.md §4.6).
func (e *Executor) runQuery(txn *badger.Txn, path grove.Path, q *Query, st *execState) (cost.Context, error) {
	var total cost.Context
	ctx := e.g.ContextFor(txn, path)
	tree, c, err := e.g.OpenTreeAt(ctx)
	total.Add(c)
	if err != nil {
		return total, fmt.Errorf("query: opening subtree at %v: %w", path, err)
	}

	items := q.Items
	if !q.LeftToRight {
		items = reversedItems(items)
	}

	for _, item := range items {
		if st.stopped() {
			break
		}
		branch, hasBranch := q.BranchFor(item)
		trivial := !hasBranch || (len(branch.SubqueryPath) == 0 && branch.Subquery == nil)

		var innerErr error
		c, err := tree.Range(item.Bounds(), q.LeftToRight, func(key, value []byte) (bool, error) {
			el, derr := element.Decode(value)
			if derr != nil {
				innerErr = fmt.Errorf("query: decoding element at %v/%x: %w", path, key, derr)
				return false, innerErr
			}

			if trivial {
				return st.emit(path, key, el), nil
			}

			if q.AddParentTreeOnSubquery {
				if !st.emit(path, key, el) {
					return false, nil
				}
			}
			if !el.IsTreeLike() {
				return !st.stopped(), nil
			}

			cont, c2, err := e.runBranch(txn, path.Append(key), branch, st)
			total.Add(c2)
			if err != nil {
				innerErr = err
				return false, err
			}
			return cont, nil
		})
		total.Add(c)
		if err != nil {
			return total, err
		}
		if innerErr != nil {
			return total, innerErr
		}
	}
	return total, nil
}

// runBranch implements spec.md §4.6's subquery-branch table for one
// match m, already descended into m's subtree at path. The trivial
// (neither key nor subquery set) case is handled by the caller before
// runBranch is reached.
func (e *Executor) runBranch(txn *badger.Txn, path grove.Path, branch SubqueryBranch, st *execState) (bool, cost.Context, error) {
	var total cost.Context

	if len(branch.SubqueryPath) == 0 {
		// key unset, value set: apply subquery directly to m's subtree.
		c, err := e.runQuery(txn, path, branch.Subquery, st)
		total.Add(c)
		return !st.stopped(), total, err
	}

	cur := path
	for i, k := range branch.SubqueryPath {
		if i < len(branch.SubqueryPath)-1 {
			cur = cur.Append(k)
			continue
		}
		if branch.Subquery != nil {
			// key set, value set: descend subquery_path, then apply
			// subquery there.
			if !e.elementIsTreeLike(txn, cur, k) {
				return !st.stopped(), total, nil
			}
			c, err := e.runQuery(txn, cur.Append(k), branch.Subquery, st)
			total.Add(c)
			return !st.stopped(), total, err
		}
		// key set, value unset: select the single child at subquery_path.
		el, c, err := e.g.GetTx(txn, cur, k)
		total.Add(c)
		if err == grove.ErrNotFound {
			return !st.stopped(), total, nil
		}
		if err != nil {
			return false, total, fmt.Errorf("query: resolving subquery_path at %v/%x: %w", cur, k, err)
		}
		return st.emit(cur, k, el), total, nil
	}
	return !st.stopped(), total, nil
}

func (e *Executor) elementIsTreeLike(txn *badger.Txn, path grove.Path, key []byte) bool {
	el, _, err := e.g.GetTx(txn, path, key)
	return err == nil && el.IsTreeLike()
}

func reversedItems(items []QueryItem) []QueryItem {
	out := make([]QueryItem, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it
	}
	return out
}
