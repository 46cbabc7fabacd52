// Package batch implements the cross-subtree batch processor of spec.md
// §4.5: validate a list of QualifiedOps, apply each affected subtree's
// sub-batch exactly once, then propagate root-hash changes up the
// ancestor chain touching each ancestor exactly once even when several
// of its descendants changed (§4.5.2's "key optimization"). It is
// grounded on the teacher's storage/badger/operation/transactions.go
// pattern of batching several raw ops into one badger.Txn, generalized
// from one flat keyspace to the grove's path-addressed forest, plus the
// teacher's multi-phase ingestion style (module/mempool-adjacent
// validate-then-apply pipelines) for the two-phase structure.
package batch

import (
	"bytes"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/gammazero/deque"
	"github.com/hashicorp/go-multierror"

	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/grove"
	"github.com/dapperlabs/grovedb/merk"
	"github.com/dapperlabs/grovedb/storagecontext"
)

// OpKind discriminates the batch-level operations a QualifiedOp can
// carry (spec.md §4.5.1 item 3's type-check list).
type OpKind uint8

const (
	// OpInsert upserts Element at (Path, Key), creating it if absent.
	OpInsert OpKind = iota
	// OpInsertOnly is OpInsert, but fails the whole batch if (Path, Key)
	// already holds an element.
	OpInsertOnly
	// OpReplace is OpInsert, but fails if (Path, Key) does not already
	// exist.
	OpReplace
	// OpDelete removes a plain (non-tree-like) element; fails if absent.
	OpDelete
	// OpDeleteTree removes a tree-like portal element, failing the batch
	// unless its existing tag matches TreeKind (spec.md §4.5.1 item 3).
	// Callers are responsible for having already emptied the child
	// subtree — DeleteTree here does not cascade (that is
	// Grove.DeleteTreeRecursive's job, which is not batchable since it
	// touches an unbounded number of subtrees outside the affected set).
	OpDeleteTree
	// OpRefreshReference rewrites an existing Reference's combine_hash
	// binding against its (possibly changed) target's current
	// value_hash. Unless Trust is set, Phase 1 requires the target to
	// currently resolve (spec.md §4.5.1 item 4).
	OpRefreshReference
)

// QualifiedOp is one entry of an atomic cross-subtree batch (spec.md
// §4.5 "QualifiedOp { path, key (optional), op }"). Key is always
// present here — GroveDB has no whole-subtree-level op that omits it.
type QualifiedOp struct {
	Path grove.Path
	Key  []byte
	Kind OpKind

	// Element is the new value for OpInsert, OpInsertOnly, OpReplace and
	// OpRefreshReference (for the latter, an updated Reference element;
	// its RefPathType is what gets re-resolved).
	Element *element.Element

	// TreeKind is the expected existing tag for OpDeleteTree.
	TreeKind element.Tag

	// Trust bypasses OpRefreshReference's target-exists pre-check.
	Trust bool
}

// Processor applies QualifiedOp batches against a Grove with
// cross-subtree atomicity: either every op commits, or Apply returns an
// error and nothing is written (spec.md §4.5).
type Processor struct {
	g *grove.Grove
}

// NewProcessor returns a Processor driving g.
func NewProcessor(g *grove.Grove) *Processor {
	return &Processor{g: g}
}

// Apply validates and applies ops as one atomic unit.
func (p *Processor) Apply(ops []QualifiedOp) (cost.Context, error) {
	var total cost.Context
	err := p.g.Engine().Update(func(txn *badger.Txn) error {
		c, err := p.ApplyTx(txn, ops)
		total.Add(c)
		return err
	})
	return total, err
}

// ApplyTx is Apply against a caller-supplied transaction.
func (p *Processor) ApplyTx(txn *badger.Txn, ops []QualifiedOp) (cost.Context, error) {
	var total cost.Context

	intent, order, c, err := p.validate(txn, ops)
	total.Add(c)
	if err != nil {
		return total, err
	}
	if len(order) == 0 {
		return total, nil
	}

	c, err = p.applyPhase2(txn, intent, order)
	total.Add(c)
	return total, err
}

// validate runs Phase 1 (spec.md §4.5.1): stable-sort by (path, key),
// reject duplicate (path, key) targets, type-check each op against its
// current element, and pre-resolve reference targets. It returns the
// intent map grouped by subtree path and the distinct affected paths in
// first-occurrence order (post-sort), or a combined error naming every
// validation failure found — Phase 1 never stops at the first error, so
// a caller correcting a batch sees every problem at once.
func (p *Processor) validate(txn *badger.Txn, ops []QualifiedOp) (map[string][]QualifiedOp, []grove.Path, cost.Context, error) {
	var total cost.Context
	if len(ops) == 0 {
		return nil, nil, total, nil
	}

	sorted := make([]QualifiedOp, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := sorted[i].Path.EncodeKey(), sorted[j].Path.EncodeKey()
		if pi != pj {
			return pi < pj
		}
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	var errs *multierror.Error
	intent := map[string][]QualifiedOp{}
	var order []grove.Path
	seenPath := map[string]bool{}
	seenKey := map[string]bool{}

	for _, op := range sorted {
		dupKey := op.Path.EncodeKey() + "\x00" + string(op.Key)
		if seenKey[dupKey] {
			errs = multierror.Append(errs, fmt.Errorf("batch: duplicate op on %v/%x", op.Path, op.Key))
			continue
		}
		seenKey[dupKey] = true

		existing, c, err := p.g.GetTx(txn, op.Path, op.Key)
		total.Add(c)
		exists := true
		if err == grove.ErrNotFound {
			exists = false
		} else if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("batch: checking %v/%x: %w", op.Path, op.Key, err))
			continue
		}

		if ok, err := p.typeCheck(txn, op, exists, existing); !ok {
			errs = multierror.Append(errs, err)
			continue
		}

		pathKey := op.Path.EncodeKey()
		if !seenPath[pathKey] {
			seenPath[pathKey] = true
			order = append(order, op.Path)
		}
		intent[pathKey] = append(intent[pathKey], op)
	}

	if errs.ErrorOrNil() != nil {
		return nil, nil, total, errs
	}
	return intent, order, total, nil
}

// typeCheck implements spec.md §4.5.1 items 3-4 for one op.
func (p *Processor) typeCheck(txn *badger.Txn, op QualifiedOp, exists bool, existing *element.Element) (bool, error) {
	switch op.Kind {
	case OpInsert:
		if op.Element == nil {
			return false, fmt.Errorf("batch: insert at %v/%x has no element", op.Path, op.Key)
		}
		return p.precheckReference(txn, op)
	case OpInsertOnly:
		if exists {
			return false, fmt.Errorf("batch: %w: %v/%x already exists", grove.ErrInsertOnlyExists, op.Path, op.Key)
		}
		if op.Element == nil {
			return false, fmt.Errorf("batch: insert-only at %v/%x has no element", op.Path, op.Key)
		}
		return p.precheckReference(txn, op)
	case OpReplace:
		if !exists {
			return false, fmt.Errorf("batch: %w: %v/%x", grove.ErrNotFound, op.Path, op.Key)
		}
		if op.Element == nil {
			return false, fmt.Errorf("batch: replace at %v/%x has no element", op.Path, op.Key)
		}
		return p.precheckReference(txn, op)
	case OpDelete:
		if !exists {
			return false, fmt.Errorf("batch: %w: %v/%x", grove.ErrNotFound, op.Path, op.Key)
		}
		if existing.IsTreeLike() {
			return false, fmt.Errorf("batch: %w: %v/%x is tree-like, use OpDeleteTree", grove.ErrWrongElementType, op.Path, op.Key)
		}
		return true, nil
	case OpDeleteTree:
		if !exists {
			return false, fmt.Errorf("batch: %w: %v/%x", grove.ErrNotFound, op.Path, op.Key)
		}
		if !existing.IsTreeLike() || existing.Tag != op.TreeKind {
			return false, fmt.Errorf("batch: %w: %v/%x is not a %v", grove.ErrWrongElementType, op.Path, op.Key, op.TreeKind)
		}
		return true, nil
	case OpRefreshReference:
		if !exists {
			return false, fmt.Errorf("batch: %w: %v/%x", grove.ErrNotFound, op.Path, op.Key)
		}
		if existing.Tag != element.TagReference {
			return false, fmt.Errorf("batch: %w: %v/%x is not a reference", grove.ErrWrongElementType, op.Path, op.Key)
		}
		if op.Element == nil || op.Element.Tag != element.TagReference {
			return false, fmt.Errorf("batch: refresh-reference at %v/%x requires a Reference element", op.Path, op.Key)
		}
		return p.precheckReference(txn, op)
	default:
		return false, fmt.Errorf("batch: unknown op kind %d at %v/%x", op.Kind, op.Path, op.Key)
	}
}

// precheckReference implements the reference half of spec.md §4.5.1
// item 4: a new or refreshed reference's target must currently resolve,
// unless Trust is set (RefreshReference's escape hatch for intentionally
// re-pointing a reference whose old target is gone).
func (p *Processor) precheckReference(txn *badger.Txn, op QualifiedOp) (bool, error) {
	if op.Element.Tag != element.TagReference || op.Trust {
		return true, nil
	}
	targetPath, targetKey, err := p.g.ResolveReferencePath(op.Path, op.Key, op.Element.RefPathType)
	if err != nil {
		return false, fmt.Errorf("batch: resolving reference at %v/%x: %w", op.Path, op.Key, err)
	}
	if _, _, err := p.g.GetTx(txn, targetPath, targetKey); err != nil {
		return false, fmt.Errorf("batch: reference target %v/%x for %v/%x: %w", targetPath, targetKey, op.Path, op.Key, err)
	}
	return true, nil
}

// affected is one subtree touched by Phase 2: its opened tree, storage
// context, and (once committed) the pending ops its parent must apply to
// reflect its new root.
type affected struct {
	path grove.Path
	ctx  *storagecontext.Context
	tree *merk.Tree
}

// applyPhase2 runs spec.md §4.5.2: apply each affected subtree's sorted
// sub-batch exactly once, then propagate deepest-first, folding every
// child's propagation op into its parent's own single batch so each
// ancestor is touched exactly once no matter how many descendants
// changed.
func (p *Processor) applyPhase2(txn *badger.Txn, intent map[string][]QualifiedOp, order []grove.Path) (cost.Context, error) {
	var total cost.Context

	trees := map[string]*affected{}
	// pendingParentOps accumulates propagation KeyedOps contributed by
	// children, keyed by the parent path they target, merged into that
	// parent's own batch (its direct ops plus any child propagations)
	// the single time the parent is processed.
	pendingParentOps := map[string][]merk.KeyedOp{}

	openAt := func(path grove.Path) (*affected, error) {
		key := path.EncodeKey()
		if a, ok := trees[key]; ok {
			return a, nil
		}
		ctx := p.g.ContextFor(txn, path)
		tree, c, err := p.g.OpenTreeAt(ctx)
		total.Add(c)
		if err != nil {
			return nil, fmt.Errorf("batch: opening subtree at %v: %w", path, err)
		}
		a := &affected{path: path, ctx: ctx, tree: tree}
		trees[key] = a
		return a, nil
	}

	// Seed the worklist with every directly-touched path and all of its
	// ancestors, deepest first. With every path queued up front in
	// non-increasing depth order, FIFO draining guarantees every child of
	// a path is fully processed (and has folded its propagation op into
	// pendingParentOps) before that path is itself popped.
	seeded := map[string]bool{}
	for _, path := range order {
		seeded[path.EncodeKey()] = true
	}
	for i := 0; i < len(order); i++ {
		if order[i].Depth() == 0 {
			continue
		}
		parentPath, _ := order[i].Parent()
		if !seeded[parentPath.EncodeKey()] {
			seeded[parentPath.EncodeKey()] = true
			order = append(order, parentPath)
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].Depth() > order[j].Depth() })

	var worklist deque.Deque
	queued := map[string]bool{}
	for _, path := range order {
		worklist.PushBack(path)
		queued[path.EncodeKey()] = true
	}

	for worklist.Len() > 0 {
		path := worklist.PopFront().(grove.Path)
		pathKey := path.EncodeKey()

		a, err := openAt(path)
		if err != nil {
			return total, err
		}

		batchOps, c, err := p.buildSubtreeBatch(txn, path, intent[pathKey], pendingParentOps[pathKey])
		total.Add(c)
		if err != nil {
			return total, err
		}
		delete(pendingParentOps, pathKey)

		if len(batchOps) > 0 {
			c, err := a.tree.Apply(batchOps)
			total.Add(c)
			if err != nil {
				return total, fmt.Errorf("batch: applying sub-batch at %v: %w", path, err)
			}
		}

		c, err = p.g.CommitSubtree(a.ctx, a.tree)
		total.Add(c)
		if err != nil {
			return total, err
		}

		if path.Depth() == 0 {
			continue
		}
		parentPath, key := path.Parent()

		parent, err := openAt(parentPath)
		if err != nil {
			return total, err
		}
		propOp, c, err := p.g.BuildPropagationOp(parent.tree, key, a.tree.RootKey(), a.tree.RootHash(), a.tree.Aggregate())
		total.Add(c)
		if err != nil {
			return total, fmt.Errorf("batch: propagating %v into %v: %w", path, parentPath, err)
		}
		parentKey := parentPath.EncodeKey()
		pendingParentOps[parentKey] = append(pendingParentOps[parentKey], propOp)

		if !queued[parentKey] {
			queued[parentKey] = true
			worklist.PushBack(parentPath)
		}
	}

	return total, nil
}

// buildSubtreeBatch converts one subtree's intent-map entries plus any
// propagation ops contributed by already-processed children into a
// single sorted, duplicate-free merk.KeyedOp batch.
func (p *Processor) buildSubtreeBatch(txn *badger.Txn, path grove.Path, ops []QualifiedOp, propagated []merk.KeyedOp) ([]merk.KeyedOp, cost.Context, error) {
	var total cost.Context
	batch := make([]merk.KeyedOp, 0, len(ops)+len(propagated))

	for _, op := range ops {
		var mop merk.Op
		switch op.Kind {
		case OpInsert, OpInsertOnly, OpReplace, OpRefreshReference:
			var c cost.Context
			var err error
			mop, c, err = p.g.BuildElementOp(txn, op.Path, op.Key, op.Element)
			total.Add(c)
			if err != nil {
				return nil, total, err
			}
		case OpDelete:
			mop = merk.Op{Kind: merk.OpDelete}
		case OpDeleteTree:
			mop = merk.Op{Kind: merk.OpDeleteLayered}
		}
		batch = append(batch, merk.KeyedOp{Key: op.Key, Op: mop})
	}
	batch = append(batch, propagated...)

	sort.Slice(batch, func(i, j int) bool { return bytes.Compare(batch[i].Key, batch[j].Key) < 0 })
	return batch, total, nil
}
