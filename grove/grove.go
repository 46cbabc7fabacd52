// Package grove implements the path-addressed coordination layer of
// spec.md §4.4: composing independently-balanced Merk subtrees into a
// single hierarchical store, propagating root-hash changes up the
// ancestor chain after every mutation, and resolving Reference elements.
// It is grounded on the teacher's node-level wrapper types
// (storage/badger/collections.go's Collections, Guarantees, ...), each a
// thin orchestration layer over raw storage ops plus domain semantics —
// generalized here from one wrapper type per entity kind to one
// coordinator over an arbitrary path-addressed forest of subtrees.
package grove

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v2"

	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/hash"
	"github.com/dapperlabs/grovedb/merk"
	"github.com/dapperlabs/grovedb/storagecontext"
)

// MaxReferenceHops bounds reference-resolution chains (spec.md §4.4.4).
const MaxReferenceHops = 10

// Grove is a forest of Merk subtrees indexed by Path, backed by a single
// storagecontext.Engine (spec.md §3 "Grove").
type Grove struct {
	eng *storagecontext.Engine
}

// Open opens (creating if absent) a Grove backed by a badger store at
// dir, with a MerkCache of the given size.
func Open(dir string, cacheSize int) (*Grove, error) {
	eng, err := storagecontext.Open(dir, cacheSize)
	if err != nil {
		return nil, err
	}
	return &Grove{eng: eng}, nil
}

// Close releases the underlying storage engine.
func (g *Grove) Close() error { return g.eng.Close() }

func (g *Grove) contextFor(txn *badger.Txn, p Path) *storagecontext.Context {
	return storagecontext.NewContext(g.eng, p.prefix(), txn)
}

// ContextFor is the exported form of contextFor, for callers outside this
// package (the batch processor) that need to open several subtree
// contexts within one shared storage transaction.
func (g *Grove) ContextFor(txn *badger.Txn, p Path) *storagecontext.Context {
	return g.contextFor(txn, p)
}

// Engine exposes the Grove's underlying storage engine, so the batch
// processor can drive its own transactions and TreeCache.
func (g *Grove) Engine() *storagecontext.Engine { return g.eng }

func (g *Grove) openTree(ctx *storagecontext.Context) (*merk.Tree, cost.Context, error) {
	rootKey, err := ctx.GetRoot()
	if err == storagecontext.ErrNotFound {
		return merk.NewTree(ctx), cost.Context{}, nil
	}
	if err != nil {
		return nil, cost.Context{}, err
	}
	return merk.OpenTree(ctx, rootKey)
}

// OpenTreeAt is the exported form of openTree.
func (g *Grove) OpenTreeAt(ctx *storagecontext.Context) (*merk.Tree, cost.Context, error) {
	return g.openTree(ctx)
}

// CommitSubtree commits tree's in-memory mutations to ctx and persists (or
// clears) its root pointer, without propagating to ancestors. Exported so
// the batch processor can commit every touched subtree once Phase 2's
// per-subtree applies are done, before running its own deferred,
// touch-once ancestor propagation (spec.md §4.5.2).
func (g *Grove) CommitSubtree(ctx *storagecontext.Context, tree *merk.Tree) (cost.Context, error) {
	var total cost.Context
	c, err := tree.Commit(ctx)
	total.Add(c)
	if err != nil {
		return total, fmt.Errorf("grove: committing subtree: %w", err)
	}
	tree.MarkLoaded()

	if tree.IsEmpty() {
		if err := ctx.DeleteRoot(); err != nil {
			return total, err
		}
	} else if err := ctx.PutRoot(tree.RootKey()); err != nil {
		return total, err
	}
	return total, nil
}

// commitAndPropagate commits tree (already mutated in-memory), persists
// its new root record, and bubbles the resulting root hash and aggregate
// up p's ancestor chain (spec.md §4.4.3).
func (g *Grove) commitAndPropagate(txn *badger.Txn, p Path, ctx *storagecontext.Context, tree *merk.Tree) (cost.Context, error) {
	total, err := g.CommitSubtree(ctx, tree)
	if err != nil {
		return total, err
	}

	c, err := g.propagateUp(txn, p, tree.RootKey(), tree.RootHash(), tree.Aggregate())
	total.Add(c)
	return total, err
}

// BuildPropagationOp reads the tree-valued portal element under key in an
// already-open parentTree and rewrites it to bind a child subtree's new
// root hash and aggregate, returning the KeyedOp the caller should fold
// into parentTree's own batch (spec.md §4.4.3). Exported so the batch
// processor can merge several children's propagation ops into one
// `apply` call per ancestor, rather than one call per child.
func (g *Grove) BuildPropagationOp(parentTree *merk.Tree, key []byte, childRootKey []byte, childHash hash.CryptoHash, childAgg element.Aggregate) (merk.KeyedOp, cost.Context, error) {
	raw, total, err := parentTree.Get(key)
	if err != nil {
		return merk.KeyedOp{}, total, fmt.Errorf("grove: portal element at key %x missing during propagation: %w", key, err)
	}
	el, err := element.Decode(raw)
	if err != nil {
		return merk.KeyedOp{}, total, fmt.Errorf("grove: decoding portal element at key %x: %w", key, err)
	}
	if !el.IsTreeLike() {
		return merk.KeyedOp{}, total, fmt.Errorf("grove: %w: element at key %x is not tree-like during propagation", ErrWrongElementType, key)
	}

	applyAggregate(el, childAgg)
	el.ChildRootKey = childRootKey

	op := merk.Op{
		Kind:           merk.OpPutCombinedReference,
		Value:          element.Encode(el),
		Feature:        el.FeatureType(),
		OwnAggregate:   element.Own(el),
		ReferencedHash: childHash.Bytes(),
	}
	return merk.KeyedOp{Key: key, Op: op}, total, nil
}

// propagateUp implements spec.md §4.4.3: rewrite the tree-valued portal
// element for p's last key in its parent subtree so its value_hash binds
// the new child root hash, recomputing and re-propagating the parent's
// own new root, all the way to the root subtree.
func (g *Grove) propagateUp(txn *badger.Txn, p Path, childRootKey []byte, childHash hash.CryptoHash, childAgg element.Aggregate) (cost.Context, error) {
	var total cost.Context
	if len(p) == 0 {
		return total, nil
	}

	parentPath, key := p.Parent()
	parentCtx := g.contextFor(txn, parentPath)
	parentTree, c, err := g.openTree(parentCtx)
	total.Add(c)
	if err != nil {
		return total, fmt.Errorf("grove: opening parent subtree at %v: %w", parentPath, err)
	}

	keyedOp, c, err := g.BuildPropagationOp(parentTree, key, childRootKey, childHash, childAgg)
	total.Add(c)
	if err != nil {
		return total, fmt.Errorf("grove: %v: %w", parentPath, err)
	}

	c, err = parentTree.Apply([]merk.KeyedOp{keyedOp})
	total.Add(c)
	if err != nil {
		return total, fmt.Errorf("grove: updating portal element at %v/%x: %w", parentPath, key, err)
	}

	c, err = g.commitAndPropagate(txn, parentPath, parentCtx, parentTree)
	total.Add(c)
	return total, err
}

// applyAggregate folds a tree-like element's own aggregate fields to
// match its child subtree's newly-propagated aggregate (spec.md §4.4.5):
// the portal element's aggregate IS the child subtree's root aggregate.
func applyAggregate(el *element.Element, agg element.Aggregate) {
	switch el.Tag {
	case element.TagSumTree:
		el.Sum = agg.Sum
	case element.TagBigSumTree:
		el.BigSumHi, el.BigSumLo = agg.BigSumHi, agg.BigSumLo
	case element.TagCountTree, element.TagProvableCountTree:
		el.Count = agg.Count
	case element.TagCountSumTree, element.TagProvableCountSumTree:
		el.Count, el.Sum = agg.Count, agg.Sum
	}
}

// Insert stores el under (path, key), creating path's subtree on first
// use, and propagates the resulting root hash up path's ancestor chain
// (spec.md §4.4.2 "insert").
func (g *Grove) Insert(p Path, key []byte, el *element.Element) (cost.Context, error) {
	var total cost.Context
	err := g.eng.Update(func(txn *badger.Txn) error {
		c, err := g.InsertTx(txn, p, key, el)
		total.Add(c)
		return err
	})
	return total, err
}

// InsertTx is Insert against a caller-supplied transaction, so several
// ops can share one atomic batch (spec.md §4.4.2 "optional_tx").
func (g *Grove) InsertTx(txn *badger.Txn, p Path, key []byte, el *element.Element) (cost.Context, error) {
	var total cost.Context
	ctx := g.contextFor(txn, p)
	tree, c, err := g.openTree(ctx)
	total.Add(c)
	if err != nil {
		return total, err
	}

	op, c, err := g.BuildElementOp(txn, p, key, el)
	total.Add(c)
	if err != nil {
		return total, err
	}

	c, err = tree.Apply([]merk.KeyedOp{{Key: key, Op: op}})
	total.Add(c)
	if err != nil {
		return total, fmt.Errorf("grove: inserting at %v/%x: %w", p, key, err)
	}

	c, err = g.commitAndPropagate(txn, p, ctx, tree)
	total.Add(c)
	return total, err
}

// BuildElementOp constructs the merk.Op that binds el's node_hash
// correctly for its kind: a tree-like portal binds against NULL_HASH
// until its child subtree gets its first mutation (spec.md §8 "Empty
// subtree"); a Reference binds combine_hash against its resolved
// target's current value_hash (spec.md §4.2, §4.4.4); anything else is a
// plain Put. Exported so the batch processor can build the same op for
// each (path, key, element) it applies in a multi-key subtree batch.
func (g *Grove) BuildElementOp(txn *badger.Txn, p Path, key []byte, el *element.Element) (merk.Op, cost.Context, error) {
	var total cost.Context
	switch {
	case el.IsTreeLike():
		return merk.Op{
			Kind:           merk.OpPutCombinedReference,
			Value:          element.Encode(el),
			Feature:        el.FeatureType(),
			OwnAggregate:   element.Own(el),
			ReferencedHash: hash.Null.Bytes(),
		}, total, nil
	case el.Tag == element.TagReference:
		targetPath, targetKey, err := g.ResolveReferencePath(p, key, el.RefPathType)
		if err != nil {
			return merk.Op{}, total, err
		}
		targetCtx := g.contextFor(txn, targetPath)
		targetTree, c, err := g.openTree(targetCtx)
		total.Add(c)
		if err != nil {
			return merk.Op{}, total, fmt.Errorf("grove: opening reference target %v: %w", targetPath, err)
		}
		vh, c, err := targetTree.GetValueHash(targetKey)
		total.Add(c)
		if err != nil {
			return merk.Op{}, total, fmt.Errorf("grove: resolving reference target %v/%x: %w", targetPath, targetKey, err)
		}
		return merk.Op{
			Kind:           merk.OpPutCombinedReference,
			Value:          element.Encode(el),
			Feature:        element.FeatureNone,
			ReferencedHash: vh.Bytes(),
		}, total, nil
	default:
		return merk.Op{Kind: merk.OpPut, Value: element.Encode(el), Feature: el.FeatureType(), OwnAggregate: element.Own(el)}, total, nil
	}
}

// ResolveReferencePath is the exported form of resolveReferencePath, for
// the batch processor's reference pre-resolution (spec.md §4.5.1).
func (g *Grove) ResolveReferencePath(p Path, key []byte, rpt element.ReferencePathType) (Path, []byte, error) {
	return g.resolveReferencePath(p, key, rpt)
}

// resolveReferencePath computes the absolute (path, key) a Reference
// element at (p, key) with the given RefPathType resolves to, one hop
// (spec.md §3; used at insert time to bind combine_hash to the
// referent's current value_hash; full chain resolution happens on Get).
func (g *Grove) resolveReferencePath(p Path, key []byte, rpt element.ReferencePathType) (Path, []byte, error) {
	current := p.Append(key)
	target, err := rpt.Resolve(current)
	if err != nil {
		return nil, nil, fmt.Errorf("grove: resolving reference path: %w", err)
	}
	if len(target) == 0 {
		return nil, nil, fmt.Errorf("grove: resolved reference path is empty")
	}
	return Path(target[:len(target)-1]), target[len(target)-1], nil
}

// Get retrieves the element stored at (path, key), resolving a chain of
// References per spec.md §4.4.4.
func (g *Grove) Get(p Path, key []byte) (*element.Element, cost.Context, error) {
	var total cost.Context
	var result *element.Element
	err := g.eng.View(func(txn *badger.Txn) error {
		el, c, err := g.GetTx(txn, p, key)
		total.Add(c)
		result = el
		return err
	})
	return result, total, err
}

// GetTx is Get against a caller-supplied (read or write) transaction.
func (g *Grove) GetTx(txn *badger.Txn, p Path, key []byte) (*element.Element, cost.Context, error) {
	var total cost.Context

	curPath, curKey := p, key
	visited := map[string]bool{}
	hopsLeft := MaxReferenceHops

	for {
		ctx := g.contextFor(txn, curPath)
		tree, c, err := g.openTree(ctx)
		total.Add(c)
		if err != nil {
			return nil, total, err
		}
		raw, c, err := tree.Get(curKey)
		total.Add(c)
		if err == merk.ErrKeyNotFound {
			return nil, total, ErrNotFound
		}
		if err != nil {
			return nil, total, err
		}
		el, err := element.Decode(raw)
		if err != nil {
			return nil, total, fmt.Errorf("grove: decoding element at %v/%x: %w", curPath, curKey, err)
		}
		if el.Tag != element.TagReference {
			return el, total, nil
		}

		maxHop := MaxReferenceHops
		if el.MaxHop > 0 && int(el.MaxHop) < maxHop {
			maxHop = int(el.MaxHop)
		}
		if hopsLeft > maxHop {
			hopsLeft = maxHop
		}
		if hopsLeft <= 0 {
			return nil, total, ErrReferenceLimitExceeded
		}
		hopsLeft--

		targetPath, targetKey, err := g.resolveReferencePath(curPath, curKey, el.RefPathType)
		if err != nil {
			return nil, total, err
		}
		targetVisitKey := pathKeyString(targetPath, targetKey)
		if visited[targetVisitKey] {
			return nil, total, ErrCyclicReference
		}
		visited[targetVisitKey] = true
		curPath, curKey = targetPath, targetKey
	}
}

func pathKeyString(p Path, key []byte) string {
	buf := p.encode()
	buf = append(buf, key...)
	return string(buf)
}

// Has reports whether an element (possibly behind references) resolves
// at (path, key).
func (g *Grove) Has(p Path, key []byte) (bool, cost.Context, error) {
	_, c, err := g.Get(p, key)
	if err == ErrNotFound {
		return false, c, nil
	}
	if err != nil {
		return false, c, err
	}
	return true, c, nil
}

// Delete removes the element at (path, key). If it is a non-empty
// tree-like portal, Delete refuses with ErrTreeNotEmpty; use
// DeleteTreeRecursive (SPEC_FULL.md §D.1).
func (g *Grove) Delete(p Path, key []byte) (cost.Context, error) {
	var total cost.Context
	err := g.eng.Update(func(txn *badger.Txn) error {
		c, err := g.DeleteTx(txn, p, key)
		total.Add(c)
		return err
	})
	return total, err
}

// DeleteTx is Delete against a caller-supplied transaction.
func (g *Grove) DeleteTx(txn *badger.Txn, p Path, key []byte) (cost.Context, error) {
	var total cost.Context
	ctx := g.contextFor(txn, p)
	tree, c, err := g.openTree(ctx)
	total.Add(c)
	if err != nil {
		return total, err
	}

	raw, c, err := tree.Get(key)
	total.Add(c)
	if err == merk.ErrKeyNotFound {
		return total, ErrNotFound
	}
	if err != nil {
		return total, err
	}
	el, err := element.Decode(raw)
	if err != nil {
		return total, err
	}
	if el.IsTreeLike() {
		childPath := p.Append(key)
		childCtx := g.contextFor(txn, childPath)
		childTree, c, err := g.openTree(childCtx)
		total.Add(c)
		if err != nil {
			return total, err
		}
		if !childTree.IsEmpty() {
			return total, ErrTreeNotEmpty
		}
	}

	c, err = tree.Apply([]merk.KeyedOp{{Key: key, Op: merk.Op{Kind: merk.OpDelete}}})
	total.Add(c)
	if err != nil {
		return total, err
	}

	c, err = g.commitAndPropagate(txn, p, ctx, tree)
	total.Add(c)
	return total, err
}

// DeleteTreeRecursive deletes the tree-like element at (path, key) along
// with every element transitively reachable through its subtree,
// cleaning up storage via a best-effort prefix scan (SPEC_FULL.md §D.1,
// §D.3).
func (g *Grove) DeleteTreeRecursive(p Path, key []byte) (cost.Context, error) {
	var total cost.Context
	childPath := p.Append(key)

	if err := g.deleteSubtreeRecursive(childPath); err != nil {
		return total, err
	}

	err := g.eng.Update(func(txn *badger.Txn) error {
		ctx := g.contextFor(txn, p)
		tree, c, err := g.openTree(ctx)
		total.Add(c)
		if err != nil {
			return err
		}
		c, err = tree.Apply([]merk.KeyedOp{{Key: key, Op: merk.Op{Kind: merk.OpDeleteLayered}}})
		total.Add(c)
		if err != nil {
			return err
		}
		c, err = g.commitAndPropagate(txn, p, ctx, tree)
		total.Add(c)
		return err
	})
	return total, err
}

// deleteSubtreeRecursive walks a subtree's contents, recursing into any
// tree-like children, then removes the subtree's own storage prefix.
func (g *Grove) deleteSubtreeRecursive(p Path) error {
	var children []Path
	err := g.eng.View(func(txn *badger.Txn) error {
		ctx := g.contextFor(txn, p)
		tree, _, err := g.openTree(ctx)
		if err != nil {
			return err
		}
		_, err = tree.Range(merk.Bounds{}, true, func(k, v []byte) (bool, error) {
			el, err := element.Decode(v)
			if err != nil {
				return false, err
			}
			if el.IsTreeLike() {
				children = append(children, p.Append(k))
			}
			return true, nil
		})
		return err
	})
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := g.deleteSubtreeRecursive(child); err != nil {
			return err
		}
	}
	return g.eng.DeletePrefix(p.prefix())
}

// RootHash returns the root_hash of the subtree at path (spec.md
// §4.4.2).
func (g *Grove) RootHash(p Path) (hash.CryptoHash, cost.Context, error) {
	var total cost.Context
	var h hash.CryptoHash
	err := g.eng.View(func(txn *badger.Txn) error {
		ctx := g.contextFor(txn, p)
		tree, c, err := g.openTree(ctx)
		total.Add(c)
		if err != nil {
			return err
		}
		h = tree.RootHash()
		return nil
	})
	return h, total, err
}

// Aggregate returns the root aggregate of the subtree at path (spec.md
// §4.4.2, §4.4.5).
func (g *Grove) Aggregate(p Path) (element.Aggregate, cost.Context, error) {
	var total cost.Context
	var agg element.Aggregate
	err := g.eng.View(func(txn *badger.Txn) error {
		ctx := g.contextFor(txn, p)
		tree, c, err := g.openTree(ctx)
		total.Add(c)
		if err != nil {
			return err
		}
		agg = tree.Aggregate()
		return nil
	})
	return agg, total, err
}
