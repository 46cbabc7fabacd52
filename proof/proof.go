// Package proof implements GroveDB's layered proof system (spec.md
// §4.7): a single subtree's proof is a Merk stack-machine stream
// (merk.Prove/merk.VerifyProof); a path query spanning nested subtrees
// composes one such stream per traversed subtree into a LayerProof
// tree, verified top-down by recomputing each parent's combine_hash
// expectation from its child's independently-reconstructed root hash.
// It is grounded on merk/proof.go (the single-layer stack machine this
// package composes) and on the query package's branch-resolution rules,
// which a verifier must re-apply independently rather than trust from
// the prover.
package proof

import (
	"encoding/hex"
	"fmt"

	badger "github.com/dgraph-io/badger/v2"

	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/grove"
	"github.com/dapperlabs/grovedb/hash"
	"github.com/dapperlabs/grovedb/merk"
	"github.com/dapperlabs/grovedb/query"
)

// ErrInvalidProof is returned on any mismatch: hash, element kind, or a
// missing expected layer (spec.md §4.7.6).
var ErrInvalidProof = merk.ErrInvalidProof

// maxProofBytes bounds deserialized proof size to resist malformed
// length headers (spec.md §4.7.6).
const maxProofBytes = 100 << 20

// LayerProof is one node of the layered-proof tree (spec.md §4.7.4): a
// single subtree's Merk stack-machine stream, plus the sub-proofs of
// whichever matched children a subquery branch descended into, keyed by
// the matched key's hex encoding.
type LayerProof struct {
	MerkProof []merk.ProofOp
	Lower     map[string]*LayerProof
}

func lowerKey(key []byte) string { return hex.EncodeToString(key) }

// GenerateQuery builds a LayerProof for q run against the subtree at
// path, recursing into every match whose element is tree-like and whose
// query item resolves a (default or conditional) subquery branch
// (spec.md §4.6 branch table, §4.7.4).
func GenerateQuery(g *grove.Grove, path grove.Path, q *query.Query) (*LayerProof, cost.Context, error) {
	var total cost.Context
	var lp *LayerProof

	err := g.Engine().View(func(txn *badger.Txn) error {
		var err error
		lp, err = generateQueryTx(g, txn, path, q, &total)
		return err
	})
	return lp, total, err
}

func generateQueryTx(g *grove.Grove, txn *badger.Txn, path grove.Path, q *query.Query, total *cost.Context) (*LayerProof, error) {
	ctx := g.ContextFor(txn, path)
	tree, c, err := g.OpenTreeAt(ctx)
	total.Add(c)
	if err != nil {
		return nil, fmt.Errorf("proof: opening subtree at %v: %w", path, err)
	}

	bounds := make([]merk.Bounds, len(q.Items))
	for i, it := range q.Items {
		bounds[i] = it.Bounds()
	}

	ops, c, err := tree.Prove(bounds)
	total.Add(c)
	if err != nil {
		return nil, fmt.Errorf("proof: proving subtree at %v: %w", path, err)
	}

	// Self-verify to learn which keys the stream actually committed to,
	// so we know which matches need a nested layer. This mirrors exactly
	// what a verifier will later do; generation trusts its own storage.
	_, kvs, err := merk.VerifyProof(ops)
	if err != nil {
		return nil, fmt.Errorf("proof: self-verifying generated proof at %v: %w", path, err)
	}

	lp := &LayerProof{MerkProof: ops}

	for _, kv := range kvs {
		item, ok := itemFor(q.Items, kv.Key)
		if !ok {
			continue
		}
		branch, hasBranch := q.BranchFor(item)
		if !hasBranch {
			continue
		}

		el, err := element.Decode(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("proof: decoding matched element at %v/%x: %w", path, kv.Key, err)
		}

		childPath, childQuery, needsLayer := resolveBranch(path, kv.Key, el, branch)
		if !needsLayer {
			continue
		}

		sub, err := generateQueryTx(g, txn, childPath, childQuery, total)
		if err != nil {
			return nil, err
		}
		if lp.Lower == nil {
			lp.Lower = map[string]*LayerProof{}
		}
		lp.Lower[lowerKey(kv.Key)] = sub
	}

	return lp, nil
}

// resolveBranch mirrors query.Executor.runBranch's table (spec.md §4.6)
// purely to decide whether a nested LayerProof is needed and, if so,
// which (path, Query) it must prove.
func resolveBranch(path grove.Path, key []byte, el *element.Element, branch query.SubqueryBranch) (grove.Path, *query.Query, bool) {
	if len(branch.SubqueryPath) == 0 {
		if branch.Subquery == nil || !el.IsTreeLike() {
			return grove.Path{}, nil, false
		}
		return path.Append(key), branch.Subquery, true
	}
	if !el.IsTreeLike() {
		return grove.Path{}, nil, false
	}
	cur := path.Append(key)
	for i, k := range branch.SubqueryPath {
		if i < len(branch.SubqueryPath)-1 {
			cur = cur.Append(k)
			continue
		}
		return cur, chainTo(k, branch.Subquery), true
	}
	return grove.Path{}, nil, false
}

// chainTo builds a single-key Query selecting k, with inner as its
// default subquery branch (or no branch at all when inner is nil), so a
// fixed subquery_path can be proved/verified with the same recursive
// machinery as a real subquery.
func chainTo(k []byte, inner *query.Query) *query.Query {
	q, err := query.NewQuery([]query.QueryItem{query.Key(k)}, true)
	if err != nil {
		// Key(k) alone can never fail NewQuery's validation.
		panic(err)
	}
	if inner != nil {
		q.DefaultSubqueryBranch = &query.SubqueryBranch{Subquery: inner}
	}
	return q
}

func itemFor(items []query.QueryItem, key []byte) (query.QueryItem, bool) {
	for _, it := range items {
		if it.Bounds().Includes(key) {
			return it, true
		}
	}
	return query.QueryItem{}, false
}

// VerifyQuery checks lp against q run over the subtree at path, whose
// reconstructed root must equal expectedRootHash, recursing per spec.md
// §4.7.4: each child layer is verified first so its own reconstructed
// root hash can be checked against the combine_hash value the parent's
// proof committed to, rather than trusted from the prover.
func VerifyQuery(lp *LayerProof, expectedRootHash hash.CryptoHash, path grove.Path, q *query.Query) ([]query.Result, error) {
	root, results, err := verifyLayer(lp, path, q)
	if err != nil {
		return nil, err
	}
	if root != expectedRootHash {
		return nil, fmt.Errorf("proof: %w: root hash mismatch at %v", ErrInvalidProof, path)
	}
	return results, nil
}

// verifyLayer verifies one LayerProof's own Merk stream and recurses
// into any matched children needing a nested layer, returning this
// layer's reconstructed root hash without comparing it to anything —
// the caller (either VerifyQuery at the top, or this function one level
// up via the combine_hash check below) decides what that root must
// equal.
func verifyLayer(lp *LayerProof, path grove.Path, q *query.Query) (hash.CryptoHash, []query.Result, error) {
	if lp == nil {
		return hash.Null, nil, fmt.Errorf("proof: %w: nil layer proof at %v", ErrInvalidProof, path)
	}
	if proofSize(lp.MerkProof) > maxProofBytes {
		return hash.Null, nil, fmt.Errorf("proof: %w: proof at %v exceeds size bound", ErrInvalidProof, path)
	}

	root, kvs, err := merk.VerifyProof(lp.MerkProof)
	if err != nil {
		return hash.Null, nil, fmt.Errorf("proof: %w: %v", ErrInvalidProof, err)
	}

	var results []query.Result
	for _, kv := range kvs {
		item, ok := itemFor(q.Items, kv.Key)
		if !ok {
			return hash.Null, nil, fmt.Errorf("proof: %w: key %x at %v is not within any queried item", ErrInvalidProof, kv.Key, path)
		}

		el, err := element.Decode(kv.Value)
		if err != nil {
			return hash.Null, nil, fmt.Errorf("proof: %w: decoding element at %v/%x: %v", ErrInvalidProof, path, kv.Key, err)
		}
		branch, hasBranch := q.BranchFor(item)
		trivial := !hasBranch || (len(branch.SubqueryPath) == 0 && branch.Subquery == nil)
		if trivial || q.AddParentTreeOnSubquery {
			results = append(results, query.Result{Path: path, Key: append([]byte(nil), kv.Key...), El: el})
		}
		if trivial {
			continue
		}
		childPath, childQuery, needsLayer := resolveBranch(path, kv.Key, el, branch)
		if !needsLayer {
			continue
		}

		sub, ok := lp.Lower[lowerKey(kv.Key)]
		if !ok {
			return hash.Null, nil, fmt.Errorf("proof: %w: missing lower layer for %v/%x", ErrInvalidProof, path, kv.Key)
		}

		childRoot, childResults, err := verifyLayer(sub, childPath, childQuery)
		if err != nil {
			return hash.Null, nil, err
		}

		// combine_hash check (spec.md §4.7.4 step 2): the parent's proof
		// committed to value_hash = combine_hash(value_hash(el_bytes),
		// child_root); recompute it from el_bytes and the child's own
		// independently-reconstructed root and compare.
		expected := hash.Combine(hash.Value(kv.Value), childRoot)
		if expected != kv.ValueHash {
			return hash.Null, nil, fmt.Errorf("proof: %w: child root mismatch at %v/%x", ErrInvalidProof, path, kv.Key)
		}

		results = append(results, childResults...)
	}
	return root, results, nil
}

// ProveElement generates a LayerProof for a single element at a
// possibly-nested path, one Merk layer per path segment, by building an
// equivalent chain of single-Key Queries and delegating to GenerateQuery
// (spec.md §4.7.4's "path query over nested subtrees" specialized to
// one key).
func ProveElement(g *grove.Grove, path grove.Path, key []byte) (*LayerProof, cost.Context, error) {
	q := chainForPath(path, key)
	return GenerateQuery(g, grove.Path{}, q)
}

// VerifyElement checks lp proves the element at path/key under
// expectedRootHash (typically the grove's own root hash, spec.md §3),
// returning the decoded element on success.
func VerifyElement(lp *LayerProof, expectedRootHash hash.CryptoHash, path grove.Path, key []byte) (*element.Element, error) {
	q := chainForPath(path, key)
	results, err := VerifyQuery(lp, expectedRootHash, grove.Path{}, q)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Path.EncodeKey() == path.EncodeKey() && string(r.Key) == string(key) {
			return r.El, nil
		}
	}
	return nil, fmt.Errorf("proof: %w: element at %v/%x not present in proof results", ErrInvalidProof, path, key)
}

// chainForPath builds the nested single-Key query chain that descends
// path's segments one level at a time before selecting key, so a deep
// path/key pair is proved/verified as a layered proof exactly like a
// real subquery chain would be.
func chainForPath(path grove.Path, key []byte) *query.Query {
	q := chainTo(key, nil)
	for i := path.Depth() - 1; i >= 0; i-- {
		q = chainTo(path[i], q)
	}
	return q
}

func proofSize(ops []merk.ProofOp) int {
	n := 0
	for _, op := range ops {
		n++
		if op.Node != nil {
			n += len(op.Node.Key) + len(op.Node.Value) + hash.Size*2
		}
	}
	return n
}
