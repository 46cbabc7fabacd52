package merk

import (
	"fmt"

	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/hash"
)

// OpCode discriminates the stack-machine proof ops of spec.md §4.7.1.
type OpCode uint8

const (
	OpPush OpCode = iota
	OpPushInverted
	OpParent
	OpChild
	OpParentInverted
	OpChildInverted
)

// NodeVariant discriminates the proof node payload shapes of spec.md
// §4.7.2.
type NodeVariant uint8

const (
	VariantHash NodeVariant = iota
	VariantKVHash
	VariantKV
	VariantKVValueHash
	VariantKVValueHashFeatureType
	VariantKVRefValueHash
	VariantKVCount
	VariantKVHashCount
	VariantKVRefValueHashCount
	VariantKVDigestCount
	VariantKVDigest
)

// ProofNode is one node pushed onto the verifier's stack (spec.md
// §4.7.2). Exactly the fields relevant to Variant are meaningful.
type ProofNode struct {
	Variant NodeVariant

	Hash hash.CryptoHash // VariantHash, VariantKVHash (sibling/non-queried)

	Key   []byte
	Value []byte // VariantKV, VariantKVValueHash*, VariantKVRefValueHash*

	ValueHash hash.CryptoHash // VariantKVValueHash*, VariantKVDigest*: precomputed value_hash

	FeatureType element.FeatureType // VariantKVValueHashFeatureType

	RefHash hash.CryptoHash // VariantKVRefValueHash*: hash of the reference element itself

	Count uint64 // VariantKVCount, VariantKVHashCount, VariantKVRefValueHashCount, VariantKVDigestCount
}

// hashOf computes the node_hash contribution this proof node asserts,
// per the per-variant rules of spec.md §4.7.2.
func (n *ProofNode) hashOf() hash.CryptoHash {
	switch n.Variant {
	case VariantHash:
		return n.Hash
	case VariantKVHash:
		return n.Hash
	case VariantKV:
		return hash.KV(n.Key, hash.Value(n.Value))
	case VariantKVValueHash:
		return hash.KV(n.Key, n.ValueHash)
	case VariantKVValueHashFeatureType:
		return hash.KV(n.Key, n.ValueHash)
	case VariantKVRefValueHash:
		// the referenced value's hash is folded into value_hash via
		// combine_hash with the reference element's own hash (spec.md
		// §4.2, §4.7.2 "proves a dereferenced reference").
		combined := hash.Combine(n.RefHash, hash.Value(n.Value))
		return hash.KV(n.Key, combined)
	case VariantKVDigest:
		return hash.KV(n.Key, n.ValueHash)
	case VariantKVCount:
		return hash.KV(n.Key, hash.Value(n.Value))
	case VariantKVHashCount:
		return n.Hash
	case VariantKVRefValueHashCount:
		combined := hash.Combine(n.RefHash, hash.Value(n.Value))
		return hash.KV(n.Key, combined)
	case VariantKVDigestCount:
		return hash.KV(n.Key, n.ValueHash)
	default:
		return hash.Null
	}
}

// valueHashOf returns the value_hash component this node's kv_hash folds
// in, independent of the key — the same quantity node.go's
// SetCombinedValueHash/plain-value path computes at write time. Only
// meaningful for queried (isQueriedVariant) nodes.
func (n *ProofNode) valueHashOf() hash.CryptoHash {
	switch n.Variant {
	case VariantKV, VariantKVCount:
		return hash.Value(n.Value)
	case VariantKVValueHash, VariantKVValueHashFeatureType, VariantKVDigest, VariantKVDigestCount:
		return n.ValueHash
	case VariantKVRefValueHash, VariantKVRefValueHashCount:
		return hash.Combine(n.RefHash, hash.Value(n.Value))
	default:
		return hash.Null
	}
}

// countOf returns the count this node variant carries for
// ProvableCount* node_hash reconstruction, or (0, false) if it carries
// none.
func (n *ProofNode) countOf() (uint64, bool) {
	switch n.Variant {
	case VariantKVCount, VariantKVHashCount, VariantKVRefValueHashCount, VariantKVDigestCount:
		return n.Count, true
	default:
		return 0, false
	}
}

// ProofOp is a single instruction in a Merk proof stream (spec.md
// §4.7.1). Node is populated only for Push/PushInverted.
type ProofOp struct {
	Code OpCode
	Node *ProofNode
}

// proofBuilder accumulates ops for Prove via an in-order, range-pruning
// walk structurally identical to Tree.Range (spec.md §4.7.1, §4.7.3).
type proofBuilder struct {
	w     *walker
	items []Bounds
	ops   []ProofOp
	cost  cost.Context
}

// Prove emits a proof stream for this subtree covering every key
// matched by any of items, plus the boundary nodes needed to prove the
// absence of any non-matching key within the queried ranges (spec.md
// §4.3.1 "prove", §4.7.1, §4.7.3).
func (t *Tree) Prove(items []Bounds) ([]ProofOp, cost.Context, error) {
	pb := &proofBuilder{w: t.w, items: items}
	if t.root == nil {
		return nil, pb.cost, nil
	}
	if _, err := pb.visit(t.root); err != nil {
		return nil, pb.cost, err
	}
	return pb.ops, pb.cost, nil
}

// inAnyBounds reports whether key falls within any of the query's
// bounds (used to decide whether a node is "queried" vs. merely
// on-path).
func inAnyBounds(items []Bounds, key []byte) bool {
	for _, b := range items {
		if b.includes(key) {
			return true
		}
	}
	return false
}

// overlapsRange conservatively reports whether any item could match a
// key in the interval (lo, hi) implied by descending past n toward a
// given side; nil bounds mean unconstrained.
func overlapsRange(items []Bounds, lo, hi []byte) bool {
	for _, b := range items {
		if b.Upper != nil && lo != nil && compareKeys(b.Upper, lo) < 0 {
			continue
		}
		if b.Lower != nil && hi != nil && compareKeys(b.Lower, hi) > 0 {
			continue
		}
		return true
	}
	return len(items) == 0
}

// visit produces the proof subtree rooted at n, pushing either a single
// collapsed Hash node (subtree entirely uninvolved), or a KV/KVHash node
// for n itself plus recursively-built children, combined with
// Parent/Child ops (spec.md §4.7.1).
func (pb *proofBuilder) visit(n *Node) (hash.CryptoHash, error) {
	if n == nil {
		return hash.Null, nil
	}

	queried := inAnyBounds(pb.items, n.Key())

	leftInvolved := n.Left() != nil && overlapsRange(pb.items, nil, n.Key())
	rightInvolved := n.Right() != nil && overlapsRange(pb.items, n.Key(), nil)

	if !queried && !leftInvolved && !rightInvolved {
		h := n.NodeHash()
		pb.ops = append(pb.ops, ProofOp{Code: OpPush, Node: &ProofNode{Variant: VariantHash, Hash: h}})
		return h, nil
	}

	var leftHash, rightHash hash.CryptoHash = hash.Null, hash.Null

	if n.Left() != nil {
		child, c, err := pb.w.peek(n, false)
		pb.cost.Add(c)
		if err != nil {
			return hash.Null, err
		}
		if leftInvolved {
			leftHash, err = pb.visit(child)
			if err != nil {
				return hash.Null, err
			}
		} else {
			leftHash = n.Left().Hash()
			pb.ops = append(pb.ops, ProofOp{Code: OpPush, Node: &ProofNode{Variant: VariantHash, Hash: leftHash}})
		}
	}

	selfVariant := VariantKVHash
	var selfNode *ProofNode
	if queried {
		selfNode = pb.queriedNode(n)
	} else if n.feat == element.FeatureProvableCount || n.feat == element.FeatureProvableCountSum {
		selfNode = &ProofNode{Variant: VariantKVHashCount, Hash: n.KVHash(), Count: n.combinedCount()}
	} else {
		selfNode = &ProofNode{Variant: selfVariant, Hash: n.KVHash()}
	}
	pb.ops = append(pb.ops, ProofOp{Code: OpPush, Node: selfNode})

	if n.Left() != nil {
		pb.ops = append(pb.ops, ProofOp{Code: OpParent})
	}

	if n.Right() != nil {
		child, c, err := pb.w.peek(n, true)
		pb.cost.Add(c)
		if err != nil {
			return hash.Null, err
		}
		if rightInvolved {
			rightHash, err = pb.visit(child)
			if err != nil {
				return hash.Null, err
			}
		} else {
			rightHash = n.Right().Hash()
			pb.ops = append(pb.ops, ProofOp{Code: OpPush, Node: &ProofNode{Variant: VariantHash, Hash: rightHash}})
		}
		pb.ops = append(pb.ops, ProofOp{Code: OpChild})
	}

	switch n.feat {
	case element.FeatureProvableCount, element.FeatureProvableCountSum:
		return hash.NodeWithCount(n.kvHash, leftHash, rightHash, n.combinedCount()), nil
	default:
		return hash.Node(n.kvHash, leftHash, rightHash), nil
	}
}

// queriedNode builds the proof payload for a node that a query actually
// matched: KV for a plain item, KVValueHash(FeatureType) when the
// element is tree-like or a reference (its value_hash is a combine_hash
// result that must be carried rather than recomputed), KV*Count
// variants under ProvableCount* trees.
func (pb *proofBuilder) queriedNode(n *Node) *ProofNode {
	combined := isCombinedValue(n)
	switch n.feat {
	case element.FeatureProvableCount, element.FeatureProvableCountSum:
		if combined {
			return &ProofNode{Variant: VariantKVDigestCount, Key: n.Key(), ValueHash: n.ValueHash(), Count: n.combinedCount()}
		}
		return &ProofNode{Variant: VariantKVCount, Key: n.Key(), Value: n.Value(), Count: n.combinedCount()}
	default:
		if combined {
			return &ProofNode{Variant: VariantKVValueHashFeatureType, Key: n.Key(), Value: n.Value(), ValueHash: n.ValueHash(), FeatureType: n.feat}
		}
		return &ProofNode{Variant: VariantKV, Key: n.Key(), Value: n.Value()}
	}
}

// isCombinedValue reports whether n's value_hash was produced via
// combine_hash rather than plain hash.Value(n.Value()) — i.e. it is a
// tree-like or reference node (spec.md §4.2).
func isCombinedValue(n *Node) bool {
	return n.valueHash != hash.Value(n.value)
}

// VerifyProof executes a single subtree's proof stream against the
// stack machine described in spec.md §4.7.1 and returns the
// reconstructed root hash plus every queried (key, value) pair the
// proof commits to. It does not by itself decide whether rootHash
// matches an expected value — callers compare it (spec.md §4.7.6).
func VerifyProof(ops []ProofOp) (hash.CryptoHash, []KV, error) {
	var stack []stackEntry
	var results []KV

	for _, op := range ops {
		switch op.Code {
		case OpPush, OpPushInverted:
			if op.Node == nil {
				return hash.Null, nil, fmt.Errorf("merk: push op missing node")
			}
			h := op.Node.hashOf()
			count, hasCount := op.Node.countOf()
			entry := stackEntry{hash: h, count: count, hasCount: hasCount}
			if op.Node.Variant != VariantHash {
				// h is a kv_hash: the entry starts as a leaf node.
				entry.kvHash, entry.hasKV = h, true
				entry.hash = foldNode(entry)
			}
			stack = append(stack, entry)
			if isQueriedVariant(op.Node.Variant) {
				results = append(results, KV{
					Key:       append([]byte(nil), op.Node.Key...),
					Value:     append([]byte(nil), op.Node.Value...),
					ValueHash: op.Node.valueHashOf(),
				})
			}

		case OpParent, OpParentInverted:
			if len(stack) < 2 {
				return hash.Null, nil, fmt.Errorf("merk: %w: stack underflow on Parent", errInvalidProof)
			}
			// visit pushes a node's left subtree before pushing the node
			// itself, so the node just pushed — the parent-to-be — sits
			// on top of its already-pushed left child.
			parent := stack[len(stack)-1]
			child := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			parent = attachChild(parent, child, true, op.Code == OpParentInverted)
			stack = append(stack, parent)

		case OpChild, OpChildInverted:
			if len(stack) < 2 {
				return hash.Null, nil, fmt.Errorf("merk: %w: stack underflow on Child", errInvalidProof)
			}
			child := stack[len(stack)-1]
			parent := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			parent = attachChild(parent, child, false, op.Code == OpChildInverted)
			stack = append(stack, parent)

		default:
			return hash.Null, nil, fmt.Errorf("merk: %w: unknown op code %d", errInvalidProof, op.Code)
		}
	}

	if len(stack) != 1 {
		return hash.Null, nil, fmt.Errorf("merk: %w: proof left %d items on stack, want 1", errInvalidProof, len(stack))
	}
	return stack[0].hash, results, nil
}

// KV is a verified (key, value) pair extracted from a proof. ValueHash is
// the value_hash this node's kv_hash was built from: for a plain item
// that's just hash.Value(Value), but for a tree-like or reference
// element it is a combine_hash(hash.Value(Value), childOrReferentHash)
// result (spec.md §4.2), which a caller descending into nested subtrees
// (the proof package's layered verification, spec.md §4.7.4) needs in
// order to check the child's independently-reconstructed root hash
// against what this layer's proof committed to.
type KV struct {
	Key       []byte
	Value     []byte
	ValueHash hash.CryptoHash
}

type stackEntry struct {
	// hash is the entry's node_hash as reconstructed so far. For every
	// variant but VariantHash (an opaque subtree), it is folded from
	// kvHash and the left/right child hashes, which Parent/Child ops
	// fill in one side at a time.
	hash        hash.CryptoHash
	kvHash      hash.CryptoHash
	left, right hash.CryptoHash
	hasKV       bool
	count       uint64
	hasCount    bool
}

// foldNode computes e's node_hash from its kv_hash and child hashes.
func foldNode(e stackEntry) hash.CryptoHash {
	if e.hasCount {
		return hash.NodeWithCount(e.kvHash, e.left, e.right, e.count)
	}
	return hash.Node(e.kvHash, e.left, e.right)
}

// attachChild folds child into parent as its left (asLeft=true) or right
// child, recomputing parent's node_hash. inverted swaps which physical
// side child attaches to, implementing *Inverted ops for right-to-left
// proofs (spec.md §4.7.1).
func attachChild(parent, child stackEntry, asLeft, inverted bool) stackEntry {
	if asLeft != inverted {
		parent.left = child.hash
	} else {
		parent.right = child.hash
	}
	parent.hash = foldNode(parent)
	return parent
}

func isQueriedVariant(v NodeVariant) bool {
	switch v {
	case VariantKV, VariantKVValueHash, VariantKVValueHashFeatureType, VariantKVRefValueHash,
		VariantKVCount, VariantKVRefValueHashCount:
		return true
	default:
		return false
	}
}
