// Package hash implements the three deterministic hash constructions of
// spec.md §4.2 on top of Blake3, a 256-bit collision-resistant function
// with a 64-byte block size.
package hash

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/dapperlabs/grovedb/cost"
)

// Size is the length in bytes of every CryptoHash value.
const Size = 32

// CryptoHash is a 32-byte opaque digest (spec.md §3).
type CryptoHash [Size]byte

// Null is the all-zero hash, used for absent children (spec.md §3).
var Null CryptoHash

// IsNull reports whether h is the all-zero hash.
func (h CryptoHash) IsNull() bool {
	return h == Null
}

// Bytes returns h as a byte slice.
func (h CryptoHash) Bytes() []byte {
	return h[:]
}

// FromBytes copies b into a CryptoHash, zero-padding or truncating to
// Size. Used when decoding untrusted wire data; callers that need strict
// length checking should compare len(b) before calling.
func FromBytes(b []byte) CryptoHash {
	var h CryptoHash
	copy(h[:], b)
	return h
}

// appendVarintLen appends a uvarint encoding of len(b) followed by b
// itself, eliminating concatenation ambiguity for variable-length inputs
// (spec.md §4.2).
func appendVarintLen(dst []byte, b []byte) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(b)))
	dst = append(dst, buf[:n]...)
	return append(dst, b...)
}

func sum(b []byte) CryptoHash {
	return CryptoHash(blake3.Sum256(b))
}

// Sum is a plain Blake3-256 digest of b, exported for callers outside this
// package that need a generic hash rather than one of the three specific
// constructions below (e.g. the grove's `H(encode(path))` subtree prefix,
// spec.md §4.4.1).
func Sum(b []byte) CryptoHash {
	return sum(b)
}

// Value computes value_hash(v) = H(varint_len(v) ‖ v).
func Value(v []byte) CryptoHash {
	buf := appendVarintLen(make([]byte, 0, len(v)+binary.MaxVarintLen64), v)
	return sum(buf)
}

// ValueWithCost is Value, additionally reporting the hash-call cost.
func ValueWithCost(v []byte) (CryptoHash, cost.Context) {
	buf := appendVarintLen(make([]byte, 0, len(v)+binary.MaxVarintLen64), v)
	var c cost.Context
	c.AddHash(len(buf))
	return sum(buf), c
}

// KV computes kv_hash(k, v_hash) = H(varint_len(k) ‖ k ‖ v_hash).
func KV(k []byte, valueHash CryptoHash) CryptoHash {
	buf := appendVarintLen(make([]byte, 0, len(k)+binary.MaxVarintLen64+Size), k)
	buf = append(buf, valueHash[:]...)
	return sum(buf)
}

// KVWithCost is KV, additionally reporting the hash-call cost.
func KVWithCost(k []byte, valueHash CryptoHash) (CryptoHash, cost.Context) {
	buf := appendVarintLen(make([]byte, 0, len(k)+binary.MaxVarintLen64+Size), k)
	buf = append(buf, valueHash[:]...)
	var c cost.Context
	c.AddHash(len(buf))
	return sum(buf), c
}

// Node computes node_hash(kvh, lh, rh) = H(kvh ‖ lh ‖ rh). Missing
// children must be passed as Null.
func Node(kvHash, leftHash, rightHash CryptoHash) CryptoHash {
	var buf [Size * 3]byte
	copy(buf[0:Size], kvHash[:])
	copy(buf[Size:2*Size], leftHash[:])
	copy(buf[2*Size:3*Size], rightHash[:])
	return sum(buf[:])
}

// NodeWithCost is Node, additionally reporting the hash-call cost.
func NodeWithCost(kvHash, leftHash, rightHash CryptoHash) (CryptoHash, cost.Context) {
	h := Node(kvHash, leftHash, rightHash)
	var c cost.Context
	c.AddHash(Size * 3)
	return h, c
}

// NodeWithCount computes node_hash_with_count(kvh, lh, rh, count) =
// H(kvh ‖ lh ‖ rh ‖ count_be_u64), used by ProvableCount* feature types
// so a proof can assert the count without revealing children (spec.md
// §4.2 "Provable count nodes").
func NodeWithCount(kvHash, leftHash, rightHash CryptoHash, count uint64) CryptoHash {
	var buf [Size*3 + 8]byte
	copy(buf[0:Size], kvHash[:])
	copy(buf[Size:2*Size], leftHash[:])
	copy(buf[2*Size:3*Size], rightHash[:])
	binary.BigEndian.PutUint64(buf[3*Size:], count)
	return sum(buf[:])
}

// Combine computes combine_hash(a,b) = H(a ‖ b), used to bind a
// tree-valued or reference element's bytes to its child/referent hash
// (spec.md §4.2, §8 invariants 3 and 4).
func Combine(a, b CryptoHash) CryptoHash {
	var buf [Size * 2]byte
	copy(buf[0:Size], a[:])
	copy(buf[Size:2*Size], b[:])
	return sum(buf[:])
}

// CombineWithCost is Combine, additionally reporting the hash-call cost.
func CombineWithCost(a, b CryptoHash) (CryptoHash, cost.Context) {
	h := Combine(a, b)
	var c cost.Context
	c.AddHash(Size * 2)
	return h, c
}
