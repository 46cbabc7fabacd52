package grove

import (
	"github.com/dapperlabs/grovedb/encoding"
	"github.com/dapperlabs/grovedb/hash"
)

// Path is a finite sequence of byte keys addressing a subtree (spec.md
// §3 "Grove", §4.4.1). The empty path addresses the root subtree.
type Path [][]byte

// clone returns a defensive copy of p, since callers may hold the
// backing arrays of a path returned from a reference resolution.
func (p Path) clone() Path {
	out := make(Path, len(p))
	for i, s := range p {
		seg := make([]byte, len(s))
		copy(seg, s)
		out[i] = seg
	}
	return out
}

// Append returns a new path with key appended, i.e. the child subtree's
// address when key names a tree-like element of p.
func (p Path) Append(key []byte) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	seg := make([]byte, len(key))
	copy(seg, key)
	out[len(p)] = seg
	return out
}

// Parent returns p without its last segment and that last segment
// itself (the key under which p's subtree is portaled from its parent).
// Parent panics if p is the root path; callers must check len(p) > 0.
func (p Path) Parent() (parent Path, key []byte) {
	return p[:len(p)-1].clone(), append([]byte(nil), p[len(p)-1]...)
}

// encode length-prefixes every segment with a varint, eliminating
// concatenation ambiguity (spec.md §4.4.1).
func (p Path) encode() []byte {
	buf := make([]byte, 0, 8*len(p))
	for _, seg := range p {
		buf = encoding.AppendVarintData(buf, seg)
	}
	return buf
}

// prefix computes the subtree's 32-byte storage prefix, H(encode(p))
// (spec.md §4.4.1).
func (p Path) prefix() [32]byte {
	return [32]byte(hash.Sum(p.encode()))
}

// Prefix is the exported form of prefix, for callers outside this
// package (e.g. the batch processor) that need to address a subtree's
// storage context directly.
func (p Path) Prefix() [32]byte { return p.prefix() }

// EncodeKey returns a byte-unambiguous string identifying p, suitable as
// a map key (e.g. the batch processor's TreeCache and intent map).
func (p Path) EncodeKey() string { return string(p.encode()) }

// Depth returns the number of segments in p; the root path has depth 0.
func (p Path) Depth() int { return len(p) }

