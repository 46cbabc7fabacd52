package merk

import (
	"fmt"

	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/encoding"
	"github.com/dapperlabs/grovedb/hash"
)

// EncodeNode serializes n for storage under main[prefix‖key] (spec.md
// §6.4): `[feature_type:1B] [varint value] [value_hash:32B] [own
// aggregate] [left link] [right link]`, the own aggregate in the
// feature_type's encoding (empty for FeatureNone). The key itself is
// never included — it is the storage key the record is filed under.
//
// value_hash is persisted explicitly rather than recomputed on load,
// since for Tree-like and Reference elements it is a combine_hash result
// that cannot be reconstructed from the value bytes alone (spec.md §4.2
// "Combined value hashes"). kv_hash is cheap to recompute from
// (key, value_hash) and is not persisted.
func EncodeNode(n *Node) []byte {
	buf := make([]byte, 0, 128)
	buf = encoding.AppendUint8(buf, uint8(n.feat))
	buf = encoding.AppendVarintData(buf, n.value)
	buf = append(buf, n.valueHash[:]...)
	own := n.aggregate
	own.Type = n.feat
	buf = encodeAggregate(buf, own)
	buf = encodeLink(buf, n.left)
	buf = encodeLink(buf, n.right)
	return buf
}

func encodeLink(dst []byte, l *Link) []byte {
	if l == nil {
		return encoding.AppendUint8(dst, 0)
	}
	dst = encoding.AppendUint8(dst, 1)
	dst = append(dst, l.Hash().Bytes()...)
	dst = encoding.AppendUint8(dst, l.childHeightL)
	dst = encoding.AppendUint8(dst, l.childHeightR)
	dst = encodeAggregate(dst, l.Aggregate())
	dst = encoding.AppendVarintData(dst, l.Key())
	return dst
}

func encodeAggregate(dst []byte, a element.Aggregate) []byte {
	switch a.Type {
	case element.FeatureSum:
		dst = encoding.AppendInt64(dst, a.Sum)
	case element.FeatureBigSum:
		dst = encoding.AppendInt128(dst, a.BigSumHi, a.BigSumLo)
	case element.FeatureCount, element.FeatureProvableCount:
		dst = encoding.AppendUint64(dst, a.Count)
	case element.FeatureCountSum, element.FeatureProvableCountSum:
		dst = encoding.AppendUint64(dst, a.Count)
		dst = encoding.AppendInt64(dst, a.Sum)
	}
	return dst
}

func decodeAggregate(feat element.FeatureType, in []byte) (element.Aggregate, []byte, error) {
	a := element.Aggregate{Type: feat}
	var err error
	switch feat {
	case element.FeatureSum:
		a.Sum, in, err = encoding.ReadInt64(in)
	case element.FeatureBigSum:
		a.BigSumHi, a.BigSumLo, in, err = encoding.ReadInt128(in)
	case element.FeatureCount, element.FeatureProvableCount:
		a.Count, in, err = encoding.ReadUint64(in)
	case element.FeatureCountSum, element.FeatureProvableCountSum:
		a.Count, in, err = encoding.ReadUint64(in)
		if err == nil {
			a.Sum, in, err = encoding.ReadInt64(in)
		}
	}
	return a, in, err
}

func decodeLink(feat element.FeatureType, in []byte) (*Link, []byte, error) {
	present, rest, err := encoding.ReadUint8(in)
	if err != nil {
		return nil, in, err
	}
	if present == 0 {
		return nil, rest, nil
	}
	hashBytes, rest, err := encoding.ReadSlice(rest, hash.Size)
	if err != nil {
		return nil, in, err
	}
	heightL, rest, err := encoding.ReadUint8(rest)
	if err != nil {
		return nil, in, err
	}
	heightR, rest, err := encoding.ReadUint8(rest)
	if err != nil {
		return nil, in, err
	}
	agg, rest, err := decodeAggregate(feat, rest)
	if err != nil {
		return nil, in, err
	}
	childKey, rest, err := encoding.ReadVarintData(rest)
	if err != nil {
		return nil, in, err
	}
	return NewReferenceLink(childKey, hash.FromBytes(hashBytes), heightL, heightR, agg), rest, nil
}

// DecodeNode parses the wire form produced by EncodeNode into a Node
// whose children are Reference links (spec.md §3 "decode -> Reference"):
// no I/O has happened yet, only the key material needed to fetch them
// later.
func DecodeNode(key []byte, raw []byte) (*Node, error) {
	if len(raw) > encoding.MaxDecodeSize {
		return nil, fmt.Errorf("merk: encoded node size %d exceeds max", len(raw))
	}
	featByte, rest, err := encoding.ReadUint8(raw)
	if err != nil {
		return nil, fmt.Errorf("merk: decoding feature type: %w", err)
	}
	feat := element.FeatureType(featByte)

	value, rest, err := encoding.ReadVarintData(rest)
	if err != nil {
		return nil, fmt.Errorf("merk: decoding value: %w", err)
	}

	vh, rest, err := encoding.ReadSlice(rest, hash.Size)
	if err != nil {
		return nil, fmt.Errorf("merk: decoding value_hash: %w", err)
	}

	own, rest, err := decodeAggregate(feat, rest)
	if err != nil {
		return nil, fmt.Errorf("merk: decoding own aggregate: %w", err)
	}

	n := &Node{key: key, value: value, feat: feat, valueHash: hash.FromBytes(vh), aggregate: own}
	n.kvHash = hash.KV(key, n.valueHash)

	left, rest, err := decodeLink(feat, rest)
	if err != nil {
		return nil, fmt.Errorf("merk: decoding left link: %w", err)
	}
	n.left = left

	right, _, err := decodeLink(feat, rest)
	if err != nil {
		return nil, fmt.Errorf("merk: decoding right link: %w", err)
	}
	n.right = right

	return n, nil
}
