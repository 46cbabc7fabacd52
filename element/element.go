// Package element implements the tagged-union Element values stored under
// grove keys (spec.md §3) and their deterministic binary encoding
// (spec.md §6.3).
package element

import (
	"fmt"

	"github.com/dapperlabs/grovedb/encoding"
)

// Tag is the one-byte discriminant identifying an Element variant,
// enabling O(1) element-type identification without a full decode
// (spec.md §6.3).
type Tag uint8

const (
	TagItem                 Tag = 0
	TagReference            Tag = 1
	TagTree                 Tag = 2
	TagSumItem              Tag = 3
	TagSumTree              Tag = 4
	TagBigSumTree           Tag = 5
	TagCountTree            Tag = 6
	TagCountSumTree         Tag = 7
	TagProvableCountTree    Tag = 8
	TagItemWithSumItem      Tag = 9
	TagProvableCountSumTree Tag = 10
	// TagNonMerkBase is the first of the reserved non-Merk tree kinds
	// (spec.md §3): MMR, commitment tree, dense tree, bulk-append tree.
	// The grove boundary (SPEC_FULL.md / spec.md §6.6) treats these
	// opaquely; this package only needs to recognize the tag.
	TagNonMerkBase Tag = 11
)

// Flags is an optional, caller-defined byte string carried by most
// variants (spec.md §3). nil and empty are both "no flags".
type Flags []byte

// Element is a tagged union describing the semantic payload stored under
// a grove key. Exactly one of the typed fields is meaningful, selected by
// Tag; this mirrors the teacher's EncodingType-discriminated wire values
// (ledger/common/encoding.go) rather than a Go interface, since the
// variant set is closed (spec.md §9 "Dynamic dispatch").
type Element struct {
	Tag   Tag
	Flags Flags

	// Item / ItemWithSumItem
	ItemBytes []byte
	SumValue  int64 // SumItem, ItemWithSumItem

	// Reference
	RefPathType ReferencePathType
	MaxHop      uint8 // 0 means "use default" (spec.md §4.4.4)

	// Tree-like (Tree, SumTree, BigSumTree, CountTree, CountSumTree,
	// ProvableCountTree, ProvableCountSumTree)
	ChildRootKey []byte // nil if the subtree is empty/unpopulated
	Sum          int64
	BigSumHi     int64
	BigSumLo     int64
	Count        uint64
}

// IsTreeLike reports whether the element is a portal into a child
// subtree (spec.md §3 table).
func (e *Element) IsTreeLike() bool {
	switch e.Tag {
	case TagTree, TagSumTree, TagBigSumTree, TagCountTree, TagCountSumTree,
		TagProvableCountTree, TagProvableCountSumTree:
		return true
	default:
		return false
	}
}

// FeatureType derives the TreeFeatureType a tree-like element implies for
// its own Merk node (spec.md §3 "TreeFeatureType is ... chosen by the
// grove based on the enclosing subtree kind").
func (e *Element) FeatureType() FeatureType {
	switch e.Tag {
	case TagSumTree, TagItemWithSumItem, TagSumItem:
		return FeatureSum
	case TagBigSumTree:
		return FeatureBigSum
	case TagCountTree:
		return FeatureCount
	case TagCountSumTree:
		return FeatureCountSum
	case TagProvableCountTree:
		return FeatureProvableCount
	case TagProvableCountSumTree:
		return FeatureProvableCountSum
	default:
		return FeatureNone
	}
}

// NewItem constructs an Item element.
func NewItem(value []byte, flags Flags) *Element {
	return &Element{Tag: TagItem, ItemBytes: value, Flags: flags}
}

// NewTree constructs a Tree portal element. childRootKey is nil for an
// empty/unpopulated subtree.
func NewTree(childRootKey []byte, flags Flags) *Element {
	return &Element{Tag: TagTree, ChildRootKey: childRootKey, Flags: flags}
}

// NewSumItem constructs a SumItem element contributing value to an
// ancestor SumTree.
func NewSumItem(value int64, flags Flags) *Element {
	return &Element{Tag: TagSumItem, SumValue: value, Flags: flags}
}

// NewReference constructs a Reference element. maxHop of 0 means "use
// the engine default" (spec.md §4.4.4).
func NewReference(path ReferencePathType, maxHop uint8, flags Flags) *Element {
	return &Element{Tag: TagReference, RefPathType: path, MaxHop: maxHop, Flags: flags}
}

// Bytes returns the canonical encoded form of the element, used as the
// `encoded(E)` input to value_hash / combine_hash (spec.md §4.2, §8).
func (e *Element) Bytes() []byte {
	return Encode(e)
}

// Encode serializes e per spec.md §6.3: `[tag: 1B] [variant payload]`.
func Encode(e *Element) []byte {
	buf := make([]byte, 0, 64)
	buf = encoding.AppendUint8(buf, uint8(e.Tag))
	switch e.Tag {
	case TagItem:
		buf = encoding.AppendVarintData(buf, e.ItemBytes)
		buf = encodeFlags(buf, e.Flags)
	case TagItemWithSumItem:
		buf = encoding.AppendVarintData(buf, e.ItemBytes)
		buf = encoding.AppendInt64(buf, e.SumValue)
		buf = encodeFlags(buf, e.Flags)
	case TagSumItem:
		buf = encoding.AppendInt64(buf, e.SumValue)
		buf = encodeFlags(buf, e.Flags)
	case TagReference:
		buf = EncodeReferencePathType(buf, e.RefPathType)
		buf = encoding.AppendUint8(buf, e.MaxHop)
		buf = encodeFlags(buf, e.Flags)
	case TagTree:
		buf = encodeOptionalKey(buf, e.ChildRootKey)
		buf = encodeFlags(buf, e.Flags)
	case TagSumTree:
		buf = encodeOptionalKey(buf, e.ChildRootKey)
		buf = encoding.AppendInt64(buf, e.Sum)
		buf = encodeFlags(buf, e.Flags)
	case TagBigSumTree:
		buf = encodeOptionalKey(buf, e.ChildRootKey)
		buf = encoding.AppendInt128(buf, e.BigSumHi, e.BigSumLo)
		buf = encodeFlags(buf, e.Flags)
	case TagCountTree:
		buf = encodeOptionalKey(buf, e.ChildRootKey)
		buf = encoding.AppendUint64(buf, e.Count)
		buf = encodeFlags(buf, e.Flags)
	case TagCountSumTree, TagProvableCountSumTree:
		buf = encodeOptionalKey(buf, e.ChildRootKey)
		buf = encoding.AppendUint64(buf, e.Count)
		buf = encoding.AppendInt64(buf, e.Sum)
		buf = encodeFlags(buf, e.Flags)
	case TagProvableCountTree:
		buf = encodeOptionalKey(buf, e.ChildRootKey)
		buf = encoding.AppendUint64(buf, e.Count)
		buf = encodeFlags(buf, e.Flags)
	default:
		// Reserved non-Merk tags (11-14): only the tag and opaque flags
		// are meaningful here; the type-specific payload lives in the
		// non-Merk collaborator's own namespace (spec.md §6.6).
		buf = encodeFlags(buf, e.Flags)
	}
	return buf
}

func encodeFlags(dst []byte, f Flags) []byte {
	return encoding.AppendVarintData(dst, f)
}

func encodeOptionalKey(dst []byte, key []byte) []byte {
	if key == nil {
		return encoding.AppendUint8(dst, 0)
	}
	dst = encoding.AppendUint8(dst, 1)
	return encoding.AppendVarintData(dst, key)
}

func decodeOptionalKey(in []byte) (key []byte, rest []byte, err error) {
	present, rest, err := encoding.ReadUint8(in)
	if err != nil {
		return nil, in, err
	}
	if present == 0 {
		return nil, rest, nil
	}
	return encoding.ReadVarintData(rest)
}

// Decode parses the canonical encoded form produced by Encode.
func Decode(raw []byte) (*Element, error) {
	if len(raw) > encoding.MaxDecodeSize {
		return nil, fmt.Errorf("element: encoded size %d exceeds max %d", len(raw), encoding.MaxDecodeSize)
	}
	tagByte, rest, err := encoding.ReadUint8(raw)
	if err != nil {
		return nil, fmt.Errorf("element: reading tag: %w", err)
	}
	e := &Element{Tag: Tag(tagByte)}
	switch e.Tag {
	case TagItem:
		e.ItemBytes, rest, err = encoding.ReadVarintData(rest)
	case TagItemWithSumItem:
		e.ItemBytes, rest, err = encoding.ReadVarintData(rest)
		if err == nil {
			e.SumValue, rest, err = encoding.ReadInt64(rest)
		}
	case TagSumItem:
		e.SumValue, rest, err = encoding.ReadInt64(rest)
	case TagReference:
		e.RefPathType, rest, err = DecodeReferencePathType(rest)
		if err == nil {
			e.MaxHop, rest, err = encoding.ReadUint8(rest)
		}
	case TagTree:
		e.ChildRootKey, rest, err = decodeOptionalKey(rest)
	case TagSumTree:
		e.ChildRootKey, rest, err = decodeOptionalKey(rest)
		if err == nil {
			e.Sum, rest, err = encoding.ReadInt64(rest)
		}
	case TagBigSumTree:
		e.ChildRootKey, rest, err = decodeOptionalKey(rest)
		if err == nil {
			e.BigSumHi, e.BigSumLo, rest, err = encoding.ReadInt128(rest)
		}
	case TagCountTree:
		e.ChildRootKey, rest, err = decodeOptionalKey(rest)
		if err == nil {
			e.Count, rest, err = encoding.ReadUint64(rest)
		}
	case TagCountSumTree, TagProvableCountSumTree:
		e.ChildRootKey, rest, err = decodeOptionalKey(rest)
		if err == nil {
			e.Count, rest, err = encoding.ReadUint64(rest)
		}
		if err == nil {
			e.Sum, rest, err = encoding.ReadInt64(rest)
		}
	case TagProvableCountTree:
		e.ChildRootKey, rest, err = decodeOptionalKey(rest)
		if err == nil {
			e.Count, rest, err = encoding.ReadUint64(rest)
		}
	default:
		if e.Tag < TagNonMerkBase || e.Tag > TagNonMerkBase+3 {
			return nil, fmt.Errorf("element: unknown tag %d", tagByte)
		}
		// non-Merk tag: only flags follow.
	}
	if err != nil {
		return nil, fmt.Errorf("element: decoding tag %d payload: %w", tagByte, err)
	}
	e.Flags, _, err = encoding.ReadVarintData(rest)
	if err != nil {
		return nil, fmt.Errorf("element: decoding flags: %w", err)
	}
	return e, nil
}
