package element

import (
	"fmt"

	"github.com/dapperlabs/grovedb/encoding"
)

// ReferencePathTypeTag discriminates the seven reference path forms of
// spec.md §3. The set is closed, so it is a tagged union rather than an
// interface (spec.md §9 "Dynamic dispatch").
type ReferencePathTypeTag uint8

const (
	RefAbsolute ReferencePathTypeTag = iota
	RefUpstreamRootHeight
	RefUpstreamRootHeightWithParentAddition
	RefUpstreamFromElementHeight
	RefCousin
	RefRemovedCousin
	RefSibling
)

// ReferencePathType is one of the seven reference-resolution forms.
// Exactly the fields relevant to Tag are meaningful.
type ReferencePathType struct {
	Tag ReferencePathTypeTag

	AbsolutePath [][]byte // RefAbsolute

	Height    uint32   // RefUpstreamRootHeight, RefUpstreamRootHeightWithParentAddition, RefUpstreamFromElementHeight
	Extension [][]byte // same three

	NewParent []byte   // RefCousin
	NewTail   [][]byte // RefRemovedCousin
	NewKey    []byte   // RefSibling
}

// Resolve computes the absolute target path given the reference's own
// qualified path (spec.md §3). currentPath is parentPath ++ [key], i.e.
// the reference element's own location.
func (r ReferencePathType) Resolve(currentPath [][]byte) ([][]byte, error) {
	switch r.Tag {
	case RefAbsolute:
		return cloneSegments(r.AbsolutePath), nil

	case RefUpstreamRootHeight:
		if int(r.Height) > len(currentPath) {
			return nil, fmt.Errorf("element: UpstreamRootHeight(%d) exceeds path length %d", r.Height, len(currentPath))
		}
		out := cloneSegments(currentPath[:r.Height])
		return append(out, cloneSegments(r.Extension)...), nil

	case RefUpstreamRootHeightWithParentAddition:
		if int(r.Height) > len(currentPath) || len(currentPath) == 0 {
			return nil, fmt.Errorf("element: UpstreamRootHeightWithParentAddition(%d) exceeds path length %d", r.Height, len(currentPath))
		}
		out := cloneSegments(currentPath[:r.Height])
		out = append(out, cloneSegments(r.Extension)...)
		out = append(out, cloneSegment(currentPath[len(currentPath)-1]))
		return out, nil

	case RefUpstreamFromElementHeight:
		if int(r.Height) > len(currentPath) {
			return nil, fmt.Errorf("element: UpstreamFromElementHeight(%d) exceeds path length %d", r.Height, len(currentPath))
		}
		kept := currentPath[:len(currentPath)-int(r.Height)]
		out := cloneSegments(kept)
		return append(out, cloneSegments(r.Extension)...), nil

	case RefCousin:
		// Replaces the parent subtree's last segment with NewParent and
		// keeps the reference's own key.
		if len(currentPath) < 2 {
			return nil, fmt.Errorf("element: Cousin requires a path of at least two segments")
		}
		out := cloneSegments(currentPath[:len(currentPath)-2])
		out = append(out, cloneSegment(r.NewParent))
		return append(out, cloneSegment(currentPath[len(currentPath)-1])), nil

	case RefRemovedCousin:
		// Drops the parent subtree's last segment and the key, then
		// appends NewTail.
		if len(currentPath) < 2 {
			return nil, fmt.Errorf("element: RemovedCousin requires a path of at least two segments")
		}
		out := cloneSegments(currentPath[:len(currentPath)-2])
		return append(out, cloneSegments(r.NewTail)...), nil

	case RefSibling:
		// Keeps the parent path; the effective target *key* changes, so
		// the caller (grove) is expected to treat the last segment of the
		// returned path as the new key within the same parent subtree.
		if len(currentPath) == 0 {
			return nil, fmt.Errorf("element: Sibling requires a non-empty path")
		}
		out := cloneSegments(currentPath[:len(currentPath)-1])
		return append(out, cloneSegment(r.NewKey)), nil

	default:
		return nil, fmt.Errorf("element: unknown reference path type tag %d", r.Tag)
	}
}

func cloneSegment(s []byte) []byte {
	out := make([]byte, len(s))
	copy(out, s)
	return out
}

func cloneSegments(segs [][]byte) [][]byte {
	out := make([][]byte, len(segs))
	for i, s := range segs {
		out[i] = cloneSegment(s)
	}
	return out
}

func appendPath(dst []byte, segs [][]byte) []byte {
	dst = encoding.AppendUint32(dst, uint32(len(segs)))
	for _, s := range segs {
		dst = encoding.AppendVarintData(dst, s)
	}
	return dst
}

func readPath(in []byte) (segs [][]byte, rest []byte, err error) {
	count, rest, err := encoding.ReadUint32(in)
	if err != nil {
		return nil, in, err
	}
	segs = make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		var seg []byte
		seg, rest, err = encoding.ReadVarintData(rest)
		if err != nil {
			return nil, in, err
		}
		segs = append(segs, seg)
	}
	return segs, rest, nil
}

// EncodeReferencePathType appends the wire form of a ReferencePathType.
func EncodeReferencePathType(dst []byte, r ReferencePathType) []byte {
	dst = encoding.AppendUint8(dst, uint8(r.Tag))
	switch r.Tag {
	case RefAbsolute:
		dst = appendPath(dst, r.AbsolutePath)
	case RefUpstreamRootHeight, RefUpstreamRootHeightWithParentAddition, RefUpstreamFromElementHeight:
		dst = encoding.AppendUint32(dst, r.Height)
		dst = appendPath(dst, r.Extension)
	case RefCousin:
		dst = encoding.AppendVarintData(dst, r.NewParent)
	case RefRemovedCousin:
		dst = appendPath(dst, r.NewTail)
	case RefSibling:
		dst = encoding.AppendVarintData(dst, r.NewKey)
	}
	return dst
}

// DecodeReferencePathType parses the wire form produced by
// EncodeReferencePathType.
func DecodeReferencePathType(in []byte) (ReferencePathType, []byte, error) {
	tagByte, rest, err := encoding.ReadUint8(in)
	if err != nil {
		return ReferencePathType{}, in, err
	}
	r := ReferencePathType{Tag: ReferencePathTypeTag(tagByte)}
	switch r.Tag {
	case RefAbsolute:
		r.AbsolutePath, rest, err = readPath(rest)
	case RefUpstreamRootHeight, RefUpstreamRootHeightWithParentAddition, RefUpstreamFromElementHeight:
		r.Height, rest, err = encoding.ReadUint32(rest)
		if err == nil {
			r.Extension, rest, err = readPath(rest)
		}
	case RefCousin:
		r.NewParent, rest, err = encoding.ReadVarintData(rest)
	case RefRemovedCousin:
		r.NewTail, rest, err = readPath(rest)
	case RefSibling:
		r.NewKey, rest, err = encoding.ReadVarintData(rest)
	default:
		return ReferencePathType{}, in, fmt.Errorf("element: unknown reference path tag %d", tagByte)
	}
	if err != nil {
		return ReferencePathType{}, in, err
	}
	return r, rest, nil
}
