package element

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := map[string]*Element{
		"item":             NewItem([]byte("hello"), nil),
		"item with flags":  NewItem([]byte("hello"), Flags([]byte("f1"))),
		"sum item":         NewSumItem(-42, nil),
		"item with sum":    {Tag: TagItemWithSumItem, ItemBytes: []byte("payload"), SumValue: 7},
		"empty tree":       NewTree(nil, nil),
		"populated tree":   NewTree([]byte("root-key"), nil),
		"sum tree":         {Tag: TagSumTree, ChildRootKey: []byte("k"), Sum: 120},
		"big sum tree":     {Tag: TagBigSumTree, ChildRootKey: []byte("k"), BigSumHi: 1, BigSumLo: -2},
		"count tree":       {Tag: TagCountTree, ChildRootKey: []byte("k"), Count: 99},
		"count sum tree":   {Tag: TagCountSumTree, ChildRootKey: []byte("k"), Count: 3, Sum: -9},
		"provable count":   {Tag: TagProvableCountTree, ChildRootKey: []byte("k"), Count: 5},
		"provable count+s": {Tag: TagProvableCountSumTree, ChildRootKey: []byte("k"), Count: 5, Sum: 11},
		"reference absolute": NewReference(ReferencePathType{
			Tag:          RefAbsolute,
			AbsolutePath: [][]byte{[]byte("a"), []byte("b")},
		}, 3, nil),
		"reference sibling": NewReference(ReferencePathType{
			Tag:    RefSibling,
			NewKey: []byte("sib"),
		}, 0, nil),
	}

	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			encoded := Encode(e)
			decoded, err := Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, e.Tag, decoded.Tag)
			require.Equal(t, e.ItemBytes, decoded.ItemBytes)
			require.Equal(t, e.SumValue, decoded.SumValue)
			require.Equal(t, e.ChildRootKey, decoded.ChildRootKey)
			require.Equal(t, e.Sum, decoded.Sum)
			require.Equal(t, e.Count, decoded.Count)
			// re-encoding the decoded value must reproduce the same bytes,
			// since value_hash is computed over this exact encoding.
			require.Equal(t, encoded, Encode(decoded))
		})
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode([]byte{200})
	require.Error(t, err)
}

func TestDecodeRejectsOversized(t *testing.T) {
	big := make([]byte, 200*1024*1024)
	_, err := Decode(big)
	require.Error(t, err)
}

func TestReferencePathResolution(t *testing.T) {
	current := [][]byte{[]byte("users"), []byte("alice"), []byte("profile")}

	abs := ReferencePathType{Tag: RefAbsolute, AbsolutePath: [][]byte{[]byte("data"), []byte("d1")}}
	got, err := abs.Resolve(current)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("data"), []byte("d1")}, got)

	upRoot := ReferencePathType{Tag: RefUpstreamRootHeight, Height: 1, Extension: [][]byte{[]byte("x")}}
	got, err = upRoot.Resolve(current)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("users"), []byte("x")}, got)

	upRootParent := ReferencePathType{Tag: RefUpstreamRootHeightWithParentAddition, Height: 1, Extension: [][]byte{[]byte("x")}}
	got, err = upRootParent.Resolve(current)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("users"), []byte("x"), []byte("profile")}, got)

	fromElem := ReferencePathType{Tag: RefUpstreamFromElementHeight, Height: 1, Extension: [][]byte{[]byte("y")}}
	got, err = fromElem.Resolve(current)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("users"), []byte("alice"), []byte("y")}, got)

	cousin := ReferencePathType{Tag: RefCousin, NewParent: []byte("bob")}
	got, err = cousin.Resolve(current)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("users"), []byte("bob"), []byte("profile")}, got)

	removedCousin := ReferencePathType{Tag: RefRemovedCousin, NewTail: [][]byte{[]byte("z1"), []byte("z2")}}
	got, err = removedCousin.Resolve(current)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("users"), []byte("z1"), []byte("z2")}, got)

	sibling := ReferencePathType{Tag: RefSibling, NewKey: []byte("other")}
	got, err = sibling.Resolve(current)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("users"), []byte("alice"), []byte("other")}, got)
}

func TestReferencePathOutOfRange(t *testing.T) {
	current := [][]byte{[]byte("a")}
	tooDeep := ReferencePathType{Tag: RefUpstreamRootHeight, Height: 5}
	_, err := tooDeep.Resolve(current)
	require.Error(t, err)
}
