package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/grove"
	"github.com/dapperlabs/grovedb/groveutil"
)

func openTestGrove(t *testing.T) *grove.Grove {
	return groveutil.OpenGrove(t)
}

func TestApplyInsertsAcrossSubtreesInOneBatch(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	p := NewProcessor(g)

	ops := []QualifiedOp{
		{Path: root, Key: []byte("tree-a"), Kind: OpInsert, Element: element.NewTree(nil, nil)},
	}
	_, err := p.Apply(ops)
	require.NoError(t, err)

	childA := root.Append([]byte("tree-a"))
	ops = []QualifiedOp{
		{Path: childA, Key: []byte("x"), Kind: OpInsert, Element: element.NewItem([]byte("1"), nil)},
		{Path: childA, Key: []byte("y"), Kind: OpInsert, Element: element.NewItem([]byte("2"), nil)},
	}
	_, err = p.Apply(ops)
	require.NoError(t, err)

	v, _, err := g.Get(childA, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v.ItemBytes)

	portal, _, err := g.Get(root, []byte("tree-a"))
	require.NoError(t, err)
	require.True(t, portal.IsTreeLike())
	require.NotNil(t, portal.ChildRootKey)
}

func TestApplyTouchesSharedAncestorOnceForMultipleChildren(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	p := NewProcessor(g)

	_, err := p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("a"), Kind: OpInsert, Element: element.NewTree(nil, nil)},
		{Path: root, Key: []byte("b"), Kind: OpInsert, Element: element.NewTree(nil, nil)},
	})
	require.NoError(t, err)

	childA := root.Append([]byte("a"))
	childB := root.Append([]byte("b"))

	_, err = p.Apply([]QualifiedOp{
		{Path: childA, Key: []byte("k1"), Kind: OpInsert, Element: element.NewItem([]byte("v1"), nil)},
		{Path: childB, Key: []byte("k2"), Kind: OpInsert, Element: element.NewItem([]byte("v2"), nil)},
	})
	require.NoError(t, err)

	portalA, _, err := g.Get(root, []byte("a"))
	require.NoError(t, err)
	portalB, _, err := g.Get(root, []byte("b"))
	require.NoError(t, err)
	require.NotNil(t, portalA.ChildRootKey)
	require.NotNil(t, portalB.ChildRootKey)

	hashA, _, err := g.RootHash(childA)
	require.NoError(t, err)
	hashB, _, err := g.RootHash(childB)
	require.NoError(t, err)
	require.False(t, hashA.IsNull())
	require.False(t, hashB.IsNull())
}

func TestApplyRejectsInsertOnlyOnExistingKey(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	p := NewProcessor(g)

	_, err := p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("k"), Kind: OpInsert, Element: element.NewItem([]byte("1"), nil)},
	})
	require.NoError(t, err)

	_, err = p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("k"), Kind: OpInsertOnly, Element: element.NewItem([]byte("2"), nil)},
	})
	require.ErrorIs(t, err, grove.ErrInsertOnlyExists)

	v, _, err := g.Get(root, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v.ItemBytes, "a rejected batch must not have written anything")
}

func TestApplyRejectsDuplicateKeyInSameBatch(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	p := NewProcessor(g)

	_, err := p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("k"), Kind: OpInsert, Element: element.NewItem([]byte("1"), nil)},
		{Path: root, Key: []byte("k"), Kind: OpInsert, Element: element.NewItem([]byte("2"), nil)},
	})
	require.Error(t, err)

	_, _, err = g.Get(root, []byte("k"))
	require.ErrorIs(t, err, grove.ErrNotFound)
}

func TestApplyDeleteRequiresExistingElement(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	p := NewProcessor(g)

	_, err := p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("nope"), Kind: OpDelete},
	})
	require.ErrorIs(t, err, grove.ErrNotFound)
}

func TestApplyDeleteTreeValidatesTreeKind(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	p := NewProcessor(g)

	_, err := p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("t"), Kind: OpInsert, Element: element.NewTree(nil, nil)},
	})
	require.NoError(t, err)

	_, err = p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("t"), Kind: OpDeleteTree, TreeKind: element.TagSumTree},
	})
	require.ErrorIs(t, err, grove.ErrWrongElementType)

	_, err = p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("t"), Kind: OpDeleteTree, TreeKind: element.TagTree},
	})
	require.NoError(t, err)

	_, _, err = g.Get(root, []byte("t"))
	require.ErrorIs(t, err, grove.ErrNotFound)
}

func TestApplyRefreshReferenceRebindsTarget(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	p := NewProcessor(g)

	_, err := p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("a"), Kind: OpInsert, Element: element.NewItem([]byte("va"), nil)},
		{Path: root, Key: []byte("b"), Kind: OpInsert, Element: element.NewItem([]byte("vb"), nil)},
	})
	require.NoError(t, err)

	ref := element.NewReference(element.ReferencePathType{
		Tag:          element.RefAbsolute,
		AbsolutePath: [][]byte{[]byte("a")},
	}, 0, nil)
	_, err = p.Apply([]QualifiedOp{{Path: root, Key: []byte("r"), Kind: OpInsert, Element: ref}})
	require.NoError(t, err)

	resolved, _, err := g.Get(root, []byte("r"))
	require.NoError(t, err)
	require.Equal(t, []byte("va"), resolved.ItemBytes)

	refToB := element.NewReference(element.ReferencePathType{
		Tag:          element.RefAbsolute,
		AbsolutePath: [][]byte{[]byte("b")},
	}, 0, nil)
	_, err = p.Apply([]QualifiedOp{{Path: root, Key: []byte("r"), Kind: OpRefreshReference, Element: refToB}})
	require.NoError(t, err)

	resolved, _, err = g.Get(root, []byte("r"))
	require.NoError(t, err)
	require.Equal(t, []byte("vb"), resolved.ItemBytes)
}

func TestApplyRefreshReferenceFailsOnMissingTargetWithoutTrust(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	p := NewProcessor(g)

	_, err := p.Apply([]QualifiedOp{
		{Path: root, Key: []byte("a"), Kind: OpInsert, Element: element.NewItem([]byte("va"), nil)},
	})
	require.NoError(t, err)

	ref := element.NewReference(element.ReferencePathType{Tag: element.RefAbsolute, AbsolutePath: [][]byte{[]byte("a")}}, 0, nil)
	_, err = p.Apply([]QualifiedOp{{Path: root, Key: []byte("r"), Kind: OpInsert, Element: ref}})
	require.NoError(t, err)

	refToMissing := element.NewReference(element.ReferencePathType{Tag: element.RefAbsolute, AbsolutePath: [][]byte{[]byte("gone")}}, 0, nil)
	_, err = p.Apply([]QualifiedOp{{Path: root, Key: []byte("r"), Kind: OpRefreshReference, Element: refToMissing}})
	require.Error(t, err)
}

func TestApplyThreeLevelPropagationTouchesEachAncestorOnce(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	p := NewProcessor(g)

	_, err := p.Apply([]QualifiedOp{{Path: root, Key: []byte("mid"), Kind: OpInsert, Element: element.NewTree(nil, nil)}})
	require.NoError(t, err)
	mid := root.Append([]byte("mid"))

	_, err = p.Apply([]QualifiedOp{{Path: mid, Key: []byte("leaf"), Kind: OpInsert, Element: element.NewTree(nil, nil)}})
	require.NoError(t, err)
	leaf := mid.Append([]byte("leaf"))

	rootBefore, _, err := g.RootHash(root)
	require.NoError(t, err)

	_, err = p.Apply([]QualifiedOp{{Path: leaf, Key: []byte("v"), Kind: OpInsert, Element: element.NewItem([]byte("1"), nil)}})
	require.NoError(t, err)

	rootAfter, _, err := g.RootHash(root)
	require.NoError(t, err)
	require.NotEqual(t, rootBefore, rootAfter, "a leaf-level mutation must propagate all the way to the grove root")
}
