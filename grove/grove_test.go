package grove

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dapperlabs/grovedb/element"
)

func openTestGrove(t *testing.T) *Grove {
	t.Helper()
	g, err := Open(t.TempDir(), 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestInsertGetRootItem(t *testing.T) {
	g := openTestGrove(t)
	root := Path{}

	_, err := g.Insert(root, []byte("k1"), element.NewItem([]byte("hello"), nil))
	require.NoError(t, err)

	el, _, err := g.Get(root, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, element.TagItem, el.Tag)
	require.Equal(t, []byte("hello"), el.ItemBytes)
}

func TestInsertGetMissingKey(t *testing.T) {
	g := openTestGrove(t)
	_, _, err := g.Get(Path{}, []byte("nope"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNestedSubtreePortal(t *testing.T) {
	g := openTestGrove(t)
	root := Path{}

	_, err := g.Insert(root, []byte("subtree"), element.NewTree(nil, nil))
	require.NoError(t, err)

	child := root.Append([]byte("subtree"))
	_, err = g.Insert(child, []byte("a"), element.NewItem([]byte("1"), nil))
	require.NoError(t, err)
	_, err = g.Insert(child, []byte("b"), element.NewItem([]byte("2"), nil))
	require.NoError(t, err)

	v, _, err := g.Get(child, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v.ItemBytes)

	portal, _, err := g.Get(root, []byte("subtree"))
	require.NoError(t, err)
	require.True(t, portal.IsTreeLike())
	require.NotNil(t, portal.ChildRootKey)

	childHash, _, err := g.RootHash(child)
	require.NoError(t, err)
	require.False(t, childHash.IsNull())
}

func TestRootHashChangesAfterChildMutation(t *testing.T) {
	g := openTestGrove(t)
	root := Path{}
	_, err := g.Insert(root, []byte("subtree"), element.NewTree(nil, nil))
	require.NoError(t, err)

	child := root.Append([]byte("subtree"))
	before, _, err := g.RootHash(root)
	require.NoError(t, err)

	_, err = g.Insert(child, []byte("a"), element.NewItem([]byte("1"), nil))
	require.NoError(t, err)

	after, _, err := g.RootHash(root)
	require.NoError(t, err)
	require.NotEqual(t, before, after, "root hash must change after a descendant mutation propagates")
}

func TestDeleteRefusesNonEmptyTree(t *testing.T) {
	g := openTestGrove(t)
	root := Path{}
	_, err := g.Insert(root, []byte("subtree"), element.NewTree(nil, nil))
	require.NoError(t, err)
	child := root.Append([]byte("subtree"))
	_, err = g.Insert(child, []byte("a"), element.NewItem([]byte("1"), nil))
	require.NoError(t, err)

	_, err = g.Delete(root, []byte("subtree"))
	require.ErrorIs(t, err, ErrTreeNotEmpty)
}

func TestDeleteTreeRecursiveRemovesEverything(t *testing.T) {
	g := openTestGrove(t)
	root := Path{}
	_, err := g.Insert(root, []byte("subtree"), element.NewTree(nil, nil))
	require.NoError(t, err)
	child := root.Append([]byte("subtree"))
	_, err = g.Insert(child, []byte("a"), element.NewItem([]byte("1"), nil))
	require.NoError(t, err)

	_, err = g.DeleteTreeRecursive(root, []byte("subtree"))
	require.NoError(t, err)

	_, _, err = g.Get(root, []byte("subtree"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReferenceResolvesToTarget(t *testing.T) {
	g := openTestGrove(t)
	root := Path{}
	_, err := g.Insert(root, []byte("a"), element.NewItem([]byte("real value"), nil))
	require.NoError(t, err)

	ref := element.NewReference(element.ReferencePathType{
		Tag:          element.RefAbsolute,
		AbsolutePath: [][]byte{[]byte("a")},
	}, 0, nil)
	_, err = g.Insert(root, []byte("b"), ref)
	require.NoError(t, err)

	resolved, _, err := g.Get(root, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, element.TagItem, resolved.Tag)
	require.Equal(t, []byte("real value"), resolved.ItemBytes)
}

func TestReferenceCycleDetected(t *testing.T) {
	g := openTestGrove(t)
	root := Path{}

	refToB := element.NewReference(element.ReferencePathType{Tag: element.RefAbsolute, AbsolutePath: [][]byte{[]byte("b")}}, 0, nil)
	_, err := g.Insert(root, []byte("a"), refToB)
	require.NoError(t, err)

	refToA := element.NewReference(element.ReferencePathType{Tag: element.RefAbsolute, AbsolutePath: [][]byte{[]byte("a")}}, 0, nil)
	_, err = g.Insert(root, []byte("b"), refToA)
	require.NoError(t, err)

	_, _, err = g.Get(root, []byte("a"))
	require.ErrorIs(t, err, ErrCyclicReference)
}

func TestSumTreeAggregatePropagates(t *testing.T) {
	g := openTestGrove(t)
	root := Path{}
	sumTree := &element.Element{Tag: element.TagSumTree}
	_, err := g.Insert(root, []byte("totals"), sumTree)
	require.NoError(t, err)

	child := root.Append([]byte("totals"))
	_, err = g.Insert(child, []byte("x"), element.NewSumItem(10, nil))
	require.NoError(t, err)
	_, err = g.Insert(child, []byte("y"), element.NewSumItem(25, nil))
	require.NoError(t, err)

	agg, _, err := g.Aggregate(child)
	require.NoError(t, err)
	require.Equal(t, int64(35), agg.Sum)

	portal, _, err := g.Get(root, []byte("totals"))
	require.NoError(t, err)
	require.Equal(t, int64(35), portal.Sum)
}
