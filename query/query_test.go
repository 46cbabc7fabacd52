package query

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

func mustInsert(t *testing.T, g *grove.Grove, p grove.Path, key string, el *element.Element) {
	t.Helper()
	_, err := g.Insert(p, []byte(key), el)
	require.NoError(t, err)
}

func TestNewQueryRejectsOverlappingItems(t *testing.T) {
	_, err := NewQuery([]QueryItem{
		RangeTo([]byte("m")),
		Range([]byte("c"), []byte("z")),
	}, true)
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestNewQueryAcceptsAdjacentNonOverlappingItems(t *testing.T) {
	q, err := NewQuery([]QueryItem{
		RangeTo([]byte("m")),
		RangeFrom([]byte("m")),
	}, true)
	require.NoError(t, err)
	require.Len(t, q.Items, 2)
}

func TestExecuteRangeItem(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	mustInsert(t, g, root, "a", element.NewItem([]byte("1"), nil))
	mustInsert(t, g, root, "b", element.NewItem([]byte("2"), nil))
	mustInsert(t, g, root, "c", element.NewItem([]byte("3"), nil))

	q, err := NewQuery([]QueryItem{Range([]byte("a"), []byte("c"))}, true)
	require.NoError(t, err)

	e := NewExecutor(g)
	results, _, err := e.Execute(PathQuery{Path: root, Sized: SizedQuery{Query: q}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []byte("a"), results[0].Key)
	require.Equal(t, []byte("b"), results[1].Key)
}

func TestExecuteRespectsLimitAndOffset(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	for _, k := range []string{"a", "b", "c", "d"} {
		mustInsert(t, g, root, k, element.NewItem([]byte(k), nil))
	}

	q, err := NewQuery([]QueryItem{RangeFull()}, true)
	require.NoError(t, err)

	limit := uint64(2)
	offset := uint64(1)
	e := NewExecutor(g)
	results, _, err := e.Execute(PathQuery{Path: root, Sized: SizedQuery{Query: q, Limit: &limit, Offset: &offset}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []byte("b"), results[0].Key)
	require.Equal(t, []byte("c"), results[1].Key)
}

func TestExecuteDefaultSubqueryBranchDescendsIntoChild(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	mustInsert(t, g, root, "group1", element.NewTree(nil, nil))
	group1 := root.Append([]byte("group1"))
	mustInsert(t, g, group1, "x", element.NewItem([]byte("vx"), nil))
	mustInsert(t, g, group1, "y", element.NewItem([]byte("vy"), nil))

	inner, err := NewQuery([]QueryItem{RangeFull()}, true)
	require.NoError(t, err)

	outer, err := NewQuery([]QueryItem{RangeFull()}, true)
	require.NoError(t, err)
	outer.DefaultSubqueryBranch = &SubqueryBranch{Subquery: inner}

	e := NewExecutor(g)
	results, _, err := e.Execute(PathQuery{Path: root, Sized: SizedQuery{Query: outer}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []byte("x"), results[0].Key)
	require.Equal(t, []byte("y"), results[1].Key)
}

func TestExecuteAddParentTreeOnSubqueryIncludesParent(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	mustInsert(t, g, root, "group1", element.NewTree(nil, nil))
	group1 := root.Append([]byte("group1"))
	mustInsert(t, g, group1, "x", element.NewItem([]byte("vx"), nil))

	inner, err := NewQuery([]QueryItem{RangeFull()}, true)
	require.NoError(t, err)

	outer, err := NewQuery([]QueryItem{RangeFull()}, true)
	require.NoError(t, err)
	outer.DefaultSubqueryBranch = &SubqueryBranch{Subquery: inner}
	outer.AddParentTreeOnSubquery = true

	e := NewExecutor(g)
	results, _, err := e.Execute(PathQuery{Path: root, Sized: SizedQuery{Query: outer}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []byte("group1"), results[0].Key)
	require.True(t, results[0].El.IsTreeLike())
	require.Equal(t, []byte("x"), results[1].Key)
}

func TestExecuteConditionalBranchOverridesDefault(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	mustInsert(t, g, root, "group1", element.NewTree(nil, nil))
	mustInsert(t, g, root, "group2", element.NewTree(nil, nil))
	group1 := root.Append([]byte("group1"))
	group2 := root.Append([]byte("group2"))
	mustInsert(t, g, group1, "only-in-1", element.NewItem([]byte("v1"), nil))
	mustInsert(t, g, group2, "only-in-2", element.NewItem([]byte("v2"), nil))

	defaultInner, err := NewQuery([]QueryItem{Key([]byte("only-in-2"))}, true)
	require.NoError(t, err)
	conditionalInner, err := NewQuery([]QueryItem{Key([]byte("only-in-1"))}, true)
	require.NoError(t, err)

	outer, err := NewQuery([]QueryItem{Key([]byte("group1")), Key([]byte("group2"))}, true)
	require.NoError(t, err)
	outer.DefaultSubqueryBranch = &SubqueryBranch{Subquery: defaultInner}
	require.NoError(t, outer.SetConditionalBranch(Key([]byte("group1")), SubqueryBranch{Subquery: conditionalInner}))

	e := NewExecutor(g)
	results, _, err := e.Execute(PathQuery{Path: root, Sized: SizedQuery{Query: outer}})
	require.NoError(t, err)
	require.Len(t, results, 2, "group1's conditional branch should run instead of the default")
	require.Equal(t, []byte("only-in-1"), results[0].Key)
	require.Equal(t, []byte("only-in-2"), results[1].Key)
}

func TestExecuteSubqueryPathSelectsSingleChild(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	mustInsert(t, g, root, "group1", element.NewTree(nil, nil))
	group1 := root.Append([]byte("group1"))
	mustInsert(t, g, group1, "first", element.NewItem([]byte("picked"), nil))
	mustInsert(t, g, group1, "second", element.NewItem([]byte("not-picked"), nil))

	outer, err := NewQuery([]QueryItem{RangeFull()}, true)
	require.NoError(t, err)
	outer.DefaultSubqueryBranch = &SubqueryBranch{SubqueryPath: [][]byte{[]byte("first")}}

	e := NewExecutor(g)
	results, _, err := e.Execute(PathQuery{Path: root, Sized: SizedQuery{Query: outer}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, []byte("first"), results[0].Key)
	require.Equal(t, []byte("picked"), results[0].El.ItemBytes)
}
