package proof

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/grove"
	"github.com/dapperlabs/grovedb/groveutil"
	"github.com/dapperlabs/grovedb/query"
)

func openTestGrove(t *testing.T) *grove.Grove {
	return groveutil.OpenGrove(t)
}

func TestProveElementVerifiesAgainstRootHash(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	_, err := g.Insert(root, []byte("a"), element.NewItem([]byte("1"), nil))
	require.NoError(t, err)
	_, err = g.Insert(root, []byte("b"), element.NewItem([]byte("2"), nil))
	require.NoError(t, err)

	rootHash, _, err := g.RootHash(root)
	require.NoError(t, err)

	lp, _, err := ProveElement(g, root, []byte("a"))
	require.NoError(t, err)

	el, err := VerifyElement(lp, rootHash, root, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), el.ItemBytes)
}

func TestVerifyElementRejectsWrongRootHash(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	_, err := g.Insert(root, []byte("a"), element.NewItem([]byte("1"), nil))
	require.NoError(t, err)

	lp, _, err := ProveElement(g, root, []byte("a"))
	require.NoError(t, err)

	var wrong [32]byte
	wrong[0] = 0xFF
	_, err = VerifyElement(lp, wrong, root, []byte("a"))
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestVerifyElementRejectsTamperedProof(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	_, err := g.Insert(root, []byte("a"), element.NewItem([]byte("1"), nil))
	require.NoError(t, err)

	rootHash, _, err := g.RootHash(root)
	require.NoError(t, err)

	lp, _, err := ProveElement(g, root, []byte("a"))
	require.NoError(t, err)
	require.NotEmpty(t, lp.MerkProof)

	for _, op := range lp.MerkProof {
		if op.Node != nil && op.Node.Key != nil {
			op.Node.Value = []byte("tampered")
		}
	}

	_, err = VerifyElement(lp, rootHash, root, []byte("a"))
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestGenerateQueryProducesNestedLayerForSubquery(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	_, err := g.Insert(root, []byte("group1"), element.NewTree(nil, nil))
	require.NoError(t, err)
	group1 := root.Append([]byte("group1"))
	_, err = g.Insert(group1, []byte("x"), element.NewItem([]byte("vx"), nil))
	require.NoError(t, err)
	_, err = g.Insert(group1, []byte("y"), element.NewItem([]byte("vy"), nil))
	require.NoError(t, err)

	inner, err := query.NewQuery([]query.QueryItem{query.RangeFull()}, true)
	require.NoError(t, err)
	outer, err := query.NewQuery([]query.QueryItem{query.Key([]byte("group1"))}, true)
	require.NoError(t, err)
	outer.DefaultSubqueryBranch = &query.SubqueryBranch{Subquery: inner}

	rootHash, _, err := g.RootHash(root)
	require.NoError(t, err)

	lp, _, err := GenerateQuery(g, root, outer)
	require.NoError(t, err)
	require.NotNil(t, lp.Lower)
	require.Contains(t, lp.Lower, lowerKey([]byte("group1")))

	results, err := VerifyQuery(lp, rootHash, root, outer)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []byte("x"), results[0].Key)
	require.Equal(t, []byte("y"), results[1].Key)
}

func TestVerifyQueryRejectsMissingLowerLayer(t *testing.T) {
	g := openTestGrove(t)
	root := grove.Path{}
	_, err := g.Insert(root, []byte("group1"), element.NewTree(nil, nil))
	require.NoError(t, err)
	group1 := root.Append([]byte("group1"))
	_, err = g.Insert(group1, []byte("x"), element.NewItem([]byte("vx"), nil))
	require.NoError(t, err)

	inner, err := query.NewQuery([]query.QueryItem{query.RangeFull()}, true)
	require.NoError(t, err)
	outer, err := query.NewQuery([]query.QueryItem{query.Key([]byte("group1"))}, true)
	require.NoError(t, err)
	outer.DefaultSubqueryBranch = &query.SubqueryBranch{Subquery: inner}

	rootHash, _, err := g.RootHash(root)
	require.NoError(t, err)

	lp, _, err := GenerateQuery(g, root, outer)
	require.NoError(t, err)
	lp.Lower = nil

	_, err = VerifyQuery(lp, rootHash, root, outer)
	require.ErrorIs(t, err, ErrInvalidProof)
}
