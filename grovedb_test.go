package grovedb

import (
	"testing"

	"github.com/stretchr/testify/require"

	badger "github.com/dgraph-io/badger/v2"

	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/grove"
	"github.com/dapperlabs/grovedb/grove/batch"
	"github.com/dapperlabs/grovedb/query"
)

func openTestDB(t *testing.T) *GroveDB {
	t.Helper()
	db, err := Open(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenStampsVersionOnFreshStore(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(Options{Dir: dir})
	require.NoError(t, err, "reopening a store this package itself stamped must succeed")
	require.NoError(t, db2.Close())
}

func TestOpenRejectsMismatchedVersion(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Options{Dir: dir})
	require.NoError(t, err)

	eng := db.Grove().Engine()
	require.NoError(t, eng.Update(func(txn *badger.Txn) error {
		return eng.PutMeta(txn, versionMetaKey, []byte{currentVersion + 1})
	}))
	require.NoError(t, db.Close())

	_, err = Open(Options{Dir: dir})
	require.Error(t, err)
	require.Equal(t, NotSupported, ClassifyError(err))
}

func TestInsertGetDeleteRoundTrip(t *testing.T) {
	db := openTestDB(t)
	root := grove.Path{}

	require.NoError(t, db.Insert(root, []byte("a"), element.NewItem([]byte("1"), nil)))

	got, err := db.Get(root, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got.ItemBytes)

	require.NoError(t, db.Delete(root, []byte("a")))
	_, err = db.Get(root, []byte("a"))
	require.Equal(t, NotFound, ClassifyError(err))
}

func TestApplyAndProveRoundTrip(t *testing.T) {
	db := openTestDB(t)
	root := grove.Path{}

	require.NoError(t, db.Apply([]batch.QualifiedOp{
		{Path: root, Key: []byte("a"), Kind: batch.OpInsert, Element: element.NewItem([]byte("1"), nil)},
		{Path: root, Key: []byte("b"), Kind: batch.OpInsert, Element: element.NewItem([]byte("2"), nil)},
	}))

	lp, err := db.ProveElement(root, []byte("a"))
	require.NoError(t, err)

	el, err := db.VerifyElement(lp, root, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), el.ItemBytes)
}

func TestQueryReturnsRangeResults(t *testing.T) {
	db := openTestDB(t)
	root := grove.Path{}
	require.NoError(t, db.Insert(root, []byte("a"), element.NewItem([]byte("1"), nil)))
	require.NoError(t, db.Insert(root, []byte("b"), element.NewItem([]byte("2"), nil)))

	q, err := query.NewQuery([]query.QueryItem{query.RangeFull()}, true)
	require.NoError(t, err)

	results, err := db.Query(query.PathQuery{Path: root, Sized: query.SizedQuery{Query: q}})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestClassifyErrorMapsWrongElementType(t *testing.T) {
	db := openTestDB(t)
	root := grove.Path{}
	require.NoError(t, db.Insert(root, []byte("t"), element.NewTree(nil, nil)))

	err := db.Apply([]batch.QualifiedOp{
		{Path: root, Key: []byte("t"), Kind: batch.OpDelete},
	})
	require.Error(t, err)
	require.Equal(t, WrongElementType, ClassifyError(err))
}
