package merk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/element"
)

// memStore is an in-memory NodeWriter + Fetch backing, standing in for the
// storage-context adapter so the Merk engine can be exercised end to end
// (commit, reopen, fetch) without a real storage backend.
type memStore struct {
	nodes map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{nodes: make(map[string][]byte)}
}

func (m *memStore) WriteNode(key []byte, encoded []byte) error {
	buf := make([]byte, len(encoded))
	copy(buf, encoded)
	m.nodes[string(key)] = buf
	return nil
}

func (m *memStore) DeleteNode(key []byte) error {
	delete(m.nodes, string(key))
	return nil
}

func (m *memStore) FetchNode(key []byte) (*Node, cost.Context, error) {
	raw, ok := m.nodes[string(key)]
	if !ok {
		return nil, cost.Context{}, errKeyNotFound
	}
	n, err := DecodeNode(key, raw)
	if err != nil {
		return nil, cost.Context{}, err
	}
	var c cost.Context
	c.StorageLoaded = uint64(len(raw))
	return n, c, nil
}

func (m *memStore) CostForValue(value []byte) *cost.Context { return nil }

func putOp(key string, value string) KeyedOp {
	return KeyedOp{Key: []byte(key), Op: Op{Kind: OpPut, Value: []byte(value)}}
}

func deleteOp(key string) KeyedOp {
	return KeyedOp{Key: []byte(key), Op: Op{Kind: OpDelete}}
}

func TestApplyBuildsEmptyTree(t *testing.T) {
	store := newMemStore()
	tree := NewTree(store)

	batch := []KeyedOp{
		putOp("a", "1"),
		putOp("b", "2"),
		putOp("c", "3"),
		putOp("d", "4"),
		putOp("e", "5"),
	}
	_, err := tree.Apply(batch)
	require.NoError(t, err)

	for _, kv := range batch {
		v, _, err := tree.Get(kv.Key)
		require.NoError(t, err)
		require.Equal(t, kv.Op.Value, v)
	}

	_, err = tree.Get([]byte("zzz"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestApplyUpdateAndDeleteOnNonEmptyTree(t *testing.T) {
	store := newMemStore()
	tree := NewTree(store)

	_, err := tree.Apply([]KeyedOp{
		putOp("a", "1"), putOp("b", "2"), putOp("c", "3"), putOp("d", "4"),
	})
	require.NoError(t, err)

	_, err = tree.Apply([]KeyedOp{
		putOp("b", "22"),
		deleteOp("c"),
		putOp("e", "5"),
	})
	require.NoError(t, err)

	v, _, err := tree.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("22"), v)

	_, _, err = tree.Get([]byte("c"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	v, _, err = tree.Get([]byte("e"))
	require.NoError(t, err)
	require.Equal(t, []byte("5"), v)
}

func TestCommitAndReopenPreservesRootHash(t *testing.T) {
	store := newMemStore()
	tree := NewTree(store)

	_, err := tree.Apply([]KeyedOp{
		putOp("a", "1"), putOp("b", "2"), putOp("c", "3"), putOp("d", "4"), putOp("e", "5"),
	})
	require.NoError(t, err)

	_, err = tree.Commit(store)
	require.NoError(t, err)
	tree.MarkLoaded()

	wantHash := tree.RootHash()
	wantAgg := tree.Aggregate()
	rootKey := tree.RootKey()
	require.NotNil(t, rootKey)

	reopened, _, err := OpenTree(store, rootKey)
	require.NoError(t, err)
	require.Equal(t, wantHash, reopened.RootHash())
	require.Equal(t, wantAgg, reopened.Aggregate())

	v, _, err := reopened.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), v)
}

func TestApplyRejectsUnsortedBatch(t *testing.T) {
	tree := NewTree(newMemStore())
	_, err := tree.Apply([]KeyedOp{putOp("b", "1"), putOp("a", "2")})
	require.ErrorIs(t, err, errBatchUnsorted)
}

func TestRangeAscendingAndDescending(t *testing.T) {
	store := newMemStore()
	tree := NewTree(store)
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	batch := make([]KeyedOp, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, putOp(k, k+k))
	}
	_, err := tree.Apply(batch)
	require.NoError(t, err)

	var seen []string
	_, err = tree.Range(Bounds{Lower: []byte("b"), Upper: []byte("f")}, true, func(k, v []byte) (bool, error) {
		seen = append(seen, string(k))
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "d", "e", "f"}, seen)

	seen = nil
	_, err = tree.Range(Bounds{Lower: []byte("b"), Upper: []byte("f"), UpperExclude: true}, false, func(k, v []byte) (bool, error) {
		seen = append(seen, string(k))
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"e", "d", "c", "b"}, seen)
}

func TestRangeStopsEarly(t *testing.T) {
	store := newMemStore()
	tree := NewTree(store)
	batch := []KeyedOp{putOp("a", "1"), putOp("b", "2"), putOp("c", "3"), putOp("d", "4")}
	_, err := tree.Apply(batch)
	require.NoError(t, err)

	var seen []string
	_, err = tree.Range(Bounds{}, true, func(k, v []byte) (bool, error) {
		seen = append(seen, string(k))
		return len(seen) < 2, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
}

func TestProveAndVerifySingleKey(t *testing.T) {
	store := newMemStore()
	tree := NewTree(store)
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	batch := make([]KeyedOp, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, putOp(k, "v-"+k))
	}
	_, err := tree.Apply(batch)
	require.NoError(t, err)
	_, err = tree.Commit(store)
	require.NoError(t, err)
	tree.MarkLoaded()

	ops, _, err := tree.Prove([]Bounds{{Lower: []byte("d"), Upper: []byte("d")}})
	require.NoError(t, err)
	require.NotEmpty(t, ops)

	root, results, err := VerifyProof(ops)
	require.NoError(t, err)
	require.Equal(t, tree.RootHash(), root)
	require.Len(t, results, 1)
	require.Equal(t, []byte("d"), results[0].Key)
	require.Equal(t, []byte("v-d"), results[0].Value)
}

func TestProveAndVerifyRange(t *testing.T) {
	store := newMemStore()
	tree := NewTree(store)
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	batch := make([]KeyedOp, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, putOp(k, "v-"+k))
	}
	_, err := tree.Apply(batch)
	require.NoError(t, err)
	_, err = tree.Commit(store)
	require.NoError(t, err)
	tree.MarkLoaded()

	ops, _, err := tree.Prove([]Bounds{{Lower: []byte("c"), Upper: []byte("f")}})
	require.NoError(t, err)

	root, results, err := VerifyProof(ops)
	require.NoError(t, err)
	require.Equal(t, tree.RootHash(), root)

	got := make(map[string]string, len(results))
	for _, kv := range results {
		got[string(kv.Key)] = string(kv.Value)
	}
	for _, k := range []string{"c", "d", "e", "f"} {
		require.Equal(t, "v-"+k, got[k], "missing or wrong value for %s", k)
	}
	require.Len(t, got, 4)
}

func TestProveEmptyTree(t *testing.T) {
	tree := NewTree(newMemStore())
	ops, _, err := tree.Prove([]Bounds{{}})
	require.NoError(t, err)
	require.Nil(t, ops)
}

func TestRebalanceKeepsHeightLogarithmic(t *testing.T) {
	store := newMemStore()
	tree := NewTree(store)
	batch := make([]KeyedOp, 0, 100)
	for i := 0; i < 100; i++ {
		batch = append(batch, putOp(fmt.Sprintf("k%03d", i), fmt.Sprintf("v%03d", i)))
	}
	_, err := tree.Apply(batch)
	require.NoError(t, err)

	// Height of a balanced 100-node AVL tree is well under 2*log2(100).
	require.Less(t, int(tree.Height()), 16)

	for i := 0; i < 100; i += 7 {
		_, err := tree.Apply([]KeyedOp{deleteOp(fmt.Sprintf("k%03d", i))})
		require.NoError(t, err)
	}
	require.Less(t, int(tree.Height()), 16)
}

func TestAggregatePropagatesSum(t *testing.T) {
	store := newMemStore()
	tree := NewTree(store)
	batch := []KeyedOp{
		{Key: []byte("a"), Op: Op{Kind: OpPut, Value: []byte("1"), Feature: element.FeatureSum, OwnAggregate: element.Aggregate{Type: element.FeatureSum, Sum: 10}}},
		{Key: []byte("b"), Op: Op{Kind: OpPut, Value: []byte("2"), Feature: element.FeatureSum, OwnAggregate: element.Aggregate{Type: element.FeatureSum, Sum: 20}}},
		{Key: []byte("c"), Op: Op{Kind: OpPut, Value: []byte("3"), Feature: element.FeatureSum, OwnAggregate: element.Aggregate{Type: element.FeatureSum, Sum: 30}}},
	}
	_, err := tree.Apply(batch)
	require.NoError(t, err)
	require.Equal(t, int64(60), tree.Aggregate().Sum)
}
