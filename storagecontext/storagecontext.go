// Package storagecontext adapts github.com/dgraph-io/badger/v2 to the
// abstract four-namespace, optimistic-transaction storage contract of
// spec.md §6.1, and supplies the merk.Fetch/merk.NodeWriter pair each
// subtree's engine needs. It is grounded on storage/badger/operation's
// makePrefix byte-tagging convention and storage/badger's db.Update/
// db.View transaction-closure style (SPEC_FULL.md §B).
package storagecontext

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v2"

	"github.com/dapperlabs/grovedb/cost"
	"github.com/dapperlabs/grovedb/merk"
)

// Namespace tags the one-byte prefix ahead of a subtree's 32-byte prefix,
// standing in for badger's lack of real column families (spec.md §6.1,
// §6.2).
type Namespace byte

const (
	nsMain  Namespace = 0
	nsAux   Namespace = 1
	nsRoots Namespace = 2
	// nsMeta keys are never subtree-prefixed: they are global.
	nsMeta Namespace = 3
)

// Engine owns the badger handle and the process-wide MerkCache shared by
// every subtree context opened against it (spec.md §5 "Shared
// resources").
type Engine struct {
	db    *badger.DB
	cache *MerkCache
}

// Open opens (creating if absent) a badger store at dir and wraps it with
// a MerkCache of the given size.
func Open(dir string, cacheSize int) (*Engine, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storagecontext: opening badger at %q: %w", dir, err)
	}
	cache, err := NewMerkCache(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("storagecontext: constructing cache: %w", err)
	}
	return &Engine{db: db, cache: cache}, nil
}

// Close releases the underlying badger handle.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Cache exposes the engine's shared MerkCache, e.g. for metrics export.
func (e *Engine) Cache() *MerkCache { return e.cache }

func makeKey(ns Namespace, prefix [32]byte, key []byte) []byte {
	buf := make([]byte, 0, 1+32+len(key))
	buf = append(buf, byte(ns))
	buf = append(buf, prefix[:]...)
	buf = append(buf, key...)
	return buf
}

func makeMetaKey(key []byte) []byte {
	buf := make([]byte, 0, 1+len(key))
	buf = append(buf, byte(nsMeta))
	return append(buf, key...)
}

// Context is a single subtree's view into the store: every key it reads
// or writes is implicitly scoped to Prefix via the namespace+prefix
// layout of spec.md §6.2. It implements merk.Fetch and merk.NodeWriter,
// so a Tree can be opened and committed directly against it.
type Context struct {
	eng    *Engine
	prefix [32]byte
	txn    *badger.Txn
}

// NewContext returns a Context scoped to prefix, operating within txn.
// Callers obtain txn from Engine.Update/View (or compose several
// Contexts within one txn for a cross-subtree batch, spec.md §4.5).
func NewContext(eng *Engine, prefix [32]byte, txn *badger.Txn) *Context {
	return &Context{eng: eng, prefix: prefix, txn: txn}
}

// Update runs fn within a single read-write badger transaction, mapping
// badger's optimistic-concurrency conflict to ErrConflict (spec.md §6.1).
func (e *Engine) Update(fn func(txn *badger.Txn) error) error {
	err := e.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}

// View runs fn within a read-only badger transaction.
func (e *Engine) View(fn func(txn *badger.Txn) error) error {
	return e.db.View(fn)
}

// FetchNode implements merk.Fetch: it consults the MerkCache first, then
// falls back to main[prefix‖key], decoding on a miss (spec.md §6.2).
func (c *Context) FetchNode(key []byte) (*merk.Node, cost.Context, error) {
	var total cost.Context
	if n, ok := c.eng.cache.Get(c.prefix, key); ok {
		return n, total, nil
	}

	item, err := c.txn.Get(makeKey(nsMain, c.prefix, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, total, ErrNotFound
	}
	if err != nil {
		return nil, total, fmt.Errorf("storagecontext: fetching node %x: %w", key, err)
	}

	var raw []byte
	err = item.Value(func(val []byte) error {
		raw = append(raw, val...)
		return nil
	})
	if err != nil {
		return nil, total, fmt.Errorf("storagecontext: reading node %x: %w", key, err)
	}
	total.StorageLoaded += uint64(len(raw))
	total.Seeks++

	n, err := merk.DecodeNode(key, raw)
	if err != nil {
		return nil, total, err
	}
	c.eng.cache.Put(c.prefix, key, n)
	return n, total, nil
}

// CostForValue implements merk.Fetch. The badger realization has no
// value-defined cost policy of its own, so size-based accounting always
// applies (spec.md §4.3.4 "a nil returned Context pointer means use the
// default").
func (c *Context) CostForValue(value []byte) *cost.Context { return nil }

// WriteNode implements merk.NodeWriter: persists the encoded node under
// main[prefix‖key] within the active transaction and refreshes the
// cache.
func (c *Context) WriteNode(key []byte, encoded []byte) error {
	if err := c.txn.Set(makeKey(nsMain, c.prefix, key), encoded); err != nil {
		return fmt.Errorf("storagecontext: writing node %x: %w", key, err)
	}
	n, err := merk.DecodeNode(key, encoded)
	if err == nil {
		c.eng.cache.Put(c.prefix, key, n)
	}
	return nil
}

// DeleteNode implements merk.NodeWriter.
func (c *Context) DeleteNode(key []byte) error {
	if err := c.txn.Delete(makeKey(nsMain, c.prefix, key)); err != nil {
		return fmt.Errorf("storagecontext: deleting node %x: %w", key, err)
	}
	c.eng.cache.Remove(c.prefix, key)
	return nil
}

// GetRoot returns the current root node key for this subtree (spec.md
// §6.2 "roots[prefix]"), or ErrNotFound if the subtree does not exist.
func (c *Context) GetRoot() ([]byte, error) {
	item, err := c.txn.Get(makeKey(nsRoots, c.prefix, nil))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storagecontext: reading root: %w", err)
	}
	var key []byte
	err = item.Value(func(val []byte) error {
		key = append(key, val...)
		return nil
	})
	return key, err
}

// PutRoot records the subtree's current root node key.
func (c *Context) PutRoot(rootKey []byte) error {
	return c.txn.Set(makeKey(nsRoots, c.prefix, nil), rootKey)
}

// DeleteRoot removes the root record, marking the subtree as
// non-existent (spec.md §4.4 "an absent roots[prefix] record").
func (c *Context) DeleteRoot() error {
	return c.txn.Delete(makeKey(nsRoots, c.prefix, nil))
}

// GetAux/PutAux/DeleteAux expose the per-subtree uninterpreted aux
// namespace (spec.md §6.1, §6.2).
func (c *Context) GetAux(key []byte) ([]byte, error) {
	item, err := c.txn.Get(makeKey(nsAux, c.prefix, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var val []byte
	err = item.Value(func(v []byte) error {
		val = append(val, v...)
		return nil
	})
	return val, err
}

func (c *Context) PutAux(key, value []byte) error {
	return c.txn.Set(makeKey(nsAux, c.prefix, key), value)
}

func (c *Context) DeleteAux(key []byte) error {
	return c.txn.Delete(makeKey(nsAux, c.prefix, key))
}

// GetMeta/PutMeta/DeleteMeta expose the unprefixed global meta namespace
// (spec.md §6.1, §6.7 "version handshake").
func (e *Engine) GetMeta(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(makeMetaKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var val []byte
	err = item.Value(func(v []byte) error {
		val = append(val, v...)
		return nil
	})
	return val, err
}

func (e *Engine) PutMeta(txn *badger.Txn, key, value []byte) error {
	return txn.Set(makeMetaKey(key), value)
}

// DeletePrefix performs a best-effort scan-and-delete of every main/aux
// key under prefix, used by DeleteTree cleanup (spec.md §9 "Orphaned
// storage bytes after DeleteTree are not reclaimed ... best-effort
// cleanup of the tree's prefix"; SPEC_FULL.md §D.3). It is not
// transactional with the delete that removed the roots[prefix] record:
// a crash mid-scan leaves some bytes behind, which is an accepted
// consequence of the open question's resolution, not a bug.
func (e *Engine) DeletePrefix(prefix [32]byte) error {
	for _, ns := range []Namespace{nsMain, nsAux} {
		if err := e.deleteNamespacePrefix(ns, prefix); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) deleteNamespacePrefix(ns Namespace, prefix [32]byte) error {
	scanPrefix := makeKey(ns, prefix, nil)
	for {
		var batch [][]byte
		err := e.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = scanPrefix
			it := txn.NewIterator(opts)
			defer it.Close()
			const chunk = 1000
			for it.Seek(scanPrefix); it.ValidForPrefix(scanPrefix) && len(batch) < chunk; it.Next() {
				k := it.Item().KeyCopy(nil)
				batch = append(batch, k)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("storagecontext: scanning prefix for delete: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		err = e.Update(func(txn *badger.Txn) error {
			for _, k := range batch {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("storagecontext: deleting prefix batch: %w", err)
		}
	}
}
