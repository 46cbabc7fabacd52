package storagecontext

import (
	"go.uber.org/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dapperlabs/grovedb/merk"
)

// MerkCache is a process-wide read-through cache of decoded Merk nodes,
// keyed by subtree prefix plus node key. It mirrors the store/retrieve/
// eject shape of storage/badger/cache.go's hand-rolled Cache, generalized
// from a per-collection single-entity cache to a general byte-keyed one
// backed by github.com/hashicorp/golang-lru so eviction is size-bounded
// LRU rather than random (spec.md §5 "Shared resources").
type MerkCache struct {
	lru *lru.Cache

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewMerkCache constructs a MerkCache holding at most size decoded nodes.
func NewMerkCache(size int) (*MerkCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MerkCache{lru: c}, nil
}

func cacheKey(prefix [32]byte, nodeKey []byte) string {
	return string(prefix[:]) + string(nodeKey)
}

// Get returns the cached node for (prefix, nodeKey), if present.
func (c *MerkCache) Get(prefix [32]byte, nodeKey []byte) (*merk.Node, bool) {
	v, ok := c.lru.Get(cacheKey(prefix, nodeKey))
	if !ok {
		c.misses.Inc()
		return nil, false
	}
	c.hits.Inc()
	return v.(*merk.Node), true
}

// Put inserts or refreshes a decoded node in the cache.
func (c *MerkCache) Put(prefix [32]byte, nodeKey []byte, n *merk.Node) {
	c.lru.Add(cacheKey(prefix, nodeKey), n)
}

// Remove evicts a node, called after a DeleteNode so a stale entry can
// never outlive its storage record.
func (c *MerkCache) Remove(prefix [32]byte, nodeKey []byte) {
	c.lru.Remove(cacheKey(prefix, nodeKey))
}

// Stats returns the cache's lifetime hit/miss counters.
func (c *MerkCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
