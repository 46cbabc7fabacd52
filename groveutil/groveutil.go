// Package groveutil collects the test fixtures and harness helpers
// shared by GroveDB's package test suites, adapted from the teacher's
// utils/unittest package: OpenGrove plays the role RunWithBadgerDB plays
// there (a temp-dir-backed resource with automatic cleanup via
// t.Cleanup rather than a bare defer, since callers run as subtests),
// and the fixtures below play the role of fixtures.go's random-value
// generators.
package groveutil

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dapperlabs/grovedb/grove"
)

// DefaultCacheSize is the MerkCache entry count used by test groves that
// don't care about eviction behavior.
const DefaultCacheSize = 64

// OpenGrove opens a Grove backed by a fresh t.TempDir(), closing it
// automatically on test cleanup.
func OpenGrove(t *testing.T) *grove.Grove {
	t.Helper()
	return OpenGroveWithCache(t, DefaultCacheSize)
}

// OpenGroveWithCache is OpenGrove with an explicit MerkCache size, for
// tests that exercise eviction.
func OpenGroveWithCache(t *testing.T, cacheSize int) *grove.Grove {
	t.Helper()
	g, err := grove.Open(t.TempDir(), cacheSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// RandomBytes returns n cryptographically random bytes, for fixture
// values whose exact content doesn't matter.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// RandomKey returns a short random key, distinguishable by index so
// batches of keys sort predictably in tests that care about order
// (RandomKey(3) != RandomKey(3) in content, but both start
// with "k3-").
func RandomKey(index int) []byte {
	return []byte(fmt.Sprintf("k%d-%x", index, RandomBytes(4)))
}

// SequentialKeys returns n keys in ascending lexical order (e.g. "key00",
// "key01", ...), for tests over range queries and batch propagation that
// need a predictable key ordering rather than random fixture content.
func SequentialKeys(n int) [][]byte {
	keys := make([][]byte, n)
	width := len(fmt.Sprintf("%d", n-1))
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("key%0*d", width, i))
	}
	return keys
}
