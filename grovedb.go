// Package grovedb is GroveDB's top-level entrypoint: Open/Close, the
// unified closed-set error kind (spec.md §7), and a GroveDB handle that
// wires the grove, grove/batch, query, and proof packages together
// behind one API, the way the teacher's top-level packages compose
// narrower subsystems (storage, ledger, module/metrics) into a single
// exposed surface. Logging and metrics follow the teacher's own ambient
// stack: github.com/rs/zerolog for structured logs
// (ledger/complete/wal/wal.go's injected zerolog.Logger field) and
// github.com/prometheus/client_golang's promauto, registered against an
// instance-owned prometheus.Registerer rather than the global default
// registry so opening more than one GroveDB in a process (as the test
// suites do) never double-registers a metric (module/metrics/
// execution.go's package-level promauto.New* pattern does not need this
// care because that process only ever constructs one BaseMetrics).
package grovedb

import (
	"errors"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dapperlabs/grovedb/element"
	"github.com/dapperlabs/grovedb/grove"
	"github.com/dapperlabs/grovedb/grove/batch"
	"github.com/dapperlabs/grovedb/hash"
	"github.com/dapperlabs/grovedb/proof"
	"github.com/dapperlabs/grovedb/query"
	"github.com/dapperlabs/grovedb/storagecontext"
)

// DefaultCacheSize is the MerkCache entry count used when Options.CacheSize
// is left at zero.
const DefaultCacheSize = 1024

// currentVersion is the grove format version written to the meta
// namespace on first open and checked on every subsequent open (spec.md
// §6.7).
const currentVersion byte = 1

var versionMetaKey = []byte("grove-version")

// Options configures Open.
type Options struct {
	// Dir is the badger data directory, created if absent.
	Dir string
	// CacheSize bounds the shared MerkCache's entry count; 0 means
	// DefaultCacheSize.
	CacheSize int
	// Logger receives structured operation logs. Nil defaults to a
	// stderr zerolog.Logger with timestamps, mirroring the teacher's own
	// default when no logger is threaded in from above.
	Logger *zerolog.Logger
	// MetricsRegisterer receives this instance's metrics. Nil defaults
	// to a private prometheus.NewRegistry() rather than the global
	// DefaultRegisterer, so repeated Open calls (as in tests) never
	// collide.
	MetricsRegisterer prometheus.Registerer
}

// GroveDB is the top-level handle: a grove plus the batch processor,
// query executor, and metrics/logging wrapped around it.
type GroveDB struct {
	g   *grove.Grove
	bp  *batch.Processor
	qe  *query.Executor
	log zerolog.Logger
	m   *metrics
}

// Open opens (creating if absent) a GroveDB at opts.Dir, performing the
// meta-namespace version handshake of spec.md §6.7.
func Open(opts Options) (*GroveDB, error) {
	cacheSize := opts.CacheSize
	if cacheSize == 0 {
		cacheSize = DefaultCacheSize
	}

	g, err := grove.Open(opts.Dir, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("grovedb: opening store at %q: %w", opts.Dir, err)
	}

	if err := checkVersion(g.Engine()); err != nil {
		_ = g.Close()
		return nil, err
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "grovedb").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	reg := opts.MetricsRegisterer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &GroveDB{
		g:   g,
		bp:  batch.NewProcessor(g),
		qe:  query.NewExecutor(g),
		log: logger,
		m:   newMetrics(reg),
	}, nil
}

// checkVersion implements spec.md §6.7: a fresh store gets
// currentVersion stamped in; an existing store must already carry
// exactly currentVersion, since this implementation offers no
// forward-compatible upgrade path yet.
func checkVersion(eng *storagecontext.Engine) error {
	return eng.Update(func(txn *badger.Txn) error {
		v, err := eng.GetMeta(txn, versionMetaKey)
		if errors.Is(err, storagecontext.ErrNotFound) {
			return eng.PutMeta(txn, versionMetaKey, []byte{currentVersion})
		}
		if err != nil {
			return fmt.Errorf("grovedb: reading version metadata: %w", err)
		}
		if len(v) != 1 || v[0] != currentVersion {
			return &Error{Kind: NotSupported, Err: fmt.Errorf("grovedb: store version %v is not supported (want %d)", v, currentVersion)}
		}
		return nil
	})
}

// Close releases the underlying store handle.
func (db *GroveDB) Close() error {
	return db.g.Close()
}

// Grove exposes the underlying Grove for callers that need the
// lower-level single-subtree API directly.
func (db *GroveDB) Grove() *grove.Grove { return db.g }

// Insert stores el under (path, key), creating path's subtree on first
// use (spec.md §4.4.2).
func (db *GroveDB) Insert(path grove.Path, key []byte, el *element.Element) error {
	start := db.m.startTimer()
	c, err := db.g.Insert(path, key, el)
	db.m.observeInsert(c, start, err)
	db.log.Debug().Str("op", "insert").Int("path_depth", path.Depth()).Bytes("key", key).Err(err).Msg("insert")
	return wrapErr(err)
}

// Get reads the element at (path, key).
func (db *GroveDB) Get(path grove.Path, key []byte) (*element.Element, error) {
	start := db.m.startTimer()
	el, c, err := db.g.Get(path, key)
	db.m.observeGet(c, start, err)
	return el, wrapErr(err)
}

// Delete removes the element at (path, key) (spec.md §4.4.2).
func (db *GroveDB) Delete(path grove.Path, key []byte) error {
	start := db.m.startTimer()
	c, err := db.g.Delete(path, key)
	db.m.observeDelete(c, start, err)
	db.log.Debug().Str("op", "delete").Int("path_depth", path.Depth()).Bytes("key", key).Err(err).Msg("delete")
	return wrapErr(err)
}

// DeleteTreeRecursive removes a tree-like element and everything beneath
// it (spec.md §9 Open Question decision #1).
func (db *GroveDB) DeleteTreeRecursive(path grove.Path, key []byte) error {
	_, err := db.g.DeleteTreeRecursive(path, key)
	return wrapErr(err)
}

// RootHash returns the authenticated root hash of the subtree at path;
// path{} is the grove's own root hash (spec.md §3).
func (db *GroveDB) RootHash(path grove.Path) (hash.CryptoHash, error) {
	h, _, err := db.g.RootHash(path)
	return h, wrapErr(err)
}

// Apply runs a cross-subtree batch through grove/batch.Processor
// (spec.md §4.5), touching each shared ancestor's propagation exactly
// once regardless of how many of its descendants the batch mutated.
func (db *GroveDB) Apply(ops []batch.QualifiedOp) error {
	start := db.m.startTimer()
	_, err := db.bp.Apply(ops)
	db.m.observeBatch(len(ops), start, err)
	db.log.Debug().Str("op", "apply_batch").Int("ops", len(ops)).Err(err).Msg("batch apply")
	return wrapErr(err)
}

// Query runs pq through the query executor (spec.md §4.6).
func (db *GroveDB) Query(pq query.PathQuery) ([]query.Result, error) {
	start := db.m.startTimer()
	results, _, err := db.qe.Execute(pq)
	db.m.observeQuery(len(results), start, err)
	return results, wrapErr(err)
}

// ProveElement generates a layered proof for the element at (path, key)
// (spec.md §4.7.4).
func (db *GroveDB) ProveElement(path grove.Path, key []byte) (*proof.LayerProof, error) {
	lp, _, err := proof.ProveElement(db.g, path, key)
	return lp, wrapErr(err)
}

// VerifyElement checks lp proves the element at (path, key) under the
// grove's current root hash, returning the decoded element on success.
func (db *GroveDB) VerifyElement(lp *proof.LayerProof, path grove.Path, key []byte) (*element.Element, error) {
	rootHash, err := db.RootHash(grove.Path{})
	if err != nil {
		return nil, err
	}
	el, err := proof.VerifyElement(lp, rootHash, path, key)
	return el, wrapErr(err)
}

// ProveQuery generates a layered proof for q run against the subtree at
// path (spec.md §4.7.4).
func (db *GroveDB) ProveQuery(path grove.Path, q *query.Query) (*proof.LayerProof, error) {
	lp, _, err := proof.GenerateQuery(db.g, path, q)
	return lp, wrapErr(err)
}

// VerifyQuery checks lp proves q run against the subtree at path under
// expectedRootHash.
func (db *GroveDB) VerifyQuery(lp *proof.LayerProof, expectedRootHash hash.CryptoHash, path grove.Path, q *query.Query) ([]query.Result, error) {
	results, err := proof.VerifyQuery(lp, expectedRootHash, path, q)
	return results, wrapErr(err)
}

// CacheStats reports the shared MerkCache's lifetime hit/miss counters.
func (db *GroveDB) CacheStats() (hits, misses uint64) {
	return db.g.Engine().Cache().Stats()
}
