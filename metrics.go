package grovedb

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dapperlabs/grovedb/cost"
)

const (
	namespaceGroveDB = "grovedb"
	subsystemOps     = "operations"
	subsystemCost    = "cost_accounting"
)

// metrics holds this GroveDB instance's own prometheus collectors,
// registered against an instance-owned Registerer (grovedb.go's Open)
// rather than package-level vars against the global DefaultRegisterer
// (contrast module/metrics/execution.go's executionGasUsedPerBlockHist
// and friends), so a process that opens more than one GroveDB — every
// test in this module does — never hits a duplicate-registration panic.
type metrics struct {
	opDuration   *prometheus.HistogramVec
	opFailures   *prometheus.CounterVec
	batchOpCount prometheus.Histogram
	queryResults prometheus.Histogram
	seeksTotal   prometheus.Counter
	hashesTotal  prometheus.Counter
	bytesLoaded  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceGroveDB,
			Subsystem: subsystemOps,
			Name:      "duration_seconds",
			Help:      "duration of GroveDB operations by kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		opFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceGroveDB,
			Subsystem: subsystemOps,
			Name:      "failures_total",
			Help:      "count of GroveDB operations that returned an error, by kind",
		}, []string{"op"}),
		batchOpCount: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceGroveDB,
			Subsystem: subsystemOps,
			Name:      "batch_size",
			Help:      "number of qualified ops per Apply call",
			Buckets:   []float64{1, 2, 5, 10, 50, 100, 500},
		}),
		queryResults: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceGroveDB,
			Subsystem: subsystemOps,
			Name:      "query_result_count",
			Help:      "number of results returned per Query call",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500},
		}),
		seeksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceGroveDB,
			Subsystem: subsystemCost,
			Name:      "seeks_total",
			Help:      "cumulative Seeks reported by cost.Context across all operations",
		}),
		hashesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceGroveDB,
			Subsystem: subsystemCost,
			Name:      "hash_calls_total",
			Help:      "cumulative HashCalls reported by cost.Context across all operations",
		}),
		bytesLoaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceGroveDB,
			Subsystem: subsystemCost,
			Name:      "storage_loaded_bytes_total",
			Help:      "cumulative StorageLoaded reported by cost.Context across all operations",
		}),
	}
}

func (m *metrics) startTimer() time.Time { return time.Now() }

func (m *metrics) observe(op string, c cost.Context, start time.Time, err error) {
	m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.opFailures.WithLabelValues(op).Inc()
	}
	m.seeksTotal.Add(float64(c.Seeks))
	m.hashesTotal.Add(float64(c.HashCalls))
	m.bytesLoaded.Add(float64(c.StorageLoaded))
}

func (m *metrics) observeInsert(c cost.Context, start time.Time, err error) { m.observe("insert", c, start, err) }
func (m *metrics) observeGet(c cost.Context, start time.Time, err error)    { m.observe("get", c, start, err) }
func (m *metrics) observeDelete(c cost.Context, start time.Time, err error) { m.observe("delete", c, start, err) }

func (m *metrics) observeBatch(opCount int, start time.Time, err error) {
	m.observe("apply_batch", cost.Context{}, start, err)
	m.batchOpCount.Observe(float64(opCount))
}

func (m *metrics) observeQuery(resultCount int, start time.Time, err error) {
	m.observe("query", cost.Context{}, start, err)
	m.queryResults.Observe(float64(resultCount))
}
