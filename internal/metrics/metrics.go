// Package metrics defines the engine's Prometheus collectors and the
// optional HTTP handler that exposes them. Observability only — there is
// no query surface here, consistent with spec.md's "no network/RPC
// surface" (§1 Non-goals).
//
// Grounded on AKJUS-bsc-erigon's metrics package (one package-level
// registry of named counters/gauges/histograms, wired by call sites
// throughout the storage/executor layers, served over an
// operator-enabled-only HTTP handler) generalized from a chain client's
// much larger metrics surface to the handful of gauges/counters this
// engine's components actually produce.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every collector this engine reports under one
// prometheus.Registerer, so tests can construct an isolated instance
// instead of racing on the global default registry.
type Registry struct {
	BlockCacheHits    prometheus.Counter
	BlockCacheMisses  prometheus.Counter
	WALFsyncSeconds   prometheus.Histogram
	ActiveTxns        prometheus.Gauge
	RowGroupCount     prometheus.Gauge
	CheckpointsTotal  prometheus.Counter

	reg *prometheus.Registry
}

// New builds a Registry with every collector registered against a fresh
// prometheus.Registry (never the global default, so multiple engine
// instances in one process — as in tests — don't collide).
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		BlockCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otbx_block_cache_hits_total",
			Help: "Buffer pool lookups served from the resident LRU without a disk read.",
		}),
		BlockCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otbx_block_cache_misses_total",
			Help: "Buffer pool lookups that required a disk read.",
		}),
		WALFsyncSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "otbx_wal_fsync_seconds",
			Help:    "Latency of each WAL shard fsync call.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveTxns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "otbx_active_transactions",
			Help: "Number of transactions currently open in the transaction manager.",
		}),
		RowGroupCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "otbx_row_groups",
			Help: "Total row groups across every table in the catalog.",
		}),
		CheckpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otbx_checkpoints_total",
			Help: "Number of storage checkpoints completed.",
		}),
		reg: reg,
	}
	reg.MustRegister(
		r.BlockCacheHits, r.BlockCacheMisses, r.WALFsyncSeconds,
		r.ActiveTxns, r.RowGroupCount, r.CheckpointsTotal,
	)
	return r
}

// Handler returns the http.Handler cmd/otbx's serve-metrics subcommand
// mounts at /metrics when --metrics-addr is set.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
