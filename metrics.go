// Prometheus instrumentation, grounded on the pack's cuemby-warren
// pkg/metrics package: plain collector fields on a struct the caller
// constructs and registers itself, rather than a package-global
// registry. Nothing here auto-registers, so concurrent tests opening
// multiple stores never collide on collector names.
package codex

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors codex updates during block store and
// query engine operation. Construct with NewMetrics and register the
// returned collectors with a prometheus.Registerer of the caller's
// choosing.
type Metrics struct {
	BlocksAllocated prometheus.Counter
	BlocksFreed     prometheus.Counter
	QueueDepth      prometheus.Gauge
	DrainErrors     prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	PlansChosen     *prometheus.CounterVec // labelled by "point", "range", "scan"
}

// NewMetrics builds a fresh, unregistered Metrics bundle.
func NewMetrics() *Metrics {
	return &Metrics{
		BlocksAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codex_blocks_allocated_total",
			Help: "Total number of blocks allocated from the block store.",
		}),
		BlocksFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codex_blocks_freed_total",
			Help: "Total number of blocks returned to the free list.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codex_write_queue_depth",
			Help: "Current number of pending writes in the write-behind queue.",
		}),
		DrainErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codex_drain_errors_total",
			Help: "Total number of block writes discarded after a drain error.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codex_node_cache_hits_total",
			Help: "Total number of node manager cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codex_node_cache_misses_total",
			Help: "Total number of node manager cache misses.",
		}),
		PlansChosen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codex_query_plans_total",
			Help: "Total number of query plans chosen, by kind.",
		}, []string{"kind"}),
	}
}

// Collectors returns every collector in the bundle, for bulk
// registration: registry.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BlocksAllocated,
		m.BlocksFreed,
		m.QueueDepth,
		m.DrainErrors,
		m.CacheHits,
		m.CacheMisses,
		m.PlansChosen,
	}
}
