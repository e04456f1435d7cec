package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all metrics
type Metrics struct {
	VectorInserts      prometheus.Counter
	SearchQueries      prometheus.Counter
	SearchErrors       prometheus.Counter
	SearchLatency      prometheus.Histogram
	BM25Queries        prometheus.Counter
	HybridQueries      prometheus.Counter
	QuantizerTrainings prometheus.Counter
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CompactionRuns     prometheus.Counter
}

// NewMetrics creates metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		VectorInserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veloxdb_vector_inserts_total",
			Help: "Total vector insertions",
		}),
		SearchQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veloxdb_search_queries_total",
			Help: "Total search queries",
		}),
		SearchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veloxdb_search_errors_total",
			Help: "Total search errors",
		}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "veloxdb_search_latency_seconds",
			Help: "Search latency",
		}),
		BM25Queries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veloxdb_bm25_queries_total",
			Help: "Total BM25 lexical queries",
		}),
		HybridQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veloxdb_hybrid_queries_total",
			Help: "Total hybrid (fused vector+BM25) queries",
		}),
		QuantizerTrainings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veloxdb_quantizer_trainings_total",
			Help: "Total quantizer (PQ/SQ) training runs",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veloxdb_cache_hits_total",
			Help: "Total auxiliary store cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veloxdb_cache_misses_total",
			Help: "Total auxiliary store cache misses",
		}),
		CompactionRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veloxdb_compaction_runs_total",
			Help: "Total vector/metadata/index compaction runs",
		}),
	}
}
