package embedcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheCalls counts texts requested from the cache
	cacheCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conceptgraph_embedding_cache_calls_total",
		Help: "Total texts requested from the embedding cache",
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conceptgraph_embedding_cache_hits_total",
		Help: "Total embedding cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conceptgraph_embedding_cache_misses_total",
		Help: "Total embedding cache misses",
	})

	// batchSize tracks distinct texts per provider flush
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conceptgraph_embedding_batch_size",
		Help:    "Distinct texts per embedding provider flush",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})

	// embedLatency tracks provider latency including retries
	embedLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conceptgraph_embedding_provider_duration_seconds",
		Help:    "Embedding provider call duration in seconds, retries included",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	})

	embedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conceptgraph_embedding_failures_total",
		Help: "Total embedding keys that failed after retries",
	})
)
