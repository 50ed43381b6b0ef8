package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks schema reads served from disk
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yaml_schema_cache_hits_total",
			Help: "Total number of schema cache hits",
		},
	)

	// CacheMisses tracks schema reads without a usable blob
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yaml_schema_cache_misses_total",
			Help: "Total number of schema cache misses",
		},
	)

	// CachePruned tracks orphaned index entries removed during initialization
	CachePruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yaml_schema_cache_pruned_total",
			Help: "Total number of index entries pruned because their blob was missing",
		},
	)

	// CacheBytesWritten counts schema bytes written to the blob directory
	CacheBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yaml_schema_cache_written_bytes_total",
			Help: "Total bytes of schema content written to the cache directory",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yaml_schema_cache_errors_total",
			Help: "Total number of schema cache operation errors",
		},
		[]string{"operation"}, // "init", "put", "get"
	)
)
