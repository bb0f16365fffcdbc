package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_cache_hits_total",
			Help: "Total number of page cache hits",
		},
		[]string{"store"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagesync_cache_misses_total",
			Help: "Total number of page cache misses",
		},
	)

	// CacheInvalidations tracks source invalidations by store
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_cache_invalidations_total",
			Help: "Total number of page cache source invalidations",
		},
		[]string{"store"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "decode"
	)
)
