package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for page fetches.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_fetches_total",
		Help: "Total page fetches by collection, merge mode and outcome",
	}, []string{"collection", "mode", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagesync_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds by collection",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	}, []string{"collection"})

	staleResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_stale_responses_total",
		Help: "Total responses discarded because a refresh started a new generation",
	}, []string{"collection"})

	cachedItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagesync_items",
		Help: "Number of items currently cached by collection",
	}, []string{"collection"})
)

// Outcome label values.
const (
	outcomeMerged = "merged"
	outcomeError  = "error"
	outcomeStale  = "stale"
)
