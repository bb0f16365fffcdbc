// Package metrics exposes the Prometheus registry used by pagesync.
// All metrics are defined in their respective packages (pagination, backfill,
// client, cache, ratelimit) via promauto to keep them next to the code that
// records them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by pagesync.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered in Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Synchronization Metrics (pkg/pagination, pkg/backfill):
//   - pagesync_fetches_total{collection, mode, outcome} (Counter): Page fetches by merge mode and outcome (merged, error, stale)
//   - pagesync_fetch_duration_seconds{collection} (Histogram): Page fetch duration
//   - pagesync_stale_responses_total{collection} (Counter): Responses discarded after a refresh
//   - pagesync_items{collection} (Gauge): Items currently held
//   - pagesync_backfill_rounds_total{collection} (Counter): Pages requested to fill a filtered view
//   - pagesync_backfill_capped_total{collection} (Counter): Backfills stopped by the round limit
//
// Request Metrics (pkg/client):
//   - pagesync_http_requests_total{status} (Counter): Source requests by HTTP status
//   - pagesync_http_request_duration_seconds{path} (Histogram): Request duration by path
//   - pagesync_http_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - pagesync_http_retries_total{error_class} (Counter): Retry attempts by error class
//   - pagesync_http_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - pagesync_cache_hits_total{store} (Counter): Cache hits by store (memory, redis)
//   - pagesync_cache_misses_total (Counter): Cache misses
//   - pagesync_cache_invalidations_total{store} (Counter): Source invalidations on refresh
//   - pagesync_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - pagesync_ratelimit_waits_total{source} (Counter): Fetches delayed by the request rate
//   - pagesync_ratelimit_wait_seconds{source} (Histogram): Time spent waiting for the request rate
//   - pagesync_source_errors_remaining{source} (Gauge): Errors left in the budget window
//   - pagesync_ratelimit_blocks_total{source} (Counter): Fetches refused with a spent budget
//   - pagesync_ratelimit_throttles_total{source} (Counter): Fetches delayed with a low budget
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(pagesync_cache_hits_total[5m])) /
//   (sum(rate(pagesync_cache_hits_total[5m])) + sum(rate(pagesync_cache_misses_total[5m])))
//
//   # Failed page fetches per collection
//   sum by (collection) (rate(pagesync_fetches_total{outcome="error"}[5m]))
//
//   # Backfills giving up before the view is filled
//   rate(pagesync_backfill_capped_total[15m])
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(pagesync_fetch_duration_seconds_bucket[5m]))
