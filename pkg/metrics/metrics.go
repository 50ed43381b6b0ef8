// Package metrics exposes the Prometheus metrics of the schema client.
// All metrics are defined in their respective packages (client, cache, telemetry)
// to maintain modularity and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the schema client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects everything registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - yaml_schema_cache_hits_total (Counter): Schema content served from disk
//   - yaml_schema_cache_misses_total (Counter): Lookups with no usable blob
//   - yaml_schema_cache_pruned_total (Counter): Index entries dropped at initialization
//   - yaml_schema_cache_written_bytes_total (Counter): Bytes written to the blob directory
//   - yaml_schema_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - yaml_schema_requests_total{status} (Counter): Requests by HTTP status
//   - yaml_schema_request_duration_seconds (Histogram): Request duration
//   - yaml_schema_errors_total{class} (Counter): Failed fetches by class (client, server, network, unexpected)
//   - yaml_schema_conditional_requests_total (Counter): Requests sent with If-None-Match
//   - yaml_schema_304_responses_total (Counter): 304 Not Modified responses
//   - yaml_schema_stale_fallbacks_total (Counter): Failures answered with cached content
//
// Telemetry Metrics (pkg/telemetry):
//   - yaml_telemetry_events_total{event} (Counter): Telemetry events by name
//   - yaml_server_restarts_total (Counter): Language server restarts
//
// Example Prometheus Queries:
//
//   # Revalidation hit rate
//   rate(yaml_schema_304_responses_total[5m]) / rate(yaml_schema_conditional_requests_total[5m])
//
//   # Offline fallbacks
//   rate(yaml_schema_stale_fallbacks_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(yaml_schema_request_duration_seconds_bucket[5m]))
