// Package metrics provides the centralized Prometheus metrics reference for
// the gateway client. All metrics are defined in their respective packages
// (invoker, session, paging, batch, deadletter) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the gateway client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/invoker):
//   - erp_requests_total{service, outcome} (Counter): Gateway call attempts by service and outcome
//   - erp_request_retries_total{kind} (Counter): Retry attempts by failure kind
//   - erp_request_duration_seconds{service} (Histogram): Call duration including retries and waits
//
// Session Metrics (pkg/session):
//   - erp_sessions_active (Gauge): Currently registered sessions, principal included
//
// Paging Metrics (pkg/paging):
//   - erp_pages_total{outcome} (Counter): Page fetches issued by result streams
//
// Batch Metrics (pkg/batch):
//   - erp_batch_entities_total{outcome} (Counter): Entities processed by flushes
//   - erp_batch_flushes_total{mode} (Counter): Flushes by mode (grouped or fallback)
//
// Dead Letter Metrics (pkg/deadletter):
//   - erp_deadletter_entries_total (Counter): Failure events persisted to the queue
//   - erp_deadletter_errors_total (Counter): Queue write failures
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   sum(rate(erp_requests_total{outcome="failure"}[5m])) /
//   sum(rate(erp_requests_total[5m]))
//
//   # Retry Pressure by Failure Kind
//   rate(erp_request_retries_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(erp_request_duration_seconds_bucket[5m]))
//
//   # Batch Fallback Rate
//   rate(erp_batch_flushes_total{mode="fallback"}[5m]) /
//   rate(erp_batch_flushes_total[5m])
