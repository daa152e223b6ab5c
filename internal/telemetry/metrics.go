// Package telemetry provides application-level observability for the DocShield backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<DOCSHIELD_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint is not served by the Gin router so the
// metrics surface never shares a listener with preview links.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit write outcomes, retries, fallback diversions and forwarder deliveries
//   - Integrity verification runs and the invalid-entry count of the last run
//   - Preview grant issuance and validation outcomes
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /p/:token) rather than
// the raw request URL.  Preview tokens would otherwise leak into label values
// and produce one series per link.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit pipeline metrics.
//
// AuditWritesTotal is a CounterVec with label {result} ("ok" or "failed").  A
// "failed" increment means the entry exhausted its retries and was handed to
// the dead-letter sink; it is never silently dropped.
//
// AuditWriteRetriesTotal counts individual retry attempts, so a rising value
// with a flat "failed" rate indicates a flapping database rather than an outage.
//
// AuditForwardedTotal is a CounterVec with label {result} recording batches
// delivered to (or rejected by) the external forwarder.
//
// Example PromQL queries:
//   - Dead-letter rate:      rate(audit_writes_total{result="failed"}[5m])
//   - Alert expression:      increase(audit_writes_total{result="failed"}[15m]) > 0
var (
	AuditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Total number of audit entries written, by result.",
		},
		[]string{"result"},
	)

	AuditWriteRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_retries_total",
			Help: "Total number of retried audit store writes.",
		},
	)

	AuditForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_forwarded_batches_total",
			Help: "Total number of audit batches sent to the external forwarder, by result.",
		},
		[]string{"result"},
	)
)

// Integrity verification metrics, recorded by VerifyIntegrity callers (the
// admin endpoint and the scheduled verifier job).
//
// AuditIntegrityInvalidEntries is a Gauge holding the number of entries whose
// stored checksum did not match on the most recent run.  Any non-zero value
// is a tamper signal.
//
// Example PromQL queries:
//   - Alert expression:  audit_integrity_invalid_entries > 0
var (
	AuditIntegrityRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_integrity_runs_total",
			Help: "Total number of integrity verification runs, by result.",
		},
		[]string{"result"},
	)

	AuditIntegrityInvalidEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_integrity_invalid_entries",
			Help: "Number of audit entries that failed checksum verification in the last run.",
		},
	)
)

// Preview metrics.
//
// PreviewGrantsIssuedTotal is labelled by the document's sensitivity at issue.
// PreviewValidationsTotal is labelled by outcome: "ok", one of the rejection
// reasons (invalid_token, expired, max_views_exceeded, ip_not_allowed), or
// "transient" / "content_unavailable" for validations that could not finish.
//
// Example PromQL queries:
//   - Rejection ratio:  sum(rate(preview_validations_total{outcome!="ok"}[1h])) / sum(rate(preview_validations_total[1h]))
var (
	PreviewGrantsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_grants_issued_total",
			Help: "Total number of preview grants issued, by sensitivity.",
		},
		[]string{"sensitivity"},
	)

	PreviewValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_validations_total",
			Help: "Total number of preview token validations, by outcome.",
		},
		[]string{"outcome"},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB
// pool.  It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every 30 seconds until
// ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
