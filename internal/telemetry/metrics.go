// Package telemetry provides application-level observability for the keyserver.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<KSV_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Key import, generation, and armored export counters
//   - Fingerprint lookup counters and generation duration histogram
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/keys/:fingerprint)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as fingerprints.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/riboseinc/keyserver/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.KeyImportsTotal.WithLabelValues("success").Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/keys/:fingerprint),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
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

// Key lifecycle metrics — recorded by the key service.
//
// KeyImportsTotal is a CounterVec with label {result} ("success" or "error")
// incremented once per import request; a single import of combined material may
// create several records but counts once.
//
// Example PromQL queries:
//   - Import failure rate:  rate(key_imports_total{result="error"}[1h])
//
// KeyRecordsImportedTotal is a plain Counter incremented once per key record
// created by an import, so an import of a primary key with two subkeys adds 3.
//
// KeyGenerationsTotal is a CounterVec with label {result}.  RSA-4096 generation
// is CPU-heavy, so pair it with KeyGenerationDuration when capacity planning.
//
// KeyGenerationDuration is a Histogram with buckets sized for RSA-4096 keygen
// (hundreds of milliseconds to tens of seconds).
//
// Example PromQL queries:
//   - p95 generation time:  histogram_quantile(0.95, rate(key_generation_duration_seconds_bucket[1h]))
var (
	KeyImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_imports_total",
			Help: "Total number of key material import operations, by result.",
		},
		[]string{"result"},
	)

	KeyRecordsImportedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "key_records_imported_total",
			Help: "Total number of key records created by import operations.",
		},
	)

	KeyGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_generations_total",
			Help: "Total number of key pair generation operations, by result.",
		},
		[]string{"result"},
	)

	KeyGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "key_generation_duration_seconds",
			Help:    "Duration of a single key pair generation, including persistence.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)
)

// Lookup and export metrics.
//
// FingerprintLookupsTotal is a CounterVec with label {outcome}:
//   - "hit":       at least one record matched the suffix
//   - "miss":      valid suffix, no records
//   - "too_short": suffix below the 16-character minimum, rejected without a query
//
// Example PromQL queries:
//   - Lookup hit ratio:  sum(rate(fingerprint_lookups_total{outcome="hit"}[1h])) / sum(rate(fingerprint_lookups_total[1h]))
//
// ArmoredExportsTotal is a plain Counter incremented once per .asc download
// served by the public API.
var (
	FingerprintLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fingerprint_lookups_total",
			Help: "Total number of fingerprint suffix lookups, by outcome.",
		},
		[]string{"outcome"},
	)

	ArmoredExportsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "armored_exports_total",
			Help: "Total number of armored public key downloads served.",
		},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <KSV_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
