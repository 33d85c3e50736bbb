// Package telemetry provides application-level observability for the service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<RMS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Registration and login outcome counters
//   - Recommendation link generation and consumption counters
//   - Institution lookup counters (cache hits, upstream calls, rate-limit rejections)
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /links/:token) rather than
// the raw request URL to prevent unbounded label cardinality from user-supplied
// path segments such as link tokens.
//
// # Usage
//
//	telemetry.LinkConsumptionsTotal.WithLabelValues("consumed").Inc()
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
// The path label holds the Gin route template (e.g. /links/:token), NOT the
// raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
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

// Account metrics.
//
// RegistrationsTotal is a CounterVec with labels {role, outcome}. Outcomes:
// "created", "ineligible", "duplicate", "invalid", "error".
//
// LoginsTotal is a CounterVec with label {outcome}: "success" or "denied".
// Denied logins are deliberately not split by reason; the split would mirror
// the account-existence oracle the login flow works to avoid.
//
// Example PromQL queries:
//   - Signup rate by role:  sum by (role) (rate(registrations_total{outcome="created"}[1h]))
//   - Login failure ratio:  rate(logins_total{outcome="denied"}[5m]) / rate(logins_total[5m])
var (
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Total number of registration attempts, by role and outcome.",
		},
		[]string{"role", "outcome"},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logins_total",
			Help: "Total number of login attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Recommendation link metrics.
//
// LinksGeneratedTotal is a plain Counter incremented once per link created.
//
// LinkConsumptionsTotal is a CounterVec with label {outcome}: "consumed",
// "already_used", "expired", "unknown". The outcome label reflects the
// internal state transition, not the HTTP response — all denials share one
// response shape.
//
// Example PromQL queries:
//   - Consumption success ratio:  rate(link_consumptions_total{outcome="consumed"}[1h]) / rate(link_consumptions_total[1h])
//   - Replay attempts:            increase(link_consumptions_total{outcome="already_used"}[24h])
var (
	LinksGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "links_generated_total",
			Help: "Total number of recommendation links generated.",
		},
	)

	LinkConsumptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_consumptions_total",
			Help: "Total number of link consumption attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// LinksExpiredTotal counts links flipped to EXPIRED by the background
	// sweep. Lazy expiry at consumption time shows up under
	// link_consumptions_total{outcome="expired"} instead.
	LinksExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "links_expired_total",
			Help: "Total number of links expired by the background sweep.",
		},
	)
)

// Institution lookup metrics.
//
// InstitutionLookupsTotal is a CounterVec with label {result}: "cache_hit",
// "upstream", "short_query", "rate_limited", "upstream_error".
//
// InstitutionUpstreamDuration is a Histogram of upstream call latencies using
// the default Prometheus buckets. An alert on the p95 crossing the configured
// upstream timeout is a useful early signal of upstream degradation.
//
// Example PromQL queries:
//   - Cache hit ratio:  rate(institution_lookups_total{result="cache_hit"}[1h]) / rate(institution_lookups_total{result=~"cache_hit|upstream"}[1h])
//   - p95 upstream latency:  histogram_quantile(0.95, rate(institution_upstream_duration_seconds_bucket[5m]))
var (
	InstitutionLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "institution_lookups_total",
			Help: "Total number of institution lookup requests, by result.",
		},
		[]string{"result"},
	)

	InstitutionUpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "institution_upstream_duration_seconds",
			Help:    "Duration of upstream institution search calls.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// VerificationEmailsSentTotal is a plain Counter (no labels) incremented once
// per verification email successfully handed to the mail relay. A stalled
// counter combined with ongoing registrations is a useful alert signal for
// SMTP delivery failures.
var VerificationEmailsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "verification_emails_sent_total",
		Help: "Total number of email verification messages successfully sent.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
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
