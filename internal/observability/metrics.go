// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	LamportsMoved     *prometheus.CounterVec

	// Backing metrics
	TreasuryLamports  *prometheus.GaugeVec
	ReceiptSupply     *prometheus.GaugeVec
	BackingShortfall  *prometheus.GaugeVec
	AuditRunsTotal    *prometheus.CounterVec
	LastSuccessfulRun prometheus.Gauge

	// Event metrics
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	StreamClients   prometheus.Gauge

	// API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	SignatureRejections *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "staking_ledger"
	}

	return &Metrics{
		// Engine metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total number of staking operations by outcome code",
		}, []string{"operation", "code"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Staking operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		LamportsMoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "lamports_total",
			Help:      "Total lamports moved by committed operations",
		}, []string{"operation"}),

		// Backing metrics
		TreasuryLamports: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backing",
			Name:      "treasury_lamports",
			Help:      "Treasury balance per pool at the last audit",
		}, []string{"pool"}),
		ReceiptSupply: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backing",
			Name:      "receipt_supply",
			Help:      "Outstanding receipt-token supply per pool at the last audit",
		}, []string{"pool"}),
		BackingShortfall: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backing",
			Name:      "shortfall_lamports",
			Help:      "Receipt supply not covered by the treasury, per pool",
		}, []string{"pool"}),
		AuditRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backing",
			Name:      "audit_runs_total",
			Help:      "Total number of backing audits by status",
		}, []string{"status"}),
		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backing",
			Name:      "last_successful_audit_timestamp",
			Help:      "Unix timestamp of last successful backing audit",
		}),

		// Event metrics
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events delivered per sink",
		}, []string{"sink", "kind"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events a sink failed to accept",
		}, []string{"sink"}),
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "stream_clients",
			Help:      "Number of connected websocket stream clients",
		}),

		// API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		SignatureRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "signature_rejections_total",
			Help:      "Total number of rejected signed requests by reason",
		}, []string{"reason"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records a staking operation and its outcome code.
func RecordOperation(operation, code string, seconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, code).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordFlow adds the lamports moved by a committed operation.
func RecordFlow(operation string, lamports uint64) {
	DefaultMetrics.LamportsMoved.WithLabelValues(operation).Add(float64(lamports))
}

// UpdateBacking sets the backing gauges of a pool.
func UpdateBacking(pool string, treasury, supply, shortfall uint64) {
	DefaultMetrics.TreasuryLamports.WithLabelValues(pool).Set(float64(treasury))
	DefaultMetrics.ReceiptSupply.WithLabelValues(pool).Set(float64(supply))
	DefaultMetrics.BackingShortfall.WithLabelValues(pool).Set(float64(shortfall))
}

// RecordAuditRun records a backing audit run.
func RecordAuditRun(status string, unixTime int64) {
	DefaultMetrics.AuditRunsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		DefaultMetrics.LastSuccessfulRun.Set(float64(unixTime))
	}
}

// RecordEventPublished increments the delivered events counter.
func RecordEventPublished(sink, kind string) {
	DefaultMetrics.EventsPublished.WithLabelValues(sink, kind).Inc()
}

// RecordEventDropped increments the dropped events counter.
func RecordEventDropped(sink string) {
	DefaultMetrics.EventsDropped.WithLabelValues(sink).Inc()
}

// SetStreamClients updates the connected stream clients gauge.
func SetStreamClients(n int) {
	DefaultMetrics.StreamClients.Set(float64(n))
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(route, status string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, status).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordSignatureRejection records a rejected signed request.
func RecordSignatureRejection(reason string) {
	DefaultMetrics.SignatureRejections.WithLabelValues(reason).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
