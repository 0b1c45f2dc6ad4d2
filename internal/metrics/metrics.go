// Package metrics exposes Prometheus metrics for generation runs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the application
type Registry struct {
	// Generation metrics
	TransactionsTotal  *prometheus.CounterVec
	TransactionAmount  *prometheus.HistogramVec
	ActiveStepsTotal   prometheus.Counter
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	RunsInProgress     prometheus.Gauge
	ScreeningFlags     *prometheus.CounterVec
	PersistedTotal     prometheus.Counter
	PersistErrorsTotal prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initGenerationMetrics()
	r.initHTTPMetrics()

	return r
}

func (r *Registry) initGenerationMetrics() {
	r.TransactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlsim_transactions_total",
			Help: "Total number of generated transactions",
		},
		[]string{"sar"},
	)

	r.TransactionAmount = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amlsim_transaction_amount",
			Help:    "Generated transaction amounts",
			Buckets: prometheus.ExponentialBuckets(10, 2, 14),
		},
		[]string{"sar"},
	)

	r.ActiveStepsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "amlsim_active_steps_total",
			Help: "Simulation steps that produced at least one transaction",
		},
	)

	r.RunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlsim_runs_total",
			Help: "Total number of finished generation runs",
		},
		[]string{"status"},
	)

	r.RunDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amlsim_run_duration_seconds",
			Help:    "Generation run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)

	r.RunsInProgress = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "amlsim_runs_in_progress",
			Help: "Current number of generation runs",
		},
	)

	r.ScreeningFlags = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlsim_screening_flags_total",
			Help: "Transactions flagged by screening rules",
		},
		[]string{"rule", "sar"},
	)

	r.PersistedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "amlsim_persisted_transactions_total",
			Help: "Transactions persisted by the async worker",
		},
	)

	r.PersistErrorsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "amlsim_persist_errors_total",
			Help: "Failed async persistence attempts",
		},
	)
}

func (r *Registry) initHTTPMetrics() {
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlsim_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amlsim_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestsInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "amlsim_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)
}

// RecordTransaction records one generated transaction.
func (r *Registry) RecordTransaction(sar bool, amount float64) {
	label := strconv.FormatBool(sar)
	r.TransactionsTotal.WithLabelValues(label).Inc()
	r.TransactionAmount.WithLabelValues(label).Observe(amount)
}

// RecordRun records a finished run.
func (r *Registry) RecordRun(status string, duration time.Duration) {
	r.RunsTotal.WithLabelValues(status).Inc()
	r.RunDuration.Observe(duration.Seconds())
}

// RecordScreeningFlag records a transaction flagged by a rule.
func (r *Registry) RecordScreeningFlag(ruleID string, sar bool) {
	r.ScreeningFlags.WithLabelValues(ruleID, strconv.FormatBool(sar)).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
