package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Recorder receives authentication and HTTP measurements.
// It satisfies ldap.Observer so it can be handed straight to the authenticator.
type Recorder interface {
	// ObserveOutcome records one finished authentication attempt.
	ObserveOutcome(outcome string, duration time.Duration)
	// RecordHTTPRequest records one served HTTP request.
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	// IncInFlight and DecInFlight track requests being served.
	IncInFlight()
	DecInFlight()
}

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Authentication Metrics
	AuthAttemptsTotal   *prometheus.CounterVec
	AuthAttemptDuration *prometheus.HistogramVec

	// HTTP Request Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag
// If enabled=true, returns Prometheus-based Metrics registered with the default registry
// If enabled=false, returns NoopMetrics
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AuthAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directory_auth_attempts_total",
				Help: "Total number of directory authentication attempts",
			},
			[]string{"outcome"}, // authenticated, not_authenticated, failed
		),
		AuthAttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "directory_auth_attempt_duration_seconds",
				Help:    "Time taken to complete a directory authentication attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
	}
}

// ObserveOutcome records an authentication attempt and its duration.
func (m *Metrics) ObserveOutcome(outcome string, duration time.Duration) {
	m.AuthAttemptsTotal.WithLabelValues(outcome).Inc()
	m.AuthAttemptDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordHTTPRequest records request count and latency.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) IncInFlight() { m.HTTPRequestsInFlight.Inc() }
func (m *Metrics) DecInFlight() { m.HTTPRequestsInFlight.Dec() }
