package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cloudbase/internal/storage"
)

// Metrics owns the Prometheus registry exposed at /actuator/prometheus.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	authAttempts    *prometheus.CounterVec
	bytesUploaded   prometheus.Counter
	bytesDownloaded prometheus.Counter
	breakerState    prometheus.Gauge
}

// NewMetrics creates and registers every collector on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudbase",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cloudbase",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudbase",
			Name:      "auth_attempts_total",
			Help:      "Sign-up and sign-in attempts by outcome.",
		}, []string{"action", "outcome"}),
		bytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudbase",
			Name:      "upload_bytes_total",
			Help:      "Bytes received in file uploads.",
		}),
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudbase",
			Name:      "download_bytes_total",
			Help:      "Bytes sent in file and folder downloads.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudbase",
			Name:      "storage_circuit_state",
			Help:      "Object store circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.authAttempts,
		m.bytesUploaded,
		m.bytesDownloaded,
		m.breakerState,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) AuthAttempt(action, outcome string) {
	m.authAttempts.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) AddUploaded(n int64) {
	m.bytesUploaded.Add(float64(n))
}

func (m *Metrics) AddDownloaded(n int64) {
	m.bytesDownloaded.Add(float64(n))
}

// SetBreakerState records a circuit breaker transition; it matches the
// storage.CircuitBreaker OnStateChange signature.
func (m *Metrics) SetBreakerState(s storage.CircuitState) {
	m.breakerState.Set(float64(s))
}
