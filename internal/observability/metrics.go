package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
)

// Metrics collects router and cache metrics.
type Metrics interface {
	RecordAttempt(op, modelID, outcome string, duration time.Duration)
	RecordFallback(op, requested, winner string)
	RecordRouteFailure(op string)
	RecordCacheResult(op, outcome string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordAttempt(string, string, string, time.Duration) {}

func (NopMetrics) RecordFallback(string, string, string) {}

func (NopMetrics) RecordRouteFailure(string) {}

func (NopMetrics) RecordCacheResult(string, string) {}

// PrometheusMetrics implements Metrics on its own registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	fallbacksTotal  *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	cacheTotal      *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        prometheus.Gauge
}

// NewPrometheusMetrics registers all collectors on a fresh registry
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "attempts_total",
				Help:      "Backend attempts by operation, model and outcome",
			},
			[]string{"op", "model_id", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of backend attempts in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op", "model_id"},
		),
		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "fallbacks_total",
				Help:      "Calls answered by a backend other than the requested one",
			},
			[]string{"op", "requested", "winner"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "all_backends_failed_total",
				Help:      "Calls where every candidate backend failed",
			},
			[]string{"op"},
		),
		cacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "operations_total",
				Help:      "Cache operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
		httpInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "In-flight HTTP requests",
			},
		),
	}

	m.registry.MustRegister(
		m.attemptsTotal, m.attemptDuration, m.fallbacksTotal, m.failuresTotal, m.cacheTotal,
		m.httpRequestsTotal, m.httpRequestDuration, m.httpInflight,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) RecordAttempt(op, modelID, outcome string, duration time.Duration) {
	m.attemptsTotal.WithLabelValues(op, modelID, outcome).Inc()
	m.attemptDuration.WithLabelValues(op, modelID).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordFallback(op, requested, winner string) {
	m.fallbacksTotal.WithLabelValues(op, requested, winner).Inc()
}

func (m *PrometheusMetrics) RecordRouteFailure(op string) {
	m.failuresTotal.WithLabelValues(op).Inc()
}

func (m *PrometheusMetrics) RecordCacheResult(op, outcome string) {
	m.cacheTotal.WithLabelValues(op, outcome).Inc()
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware instruments requests. The route pattern is only known once
// chi has routed the request, so labels are taken after the handler ran.
func (m *PrometheusMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInflight.Inc()
		defer m.httpInflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		path := routePattern(r)
		status := strconv.Itoa(sr.status)
		m.httpRequestsTotal.WithLabelValues(path, r.Method, status).Inc()
		m.httpRequestDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
