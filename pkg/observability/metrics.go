package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal   *prometheus.CounterVec
	AuthzDecisionDuration *prometheus.HistogramVec
	AuthzCacheHitsTotal   prometheus.Counter
	AuthzCacheMissesTotal prometheus.Counter

	// Role-permission sync metrics
	SyncRunsTotal     *prometheus.CounterVec
	SyncRolesTotal    prometheus.Counter
	SyncRunDuration   prometheus.Histogram
	SessionsActive    prometheus.Gauge
	DBConnectionsOpen prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bizkhata_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bizkhata_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bizkhata_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"requirement", "outcome"},
		),
		AuthzDecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bizkhata_authz_decision_duration_seconds",
				Help:    "Authorization decision duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"requirement"},
		),
		AuthzCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bizkhata_authz_cache_hits_total",
				Help: "Permission set cache hits",
			},
		),
		AuthzCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bizkhata_authz_cache_misses_total",
				Help: "Permission set cache misses",
			},
		),
		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bizkhata_permission_sync_runs_total",
				Help: "Total number of role-permission sync runs",
			},
			[]string{"status"},
		),
		SyncRolesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bizkhata_permission_sync_roles_total",
				Help: "Total number of roles processed by sync",
			},
		),
		SyncRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bizkhata_permission_sync_duration_seconds",
				Help:    "Duration of full sync runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bizkhata_sessions_active",
				Help: "Currently active sessions",
			},
		),
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bizkhata_db_connections_open",
				Help: "Open database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzDecisionDuration,
		m.AuthzCacheHitsTotal,
		m.AuthzCacheMissesTotal,
		m.SyncRunsTotal,
		m.SyncRolesTotal,
		m.SyncRunDuration,
		m.SessionsActive,
		m.DBConnectionsOpen,
	)

	return m
}

// Handler returns the prometheus scrape handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveAuthzDecision records an authorization decision outcome
func (m *Metrics) ObserveAuthzDecision(requirement, outcome string, duration time.Duration) {
	m.AuthzDecisionsTotal.WithLabelValues(requirement, outcome).Inc()
	m.AuthzDecisionDuration.WithLabelValues(requirement).Observe(duration.Seconds())
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware instruments a handler with request count and latency metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.ObserveHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
