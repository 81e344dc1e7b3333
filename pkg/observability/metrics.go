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
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	CheckDecisionsTotal        *prometheus.CounterVec
	CheckDuration              prometheus.Histogram
	SnapshotResolutionDuration prometheus.Histogram
	SnapshotInvalidationsTotal *prometheus.CounterVec
	InvalidationFanOutSize     prometheus.Histogram

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Audit metrics
	AuditRecordsTotal *prometheus.CounterVec
	AuditErrorsTotal  prometheus.Counter

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge

	// Business metrics
	CompaniesTotal        prometheus.Gauge
	RolesTotal            prometheus.Gauge
	AssignmentsActive     prometheus.Gauge
	ExpiredRowsSweptTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "girder_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "girder_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "girder_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "girder_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Authorization metrics
		CheckDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "girder_check_decisions_total",
				Help: "Total number of permission check decisions",
			},
			[]string{"result"},
		),
		CheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "girder_check_duration_seconds",
				Help:    "Permission check duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
			},
		),
		SnapshotResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "girder_snapshot_resolution_duration_seconds",
				Help:    "Effective-permission snapshot resolution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SnapshotInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "girder_snapshot_invalidations_total",
				Help: "Total number of snapshot invalidations",
			},
			[]string{"reason"},
		),
		InvalidationFanOutSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "girder_invalidation_fanout_size",
				Help:    "Number of snapshots dropped per fan-out invalidation",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "girder_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "girder_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		// Audit metrics
		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "girder_audit_records_total",
				Help: "Total number of audit records appended",
			},
			[]string{"action"},
		),
		AuditErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "girder_audit_errors_total",
				Help: "Total number of failed audit appends",
			},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "girder_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "girder_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "girder_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "girder_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),

		// Redis metrics
		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "girder_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),

		// Business metrics
		CompaniesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "girder_companies_total",
				Help: "Total number of companies",
			},
		),
		RolesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "girder_roles_total",
				Help: "Total number of roles",
			},
		),
		AssignmentsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "girder_assignments_active",
				Help: "Number of active role assignments",
			},
		),
		ExpiredRowsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "girder_expired_rows_swept_total",
				Help: "Total number of expired rows deactivated by the sweeper",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.CheckDecisionsTotal,
		m.CheckDuration,
		m.SnapshotResolutionDuration,
		m.SnapshotInvalidationsTotal,
		m.InvalidationFanOutSize,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.AuditRecordsTotal,
		m.AuditErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisConnectionsActive,
		m.CompaniesTotal,
		m.RolesTotal,
		m.AssignmentsActive,
		m.ExpiredRowsSweptTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
