package observability

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Circuit breaker states as exported by casewizard_remote_circuit_state.
const (
	CircuitClosed   = 0
	CircuitHalfOpen = 1
	CircuitOpen     = 2
)

// Metrics holds all Prometheus metric instruments of the wizard server.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Remote case service metrics
	RemoteRequestsTotal   *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec
	RemoteRetriesTotal    *prometheus.CounterVec
	RemoteCircuitState    prometheus.Gauge

	// Wizard metrics
	AutosaveTotal          *prometheus.CounterVec
	AutosaveDuration       *prometheus.HistogramVec
	AutosaveCoalescedTotal *prometheus.CounterVec
	ValidationTotal        *prometheus.CounterVec
	ValidationDuration     *prometheus.HistogramVec
	SubmitTotal            *prometheus.CounterVec
	ActiveSessions         prometheus.Gauge

	// Cache metrics
	SchemaCacheHitsTotal   *prometheus.CounterVec
	SchemaCacheMissesTotal *prometheus.CounterVec

	// System metrics
	FixtureReloadTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewizard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewizard_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewizard_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Remote
		RemoteRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_remote_requests_total",
			Help: "Total number of case service requests.",
		}, []string{"operation", "status"}),
		RemoteRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewizard_remote_request_duration_seconds",
			Help:    "Case service request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		RemoteRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_remote_retries_total",
			Help: "Total number of case service request retries.",
		}, []string{"operation"}),
		RemoteCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "casewizard_remote_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		// Wizard
		AutosaveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_autosave_total",
			Help: "Total autosave attempts by outcome (saved, error, stale, dropped_readonly).",
		}, []string{"kind", "outcome"}),
		AutosaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewizard_autosave_duration_seconds",
			Help:    "Autosave round-trip duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"kind"}),
		AutosaveCoalescedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_autosave_coalesced_total",
			Help: "Total edits that replaced a value still waiting for its debounce.",
		}, []string{"kind"}),
		ValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_validation_total",
			Help: "Total validation runs by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		ValidationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casewizard_validation_duration_seconds",
			Help:    "Validation round-trip duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"trigger"}),
		SubmitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_submit_total",
			Help: "Total submit attempts by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "casewizard_active_sessions",
			Help: "Number of open wizard sessions.",
		}),

		// Cache
		SchemaCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_schema_cache_hits_total",
			Help: "Total schema and procedure catalogue cache hits.",
		}, []string{"kind"}),
		SchemaCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_schema_cache_misses_total",
			Help: "Total schema and procedure catalogue cache misses.",
		}, []string{"kind"}),

		// System
		FixtureReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewizard_fixture_reload_total",
			Help: "Total fixture reloads.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Remote
		m.RemoteRequestsTotal,
		m.RemoteRequestDuration,
		m.RemoteRetriesTotal,
		m.RemoteCircuitState,
		// Wizard
		m.AutosaveTotal,
		m.AutosaveDuration,
		m.AutosaveCoalescedTotal,
		m.ValidationTotal,
		m.ValidationDuration,
		m.SubmitTotal,
		m.ActiveSessions,
		// Cache
		m.SchemaCacheHitsTotal,
		m.SchemaCacheMissesTotal,
		// System
		m.FixtureReloadTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRemoteRequest records a case service request. status is the HTTP
// status, or 0 when no response was received.
func (m *Metrics) RecordRemoteRequest(operation string, status int, duration time.Duration) {
	m.RemoteRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.RemoteRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRemoteRetry records a case service request retry.
func (m *Metrics) RecordRemoteRetry(operation string) {
	m.RemoteRetriesTotal.WithLabelValues(operation).Inc()
}

// SetCircuitState sets the circuit breaker state.
func (m *Metrics) SetCircuitState(state float64) {
	m.RemoteCircuitState.Set(state)
}

// RecordAutosave records the outcome of one debounced save.
func (m *Metrics) RecordAutosave(kind, outcome string, duration time.Duration) {
	m.AutosaveTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == "saved" || outcome == "error" {
		m.AutosaveDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordAutosaveCoalesced records an edit that restarted a pending debounce.
func (m *Metrics) RecordAutosaveCoalesced(kind string) {
	m.AutosaveCoalescedTotal.WithLabelValues(kind).Inc()
}

// RecordValidation records a validation run.
func (m *Metrics) RecordValidation(trigger, outcome string, duration time.Duration) {
	m.ValidationTotal.WithLabelValues(trigger, outcome).Inc()
	m.ValidationDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordSubmit records a submit attempt.
func (m *Metrics) RecordSubmit(outcome string) {
	m.SubmitTotal.WithLabelValues(outcome).Inc()
}

// SetActiveSessions sets the number of open sessions.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// RecordSchemaCacheHit records a schema cache hit.
func (m *Metrics) RecordSchemaCacheHit(kind string) {
	m.SchemaCacheHitsTotal.WithLabelValues(kind).Inc()
}

// RecordSchemaCacheMiss records a schema cache miss.
func (m *Metrics) RecordSchemaCacheMiss(kind string) {
	m.SchemaCacheMissesTotal.WithLabelValues(kind).Inc()
}

// RecordFixtureReload records a fixture reload.
func (m *Metrics) RecordFixtureReload(status string) {
	m.FixtureReloadTotal.WithLabelValues(status).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *metricsResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets WebSocket upgrades pass through the wrapper.
func (w *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
