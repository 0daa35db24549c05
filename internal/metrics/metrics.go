// Package metrics provides Prometheus metrics for the aftp server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftp_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aftp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Tree metrics
	treeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aftp_tree_size",
			Help: "Number of folders and files in the tree, root included",
		},
	)

	fsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftp_fs_operations_total",
			Help: "Tree operations by kind and outcome",
		},
		[]string{"op", "result"},
	)

	snapshotDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aftp_snapshot_duration_seconds",
			Help:    "Time to persist a tree snapshot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "status"},
	)

	// Content metrics
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aftp_content_bytes_downloaded_total",
			Help: "Total bytes served from the raw content endpoint",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aftp_content_bytes_uploaded_total",
			Help: "Total bytes stored through file creation",
		},
	)

	contentOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aftp_content_operation_duration_seconds",
			Help:    "Content backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation", "status"},
	)

	contentCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftp_content_cache_lookups_total",
			Help: "Content cache lookups by result",
		},
		[]string{"result"},
	)

	// Access metrics
	forbiddenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aftp_forbidden_total",
			Help: "Mutations rejected by the allow-list",
		},
	)

	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aftp_rate_limit_hits_total",
			Help: "Mutations rejected by the per-caller rate limiter",
		},
	)

	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aftp_sse_connections_active",
			Help: "Number of connected event stream clients",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftp_sse_events_total",
			Help: "Events published by type",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetTreeSize sets the current node count.
func SetTreeSize(size int) {
	treeSize.Set(float64(size))
}

// RecordFSOperation counts a tree operation. result is "ok", "not_found",
// "failed" or "forbidden".
func RecordFSOperation(op, result string) {
	fsOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordSnapshot records how long a snapshot took.
func RecordSnapshot(backend string, duration time.Duration, success bool) {
	snapshotDuration.WithLabelValues(backend, statusLabel(success)).Observe(duration.Seconds())
}

// RecordContentOperation records a content backend call.
func RecordContentOperation(backend, operation string, duration time.Duration, success bool) {
	contentOperationDuration.WithLabelValues(backend, operation, statusLabel(success)).Observe(duration.Seconds())
}

// RecordContentDownload adds served bytes.
func RecordContentDownload(bytes int64) {
	contentBytesDownloaded.Add(float64(bytes))
}

// RecordContentUpload adds stored bytes.
func RecordContentUpload(bytes int64) {
	contentBytesUploaded.Add(float64(bytes))
}

// RecordCacheLookup counts a content cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	contentCacheTotal.WithLabelValues(result).Inc()
}

// RecordForbidden counts a rejected mutation.
func RecordForbidden() {
	forbiddenTotal.Inc()
}

// RecordRateLimitHit counts a rate-limited mutation.
func RecordRateLimitHit() {
	rateLimitHits.Inc()
}

// SetSSEConnectionsActive sets the number of event stream clients.
func SetSSEConnectionsActive(n int) {
	sseConnectionsActive.Set(float64(n))
}

// RecordSSEEvent counts a published event.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// routeLabel keeps the first three path segments so entry paths do not
// become label values.
func routeLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return "/" + strings.Join(parts, "/")
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), rw.statusCode, time.Since(start))
	})
}
