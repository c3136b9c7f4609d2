// Package metrics provides Prometheus metrics for the attachment subsystem.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attachments_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Attachment lifecycle metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_uploads_total",
			Help: "Total number of image uploads appended to drafts",
		},
		[]string{"status"},
	)

	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attachments_upload_bytes_total",
			Help: "Total bytes stored under temporary keys",
		},
	)

	promotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_promotions_total",
			Help: "Total temporary to permanent copies issued",
		},
		[]string{"status"},
	)

	rollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_rollbacks_total",
			Help: "Total finalize passes rolled back, by reason",
		},
		[]string{"reason"},
	)

	deletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_object_deletions_total",
			Help: "Objects deleted, by the path that deleted them",
		},
		[]string{"source"},
	)

	skippedReferencedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_delete_skipped_referenced_total",
			Help: "Deletes skipped because the key was still referenced",
		},
		[]string{"source"},
	)

	swallowedFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_swallowed_storage_failures_total",
			Help: "Destructive storage failures logged and left for the next sweep",
		},
		[]string{"source"},
	)

	// Sweep metrics
	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attachments_sweep_duration_seconds",
			Help:    "Duration of one garbage collection sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	sweepDrafts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_sweep_drafts_total",
			Help: "Drafts visited by garbage collection, by outcome",
		},
		[]string{"outcome"},
	)

	// Object store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attachments_store_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_store_operations_total",
			Help: "Total object store operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordUpload(size int, success bool) {
	uploadsTotal.WithLabelValues(status(success)).Inc()
	if success {
		uploadBytes.Add(float64(size))
	}
}

func RecordPromotion(success bool) {
	promotionsTotal.WithLabelValues(status(success)).Inc()
}

func RecordRollback(reason string) {
	rollbacksTotal.WithLabelValues(reason).Inc()
}

func RecordDeletions(source string, n int) {
	if n > 0 {
		deletionsTotal.WithLabelValues(source).Add(float64(n))
	}
}

func RecordSkippedReferenced(source string, n int) {
	if n > 0 {
		skippedReferencedTotal.WithLabelValues(source).Add(float64(n))
	}
}

func RecordSwallowedFailure(source string) {
	swallowedFailuresTotal.WithLabelValues(source).Inc()
}

// RecordSweep records one sweep's duration and per-draft outcomes.
func RecordSweep(duration time.Duration, purged, skipped, failed int) {
	sweepDuration.Observe(duration.Seconds())
	sweepDrafts.WithLabelValues("purged").Add(float64(purged))
	sweepDrafts.WithLabelValues("skipped_referenced").Add(float64(skipped))
	sweepDrafts.WithLabelValues("failed").Add(float64(failed))
}

// RecordStoreOperation records an object store operation metric.
func RecordStoreOperation(backend, operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
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

// Flush keeps server-sent event streams working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics. The
// route label is the matched ServeMux pattern, so ids do not explode
// cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
