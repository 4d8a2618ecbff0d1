// Package metrics provides Prometheus metrics for the comic extractor.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comic_extractor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comic_extractor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Pipeline metrics
	booksAssembledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comic_extractor_books_total",
			Help: "Pipeline runs by terminal state and error code",
		},
		[]string{"format", "state", "code"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comic_extractor_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	pagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comic_extractor_pages_total",
			Help: "Pages processed by the pipeline",
		},
		[]string{"status"},
	)

	objectsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comic_extractor_objects_detected_total",
			Help: "Page objects kept after filtering",
		},
		[]string{"class"},
	)

	// Decoder metrics
	decodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comic_extractor_decode_duration_seconds",
			Help:    "Region decode duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// OCR metrics
	ocrRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comic_extractor_ocr_requests_total",
			Help: "OCR requests by result state",
		},
		[]string{"state"},
	)

	// Handle metrics
	handlesOutstanding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comic_extractor_page_handles_outstanding",
			Help: "Encoded page handles acquired and not yet released",
		},
	)

	handleBytesOutstanding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comic_extractor_page_handle_bytes_outstanding",
			Help: "Bytes held by unreleased encoded page handles",
		},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comic_extractor_cache_lookups_total",
			Help: "Book cache lookups",
		},
		[]string{"result"},
	)

	// Catalog metrics
	catalogQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comic_extractor_catalog_query_duration_seconds",
			Help:    "Catalog query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	addResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comic_extractor_add_results_total",
			Help: "AddBook outcomes",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBook records a pipeline run reaching a terminal state.
func RecordBook(format, state, code string) {
	booksAssembledTotal.WithLabelValues(format, state, code).Inc()
}

// RecordStage records the duration of one pipeline stage.
func RecordStage(stage string, duration time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordPage records one processed page.
func RecordPage(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pagesProcessedTotal.WithLabelValues(status).Inc()
}

// RecordObjects records detected objects by class.
func RecordObjects(class string, n int) {
	objectsDetectedTotal.WithLabelValues(class).Add(float64(n))
}

// RecordDecode records a region decode.
func RecordDecode(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	decodeDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordOCR records an OCR result state.
func RecordOCR(state string) {
	ocrRequestsTotal.WithLabelValues(state).Inc()
}

// SetHandlesOutstanding sets the number and size of unreleased page handles.
func SetHandlesOutstanding(count int, bytes int64) {
	handlesOutstanding.Set(float64(count))
	handleBytesOutstanding.Set(float64(bytes))
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCatalogQuery records a catalog query duration.
func RecordCatalogQuery(query string, duration time.Duration) {
	catalogQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordAddResult records an AddBook outcome.
func RecordAddResult(result string) {
	addResultsTotal.WithLabelValues(result).Inc()
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

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Paths are
// labelled with the chi route pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
