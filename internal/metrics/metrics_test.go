package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPage(t *testing.T) {
	before := testutil.ToFloat64(pagesProcessedTotal.WithLabelValues("error"))
	RecordPage(false)
	assert.Equal(t, before+1, testutil.ToFloat64(pagesProcessedTotal.WithLabelValues("error")))
}

func TestSetHandlesOutstanding(t *testing.T) {
	SetHandlesOutstanding(3, 4096)
	assert.Equal(t, 3.0, testutil.ToFloat64(handlesOutstanding))
	assert.Equal(t, 4096.0, testutil.ToFloat64(handleBytesOutstanding))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/books/{hash}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/books/{hash}", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/books/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/books/{hash}", "418")))
}

func TestHandler(t *testing.T) {
	RecordOCR("recognized")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "comic_extractor_ocr_requests_total"))
}
