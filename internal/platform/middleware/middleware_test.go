package middleware

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianmurray333/ganamos-sub006/internal/platform/metrics"
)

// metrics.New registers on the default registry, so it runs once for the
// whole binary.
var testMetrics = metrics.New()

func TestLatencyRecordsPerEndpoint(t *testing.T) {
	handler := Latency(testMetrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// The observation must be visible on the scrape endpoint.
	scrape := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, scrape.Code)

	count := regexp.MustCompile(
		`ganamos_endpoint_latency_seconds_count\{endpoint="/api/jobs"\} (\d+)`,
	).FindStringSubmatch(scrape.Body.String())
	require.NotNil(t, count, "latency histogram missing from scrape")
	assert.NotEqual(t, "0", count[1])
}

func TestLatencyNilMetricsPassesThrough(t *testing.T) {
	var served bool
	handler := Latency(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		served = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, served)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
