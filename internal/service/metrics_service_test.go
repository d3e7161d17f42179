package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceDomainCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordIngest("researcher", 3)
	m.RecordIngest("researcher", 0)
	m.RecordTransition("REJECTED")
	m.RecordPromotion("success")
	m.RecordPromotion("DUPLICATE_KEY")
	m.RecordFetch("pubmed", false)
	m.RecordResolution("MATCHED")

	body := scrape(t, m)
	assert.Contains(t, body, `staging_ingested_total{schema="researcher"} 3`)
	assert.Contains(t, body, `promotions_total{result="DUPLICATE_KEY"} 1`)
	assert.Contains(t, body, `enrichment_fetch_total{result="failure",source="pubmed"} 1`)
	assert.Contains(t, body, `identity_resolutions_total{outcome="MATCHED"} 1`)

	m.ObserveJob("enrichment", "succeeded", 2*time.Second)
	assert.Contains(t, scrape(t, m), `background_job_duration_seconds_count{outcome="succeeded",type="enrichment"} 1`)
}

func scrape(t *testing.T, m *MetricsService) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsServiceCacheRatio(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, "cache_hits_total 2")
	assert.Contains(t, body, "cache_misses_total 1")
}

func TestMetricsServiceHandler(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/staging/entries", http.StatusOK, 5*time.Millisecond)

	assert.True(t, strings.Contains(scrape(t, m), "http_requests_total"))

	var nilMetrics *MetricsService
	rec := httptest.NewRecorder()
	nilMetrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	nilMetrics.RecordPromotion("success")
}
