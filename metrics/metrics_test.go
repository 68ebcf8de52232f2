package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-collector/models"
)

func TestObserveFetch(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveFetch("rentcast", "ok", 120*time.Millisecond, 7)
	m.ObserveFetch("rentcast", "quota_exceeded", time.Millisecond, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequestsTotal.WithLabelValues("rentcast", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequestsTotal.WithLabelValues("rentcast", "quota_exceeded")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.RecordsFetchedTotal.WithLabelValues("rentcast")))
}

func TestObserveQuota(t *testing.T) {
	m := NewMetrics(nil)
	remaining := 38

	m.ObserveQuota(models.QuotaStatus{SourceID: "rentcast", Used: 12, Remaining: &remaining})
	m.ObserveQuota(models.QuotaStatus{SourceID: "demo", Used: 3})

	assert.Equal(t, 12.0, testutil.ToFloat64(m.QuotaUsed.WithLabelValues("rentcast")))
	assert.Equal(t, 38.0, testutil.ToFloat64(m.QuotaRemaining.WithLabelValues("rentcast")))
	assert.Equal(t, -1.0, testutil.ToFloat64(m.QuotaRemaining.WithLabelValues("demo")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("x", "ok", time.Second, 1)
	m.ObserveQuota(models.QuotaStatus{SourceID: "x"})
	m.ObserveStore("inserted")
}

func TestHandlerServesMetrics(t *testing.T) {
	m := NewMetrics(nil)
	m.ObserveStore("inserted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `property_collector_pipeline_properties_stored_total{result="inserted"} 1`)
}
