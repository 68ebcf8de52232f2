// Package metrics exposes Prometheus metrics for provider calls and quota usage.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"property-collector/models"
)

const (
	// MetricsNamespace is the namespace for all collector metrics.
	MetricsNamespace = "property_collector"
)

// Metrics holds the collector's Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Provider metrics
	ProviderRequestsTotal *prometheus.CounterVec
	ProviderFetchDuration *prometheus.HistogramVec
	RecordsFetchedTotal   *prometheus.CounterVec

	// Quota metrics
	QuotaUsed      *prometheus.GaugeVec
	QuotaRemaining *prometheus.GaugeVec

	// Pipeline metrics
	PropertiesStoredTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all metrics on reg. A nil reg gets a
// fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.ProviderRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider fetches by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	m.ProviderFetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "provider",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of one provider fetch including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"source"},
	)

	m.RecordsFetchedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "provider",
			Name:      "records_fetched_total",
			Help:      "Raw records returned by providers",
		},
		[]string{"source"},
	)

	m.QuotaUsed = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "quota",
			Name:      "used",
			Help:      "Units spent in the current monthly period",
		},
		[]string{"source"},
	)

	m.QuotaRemaining = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "quota",
			Name:      "remaining",
			Help:      "Units left in the current monthly period (-1 = unlimited)",
		},
		[]string{"source"},
	)

	m.PropertiesStoredTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "pipeline",
			Name:      "properties_stored_total",
			Help:      "Merged properties written to storage by result",
		},
		[]string{"result"},
	)

	return m
}

// ObserveFetch records one provider fetch.
func (m *Metrics) ObserveFetch(source, outcome string, d time.Duration, records int) {
	if m == nil {
		return
	}
	m.ProviderRequestsTotal.WithLabelValues(source, outcome).Inc()
	m.ProviderFetchDuration.WithLabelValues(source).Observe(d.Seconds())
	if records > 0 {
		m.RecordsFetchedTotal.WithLabelValues(source).Add(float64(records))
	}
}

// ObserveQuota publishes a quota status snapshot.
func (m *Metrics) ObserveQuota(st models.QuotaStatus) {
	if m == nil {
		return
	}
	m.QuotaUsed.WithLabelValues(st.SourceID).Set(float64(st.Used))
	remaining := -1.0
	if st.Remaining != nil {
		remaining = float64(*st.Remaining)
	}
	m.QuotaRemaining.WithLabelValues(st.SourceID).Set(remaining)
}

// ObserveStore counts one storage write.
func (m *Metrics) ObserveStore(result string) {
	if m == nil {
		return
	}
	m.PropertiesStoredTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
