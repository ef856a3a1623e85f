// Package metrics exposes harvest counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
)

const namespace = "urnharvest"

// Metrics holds every collector the harvester reports to.
type Metrics struct {
	registry *prometheus.Registry

	RecordsTotal    *prometheus.CounterVec
	HarvestsTotal   *prometheus.CounterVec
	PagesTotal      *prometheus.CounterVec
	HarvestDuration *prometheus.HistogramVec
	HarvestsRunning prometheus.Gauge
	LastSuccessUnix *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records reconciled, by source and outcome.",
		}, []string{"source", "outcome"}),
		HarvestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvests_total",
			Help:      "Finished source harvests, by result.",
		}, []string{"source", "result"}),
		PagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Documents fetched and parsed.",
		}, []string{"source"}),
		HarvestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "harvest_duration_seconds",
			Help:      "Wall time of one source harvest.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
		}, []string{"source"}),
		HarvestsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "harvests_running",
			Help:      "Source harvests currently in progress.",
		}),
		LastSuccessUnix: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Start time of the last successful harvest.",
		}, []string{"source"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveOutcome counts one reconciled record.
func (m *Metrics) ObserveOutcome(source string, o domain.Outcome) {
	m.RecordsTotal.WithLabelValues(source, string(o)).Inc()
}

// ObservePage counts one parsed document.
func (m *Metrics) ObservePage(source string) {
	m.PagesTotal.WithLabelValues(source).Inc()
}

// HarvestStarted marks a run as in progress.
func (m *Metrics) HarvestStarted() { m.HarvestsRunning.Inc() }

// ObserveHarvest records the end of a run.
func (m *Metrics) ObserveHarvest(s domain.RunSummary) {
	m.HarvestsRunning.Dec()
	result := "success"
	if !s.Success {
		result = "failure"
	}
	m.HarvestsTotal.WithLabelValues(s.Title, result).Inc()
	m.HarvestDuration.WithLabelValues(s.Title).Observe(s.Duration().Seconds())
	if s.Success {
		m.LastSuccessUnix.WithLabelValues(s.Title).Set(float64(s.StartedAt.Unix()))
	}
}
