// Package metrics exposes pipeline instrumentation as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components take one
// optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

const namespace = "mizan"

// Metrics holds the collectors registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	stageLatency *prometheus.HistogramVec
	queries      *prometheus.CounterVec
	ingestions   *prometheus.CounterVec
	indexSize    prometheus.Gauge
	sessions     prometheus.Counter
}

// New creates collectors on a fresh registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each query pipeline stage.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by category and outcome.",
		}, []string{"category", "outcome"}),
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Ingested documents by final status.",
		}, []string{"status"}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_entries",
			Help:      "Number of chunk vectors in the index.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created explicitly or on first query.",
		}),
	}
	reg.MustRegister(
		m.stageLatency, m.queries, m.ingestions, m.indexSize, m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage domain.Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// QueryOutcome counts a finished query. outcome is the compliance status
// for answered queries or the error code for failed ones.
func (m *Metrics) QueryOutcome(category domain.Category, outcome string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unrouted"
	}
	m.queries.WithLabelValues(string(category), outcome).Inc()
}

// IngestionOutcome counts a document reaching a terminal status.
func (m *Metrics) IngestionOutcome(status domain.DocumentStatus) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(string(status)).Inc()
}

// SetIndexSize records the current number of indexed vectors.
func (m *Metrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.indexSize.Set(float64(n))
}

// SessionCreated counts a new session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}
