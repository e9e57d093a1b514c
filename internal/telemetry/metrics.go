package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for retrieval and expansion.
// Each instance owns its registry so tests and multiple engines never
// collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	SearchRequestsTotal *prometheus.CounterVec
	SearchLatency       *prometheus.HistogramVec
	SourceFailuresTotal *prometheus.CounterVec
	SearchDegraded      *prometheus.CounterVec
	SearchEmptyTotal    *prometheus.CounterVec

	BacklogMarkedTotal       prometheus.Counter
	ParaphrasesInsertedTotal prometheus.Counter
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SearchRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qamatch_search_requests_total",
				Help: "Total number of retrieval requests",
			},
			[]string{"mode", "status"},
		),
		SearchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qamatch_search_latency_seconds",
				Help:    "Retrieval latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"mode"},
		),
		SourceFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qamatch_source_failures_total",
				Help: "Candidate source failures and timeouts",
			},
			[]string{"source"},
		),
		SearchDegraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qamatch_search_degraded_total",
				Help: "Requests answered without the named source",
			},
			[]string{"source"},
		),
		SearchEmptyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qamatch_search_empty_total",
				Help: "Requests that returned no candidates",
			},
			[]string{"mode"},
		),
		BacklogMarkedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "qamatch_backlog_marked_total",
				Help: "Base phrases newly recorded in the paraphrase ledger",
			},
		),
		ParaphrasesInsertedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "qamatch_paraphrases_inserted_total",
				Help: "Paraphrase index entries inserted",
			},
		),
	}
}

// RecordSearch records one retrieval request.
func (m *Metrics) RecordSearch(mode, status string, resultCount int, duration time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(mode, status).Inc()
	m.SearchLatency.WithLabelValues(mode).Observe(duration.Seconds())
	if status == StatusOK && resultCount == 0 {
		m.SearchEmptyTotal.WithLabelValues(mode).Inc()
	}
}

// RecordSourceFailure records a failed or timed-out candidate source.
func (m *Metrics) RecordSourceFailure(source string) {
	if m == nil {
		return
	}
	m.SourceFailuresTotal.WithLabelValues(source).Inc()
}

// RecordDegraded records a request answered without source.
func (m *Metrics) RecordDegraded(source string) {
	if m == nil {
		return
	}
	m.SearchDegraded.WithLabelValues(source).Inc()
}

// RecordExpansion records the outcome of expanding one base phrase.
func (m *Metrics) RecordExpansion(inserted int, marked bool) {
	if m == nil {
		return
	}
	m.ParaphrasesInsertedTotal.Add(float64(inserted))
	if marked {
		m.BacklogMarkedTotal.Inc()
	}
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Request status labels.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusInvalid  = "invalid"
	StatusError    = "error"
)
