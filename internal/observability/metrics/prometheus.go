// Package metrics provides Prometheus metrics for the safety engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	EvaluationsTotal         prometheus.Counter
	TimingConflictsDetected  prometheus.Counter
	DrugInteractionsDetected prometheus.Counter
	SafetyScore              prometheus.Histogram
	SuggestionsGenerated     prometheus.Counter
	Resolutions              *prometheus.CounterVec
	KnowledgeFallbacks       prometheus.Counter
	EvaluationDuration       prometheus.Histogram
	OutboxPending            prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_evaluations_total",
			Help: "Total schedule safety evaluations",
		}),
		TimingConflictsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timing_conflicts_detected_total",
			Help: "Total timing conflicts detected",
		}),
		DrugInteractionsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drug_interactions_detected_total",
			Help: "Total pharmacological interactions detected",
		}),
		SafetyScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "safety_score",
			Help:    "Distribution of computed safety scores",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
		}),
		SuggestionsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suggestions_generated_total",
			Help: "Total conflict suggestions generated",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolutions_total",
			Help: "Schedule resolutions by outcome",
		}, []string{"outcome"}),
		KnowledgeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "knowledge_fallbacks_total",
			Help: "Evaluations degraded by knowledge source failures",
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "safety_evaluation_duration_seconds",
			Help:    "Schedule evaluation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
	}

	prometheus.MustRegister(
		m.EvaluationsTotal,
		m.TimingConflictsDetected,
		m.DrugInteractionsDetected,
		m.SafetyScore,
		m.SuggestionsGenerated,
		m.Resolutions,
		m.KnowledgeFallbacks,
		m.EvaluationDuration,
		m.OutboxPending,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
