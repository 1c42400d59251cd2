package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for alert scoring.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ScoreRequests        *prometheus.CounterVec
	ScoreDuration        prometheus.Histogram
	PriorityScore        prometheus.Histogram
	ClassifierConfidence prometheus.Histogram
	DegradedInputs       *prometheus.CounterVec
	DependencyErrors     *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScoreRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertrank_score_requests_total",
			Help: "Total number of alert scoring requests by outcome",
		}, []string{"status"}),
		ScoreDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertrank_score_duration_seconds",
			Help:    "Time spent scoring one alert, dependency calls included",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PriorityScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertrank_priority_score",
			Help:    "Distribution of computed priority scores",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		ClassifierConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertrank_classifier_confidence",
			Help:    "Classifier confidence of returned verdicts",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99, 1.0},
		}),
		DegradedInputs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertrank_degraded_inputs_total",
			Help: "Scores computed with an input degraded to zero",
		}, []string{"input"}),
		DependencyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertrank_dependency_errors_total",
			Help: "Errors returned by external dependencies",
		}, []string{"dependency", "kind"}),
	}
}

// ObserveScore records one scoring outcome.
func (m *Metrics) ObserveScore(status string, elapsed time.Duration, score float64) {
	if m == nil {
		return
	}
	m.ScoreRequests.WithLabelValues(status).Inc()
	m.ScoreDuration.Observe(elapsed.Seconds())
	if status == "success" {
		m.PriorityScore.Observe(score)
	}
}

// ObserveConfidence records a classifier confidence.
func (m *Metrics) ObserveConfidence(c float64) {
	if m == nil {
		return
	}
	m.ClassifierConfidence.Observe(c)
}

// IncDegraded counts a degraded scoring input.
func (m *Metrics) IncDegraded(input string) {
	if m == nil {
		return
	}
	m.DegradedInputs.WithLabelValues(input).Inc()
}

// IncDependencyError counts a dependency failure by kind.
func (m *Metrics) IncDependencyError(dependency, kind string) {
	if m == nil {
		return
	}
	m.DependencyErrors.WithLabelValues(dependency, kind).Inc()
}
