package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the approval workflow.
type Metrics struct {
	WorkflowsTotal     *prometheus.CounterVec
	WorkflowDuration   *prometheus.HistogramVec
	DecisionsTotal     *prometheus.CounterVec
	DispatchAttempts   prometheus.Counter
	DispatchFallbacks  prometheus.Counter
	AssessorDegraded   prometheus.Counter
	ValidationDuration prometheus.Histogram
	AssessmentDuration prometheus.Histogram
}

// NewMetrics registers and returns workflow metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greenlight_workflows_total",
			Help: "Completed workflow submissions by resulting state.",
		}, []string{"state"}),
		WorkflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "greenlight_workflow_duration_seconds",
			Help:    "Duration of workflow submissions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"state"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greenlight_decisions_total",
			Help: "Decision events by decision and outcome (applied, duplicate, stale).",
		}, []string{"decision", "outcome"}),
		DispatchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenlight_dispatch_attempts_total",
			Help: "Notification dispatch attempts including retries.",
		}),
		DispatchFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenlight_dispatch_fallbacks_total",
			Help: "Dispatches that fell back to the default destination.",
		}),
		AssessorDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenlight_assessor_degraded_total",
			Help: "Risk assessments produced without the summarizer.",
		}),
		ValidationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "greenlight_validation_duration_seconds",
			Help:    "Duration of validation runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		AssessmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "greenlight_assessment_duration_seconds",
			Help:    "Duration of risk assessments in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	reg.MustRegister(
		m.WorkflowsTotal,
		m.WorkflowDuration,
		m.DecisionsTotal,
		m.DispatchAttempts,
		m.DispatchFallbacks,
		m.AssessorDegraded,
		m.ValidationDuration,
		m.AssessmentDuration,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding
// metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnComplete: func(state State, duration float64) {
			m.WorkflowsTotal.WithLabelValues(string(state)).Inc()
			m.WorkflowDuration.WithLabelValues(string(state)).Observe(duration)
		},
		OnDecision: func(decision, outcome string) {
			m.DecisionsTotal.WithLabelValues(decision, outcome).Inc()
		},
		OnDispatchAttempt:    func() { m.DispatchAttempts.Inc() },
		OnDispatchFallback:   func() { m.DispatchFallbacks.Inc() },
		OnDegradedAssessment: func() { m.AssessorDegraded.Inc() },
		OnValidation:         func(duration float64) { m.ValidationDuration.Observe(duration) },
		OnAssessment:         func(duration float64) { m.AssessmentDuration.Observe(duration) },
	}
}
