package lecturequiz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	QuizzesGenerated   *prometheus.CounterVec
	ExtractionOutcomes *prometheus.CounterVec
	VerifierDecisions  *prometheus.CounterVec
	ExternalFailures   *prometheus.CounterVec
	GradingDuration    prometheus.Histogram
	ExternalDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil registry
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QuizzesGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lecturequiz_quizzes_generated_total",
				Help: "Quizzes generated, by question source",
			},
			[]string{"source"},
		),
		ExtractionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lecturequiz_extraction_attempts_total",
				Help: "Extraction capability attempts, by capability and outcome",
			},
			[]string{"capability", "outcome"},
		),
		VerifierDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lecturequiz_verifier_decisions_total",
				Help: "Answer verdicts, by deciding tier and correctness",
			},
			[]string{"tier", "correct"},
		),
		ExternalFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lecturequiz_external_failures_total",
				Help: "Failed calls to external services, by component",
			},
			[]string{"component"},
		),
		GradingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lecturequiz_grading_duration_seconds",
				Help:    "Time spent grading a submission",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 15, 30},
			},
		),
		ExternalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lecturequiz_external_call_duration_seconds",
				Help:    "Duration of calls to the generative text service",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"provider"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.QuizzesGenerated,
			m.ExtractionOutcomes,
			m.VerifierDecisions,
			m.ExternalFailures,
			m.GradingDuration,
			m.ExternalDuration,
		)
	}
	return m
}

func (m *Metrics) observeGeneration(source GenerationSource) {
	if m == nil {
		return
	}
	m.QuizzesGenerated.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) observeExtraction(capability, outcome string) {
	if m == nil {
		return
	}
	m.ExtractionOutcomes.WithLabelValues(capability, outcome).Inc()
}

func (m *Metrics) observeVerdict(out VerificationOutcome) {
	if m == nil {
		return
	}
	correct := "false"
	if out.Correct {
		correct = "true"
	}
	m.VerifierDecisions.WithLabelValues(out.Tier, correct).Inc()
}

func (m *Metrics) observeFailure(component string) {
	if m == nil {
		return
	}
	m.ExternalFailures.WithLabelValues(component).Inc()
}

func (m *Metrics) observeGrading(start time.Time) {
	if m == nil {
		return
	}
	m.GradingDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeExternalCall(provider string, start time.Time) {
	if m == nil {
		return
	}
	m.ExternalDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}
