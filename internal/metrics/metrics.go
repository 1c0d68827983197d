// Package metrics defines the Prometheus collectors used across the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "learnengine"

// Metrics groups every collector. Fields are safe for concurrent use.
type Metrics struct {
	AttemptsRecorded  *prometheus.CounterVec
	AttemptConflicts  prometheus.Counter
	AttemptDuplicates prometheus.Counter
	MasteryChanges    *prometheus.CounterVec

	RecommendationsGenerated  *prometheus.CounterVec
	RecommendationTransitions *prometheus.CounterVec

	PathsBuilt    prometheus.Counter
	PathsAdvanced *prometheus.CounterVec

	SessionsStarted     prometheus.Counter
	SessionsEnded       *prometheus.CounterVec
	SessionDifficulty   prometheus.Histogram
	CollaboratorLatency *prometheus.HistogramVec

	QuestionCache *prometheus.CounterVec

	LLMRequests *prometheus.CounterVec
	LLMTokens   *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AttemptsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_recorded_total",
			Help:      "Attempts applied to behavior records.",
		}, []string{"correct"}),
		AttemptConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_conflicts_total",
			Help:      "Concurrent-write conflicts retried while recording attempts.",
		}),
		AttemptDuplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_duplicates_total",
			Help:      "Attempts ignored because their id was already applied.",
		}),
		MasteryChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mastery_changes_total",
			Help:      "Mastery level changes by direction.",
		}, []string{"direction"}),
		RecommendationsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_generated_total",
			Help:      "Recommendations created or refreshed by type.",
		}, []string{"type"}),
		RecommendationTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendation_transitions_total",
			Help:      "Recommendation status transitions by target status.",
		}, []string{"status"}),
		PathsBuilt: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paths_built_total",
			Help:      "Learning paths built.",
		}),
		PathsAdvanced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paths_advanced_total",
			Help:      "Learning path advances by resulting status.",
		}, []string{"status"}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Practice sessions started.",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Practice sessions finished by reason.",
		}, []string{"reason"}),
		SessionDifficulty: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_final_difficulty",
			Help:      "Difficulty at session end.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		CollaboratorLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_latency_seconds",
			Help:      "Latency of question fetch and answer evaluation calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		QuestionCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "question_cache_total",
			Help:      "Question cache lookups by result.",
		}, []string{"result"}),
		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LLMTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by provider and kind.",
		}, []string{"provider", "kind"}),
	}
}

// NewNop returns collectors bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// OrNop returns m, or unregistered collectors when m is nil.
func OrNop(m *Metrics) *Metrics {
	if m == nil {
		return NewNop()
	}
	return m
}

// Direction labels a mastery change.
func Direction(from, to int) string {
	switch {
	case to > from:
		return "up"
	case to < from:
		return "down"
	default:
		return "same"
	}
}
