package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pod_engine"

// Phase counters (incremented by the orchestrator).
var (
	PhaseRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "phase_runs_total",
		Help:      "Phase executions by outcome.",
	}, []string{"phase", "outcome"})

	PhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Phase wall-clock duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8), // 1s → ~4.5h
	}, []string{"phase"})
)

// Work counters (incremented directly by phase workers).
var (
	EpisodesDiscoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "episodes_discovered_total",
		Help:      "New episode rows inserted by discovery.",
	})

	TranscribeChunksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcribe_chunks_total",
		Help:      "Audio chunks transcribed by outcome.",
	}, []string{"outcome"})

	TTSChunksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tts_chunks_total",
		Help:      "TTS chunks synthesized by outcome.",
	}, []string{"outcome"})

	LLMCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_calls_total",
		Help:      "LLM completions by purpose and outcome.",
	}, []string{"purpose", "outcome"})

	DigestsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "digests_published_total",
		Help:      "Digests uploaded to the release store.",
	})
)

func init() {
	prometheus.MustRegister(
		PhaseRunsTotal,
		PhaseDuration,
		EpisodesDiscoveredTotal,
		TranscribeChunksTotal,
		TTSChunksTotal,
		LLMCallsTotal,
		DigestsPublishedTotal,
	)
}
