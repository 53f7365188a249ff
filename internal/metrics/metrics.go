// Package metrics holds the Prometheus collectors for the patch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mistborn",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Model calls by operation and outcome.",
	}, []string{"op", "outcome"})

	ModelLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mistborn",
		Subsystem: "llm",
		Name:      "call_duration_seconds",
		Help:      "Model call latency by operation.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"op"})

	EmbedCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mistborn",
		Subsystem: "llm",
		Name:      "embed_cache_hits_total",
		Help:      "Embedding requests served from the in-memory cache.",
	})

	RAGIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mistborn",
		Subsystem: "rag",
		Name:      "iterations",
		Help:      "Query/prompt round-trips per retrieval-augmented generation, by terminal state.",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	}, []string{"state"})

	Selections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mistborn",
		Subsystem: "patch",
		Name:      "selections_total",
		Help:      "Selected strategy per pipeline run.",
	}, []string{"strategy"})

	ReconcileMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mistborn",
		Subsystem: "patch",
		Name:      "reconcile_misses_total",
		Help:      "Runs where no changed file matched the selected patch.",
	})
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)
