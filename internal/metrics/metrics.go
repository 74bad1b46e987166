// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "repo_assistant"

var (
	// FilesIngested counts files by outcome.
	// Labels: result (processed, failed)
	FilesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Repository files visited during ingestion, by outcome",
		},
		[]string{"result"},
	)

	// ChunksEmbedded counts chunk embedding attempts.
	// Labels: result (success, error)
	ChunksEmbedded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunk embedding attempts during ingestion, by outcome",
		},
		[]string{"result"},
	)

	VectorsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "vectors_stored_total",
			Help:      "Vectors appended to the similarity index",
		},
	)

	VectorsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "vectors_rejected_total",
			Help:      "Vectors skipped on insert because of a dimension mismatch",
		},
	)

	// Queries counts answered queries.
	// Labels: mode (file, semantic), result (success, error)
	Queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "queries_total",
			Help:      "Queries handled by the orchestrator, by retrieval mode and outcome",
		},
		[]string{"mode", "result"},
	)

	// ProviderCalls counts calls to the embedding and completion providers.
	// Labels: kind (embedding, completion), result (success, error)
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Calls to external model providers, by kind and outcome",
		},
		[]string{"kind", "result"},
	)

	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a rate limiter token",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"limiter"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds, by route pattern and status",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "status"},
	)
)

// Result maps an error to the result label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
