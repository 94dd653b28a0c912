// Package metrics exposes Prometheus counters for the ingestion pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResourcesTotal      *prometheus.CounterVec
	ExtractionWarnings  *prometheus.CounterVec
	EmbeddingFailures   prometheus.Counter
	QuarantinedTotal    prometheus.Counter
	EmbedBatchDuration  prometheus.Histogram
	ChunksEmbeddedTotal prometheus.Counter
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(register)
}

func register() {
	ResourcesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regraph_resources_total",
			Help: "Total number of processed resources.",
		},
		[]string{"role", "decision"},
	)

	ExtractionWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regraph_extraction_warnings_total",
			Help: "Extraction warnings by class.",
		},
		[]string{"class"},
	)

	EmbeddingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "regraph_embedding_failures_total",
			Help: "Embedding batches that failed after retries.",
		},
	)

	QuarantinedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "regraph_quarantined_total",
			Help: "Resources quarantined after a processing error.",
		},
	)

	EmbedBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "regraph_embed_batch_duration_seconds",
			Help:    "Duration of embedding batch calls.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	ChunksEmbeddedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "regraph_chunks_embedded_total",
			Help: "Chunks that received a new embedding.",
		},
	)
}
