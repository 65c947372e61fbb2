package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scribeworks_ask_duration_seconds",
			Help:    "Question answering duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"scope"},
	)

	AskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeworks_ask_total",
			Help: "Total number of questions processed",
		},
		[]string{"status"},
	)

	RetrievedChunksCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scribeworks_retrieved_chunks_count",
			Help:    "Number of chunks retrieved per question",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"source"},
	)

	QualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scribeworks_quality_score",
			Help:    "Answer quality scores on the 0-5 display scale",
			Buckets: []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeworks_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	IndexedTranscripts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeworks_indexed_transcripts_total",
			Help: "Total transcripts indexed",
		},
		[]string{"status"},
	)

	IndexingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scribeworks_indexing_duration_seconds",
			Help:    "Per-transcript indexing duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	EmbeddingFallbackActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scribeworks_embedding_fallback_active",
			Help: "1 when the local fallback embedder is serving requests",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeworks_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeworks_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeworks_feedback_total",
			Help: "Total feedback submissions",
		},
		[]string{"type"},
	)
)

func Init() {
	prometheus.MustRegister(AskDuration)
	prometheus.MustRegister(AskTotal)
	prometheus.MustRegister(RetrievedChunksCount)
	prometheus.MustRegister(QualityScore)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(IndexedTranscripts)
	prometheus.MustRegister(IndexingDuration)
	prometheus.MustRegister(EmbeddingFallbackActive)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(FeedbackTotal)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
