package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rag",
		Name:      "documents_ingested_total",
		Help:      "Documents that finished ingestion, by terminal status.",
	}, []string{"status"})

	chunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rag",
		Name:      "chunks_indexed_total",
		Help:      "Chunks written to the vector store.",
	})

	embeddingCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rag",
		Name:      "embedding_cache_hits_total",
		Help:      "Embedding lookups served from cache.",
	})

	embeddingCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rag",
		Name:      "embedding_cache_misses_total",
		Help:      "Embedding lookups that required a provider call.",
	})

	retrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rag",
		Name:      "retrieval_duration_seconds",
		Help:      "End-to-end duration of retrieval passes.",
		Buckets:   prometheus.DefBuckets,
	})

	retrievalFileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rag",
		Name:      "retrieval_file_failures_total",
		Help:      "Per-file queries that failed and were skipped.",
	})

	ocrFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rag",
		Name:      "ocr_fallbacks_total",
		Help:      "Times the primary OCR engine failed over to the fallback.",
	})
)
