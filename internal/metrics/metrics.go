// Package metrics defines the Prometheus instruments shared across the
// service. All metrics carry the pagesage_ prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMRequestDuration observes provider completion latency.
	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagesage_llm_request_duration_seconds",
		Help:    "LLM provider request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"provider", "outcome"})

	// LLMTokensTotal counts tokens consumed per provider.
	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesage_llm_tokens_total",
		Help: "Total tokens consumed across LLM providers",
	}, []string{"provider"})

	// EmbeddingRequestsTotal counts embedding calls per provider and outcome.
	EmbeddingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesage_embedding_requests_total",
		Help: "Total embedding requests per provider",
	}, []string{"provider", "outcome"})

	// EmbeddingFallbacksTotal counts requests served by the deterministic
	// local embedder after every hosted provider failed.
	EmbeddingFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagesage_embedding_fallbacks_total",
		Help: "Embedding requests served by the local fallback embedder",
	})

	// ArticlesProcessedTotal counts pipeline completions by status.
	ArticlesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesage_articles_processed_total",
		Help: "Articles processed by the ingestion pipeline",
	}, []string{"status"})

	// PipelineDuration observes end-to-end article processing latency.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagesage_pipeline_duration_seconds",
		Help:    "Article processing pipeline duration in seconds",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
	})

	// PipelineEstimatedCostUSD observes the estimated provider spend per
	// processed article.
	PipelineEstimatedCostUSD = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagesage_pipeline_estimated_cost_usd",
		Help:    "Estimated provider cost per processed article in USD",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// CacheOperationsTotal counts cache lookups by result.
	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesage_cache_operations_total",
		Help: "Cache lookups by operation and result",
	}, []string{"operation", "result"})

	// SearchQueriesTotal counts similarity and question lookups.
	SearchQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesage_search_queries_total",
		Help: "Search queries by kind",
	}, []string{"kind"})

	// HTTPRequestDuration observes API latency per route and status class.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagesage_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	// BreakerState exports each circuit breaker's state (0 closed, 1
	// half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagesage_circuit_breaker_state",
		Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})
)
