// Package metrics provides Prometheus metrics collection for the
// recommendation pipeline. It tracks request counts, per-stage
// latencies, cache effectiveness and model call outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pantrymatch"
)

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.0, 3.0, 5.0, 7.5, 10.0, 15.0, 20.0, 30.0, 60.0,
}

// Pipeline stage label values.
const (
	StageNormalize = "normalize"
	StageCache     = "cache"
	StageGenerate  = "generate"
	StageMatch     = "match"
	StageValidate  = "validate"
	StageAssemble  = "assemble"
	StageTotal     = "total"
)

var (
	// RequestsTotal counts recommendation requests by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of recommendation requests",
		},
		[]string{"store_id", "status"},
	)

	// StageLatency tracks per-stage pipeline latency.
	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"stage"},
	)

	// CacheHits counts cache hits by tier (exact, similarity).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	// CacheMisses counts cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	// CacheBackendErrors counts failed cache backend operations.
	CacheBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_backend_errors_total",
			Help:      "Total number of cache backend operation failures",
		},
		[]string{"operation"},
	)

	// ModelCalls counts upstream model calls by purpose and outcome.
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Total number of model backend calls",
		},
		[]string{"purpose", "status"},
	)

	// DegradedCategories counts categories dropped from responses.
	DegradedCategories = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_categories_total",
			Help:      "Total number of categories degraded out of responses",
		},
		[]string{"reason"},
	)

	// CandidatesGenerated tracks candidate item counts per category.
	CandidatesGenerated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_per_category",
			Help:      "Candidate items generated per category",
			Buckets:   []float64{1, 2, 5, 10, 15, 20},
		},
	)

	// WarmRefreshes counts background cache warming refreshes.
	WarmRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warm_refreshes_total",
			Help:      "Total number of background cache warming refreshes",
		},
		[]string{"status"},
	)
)

// ObserveStage records the duration of a pipeline stage.
func ObserveStage(stage string, start time.Time) {
	StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
