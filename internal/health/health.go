// Package health aggregates service liveness signals for the health
// endpoint: cache hit rate, request latency and backend reachability.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/pantryio/pantrymatch/internal/cache"
	"github.com/pantryio/pantrymatch/pkg/types"
)

// ewmaAlpha weights recent request latencies.
const ewmaAlpha = 0.2

// CachePinger exposes the cache manager surface the tracker needs.
type CachePinger interface {
	Ping(ctx context.Context) error
	Stats() cache.Stats
}

// Tracker accumulates request outcomes and renders health snapshots.
type Tracker struct {
	cache     CachePinger
	startedAt time.Time

	mu              sync.Mutex
	avgLatency      float64 // milliseconds
	requests        int64
	catalogDegraded bool
}

// NewTracker creates a health tracker.
func NewTracker(cache CachePinger) *Tracker {
	return &Tracker{
		cache:     cache,
		startedAt: time.Now(),
	}
}

// RecordRequest folds a completed request's latency into the average.
func (t *Tracker) RecordRequest(latency time.Duration) {
	ms := float64(latency.Milliseconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests++
	if t.requests == 1 {
		t.avgLatency = ms
		return
	}
	t.avgLatency = ewmaAlpha*ms + (1-ewmaAlpha)*t.avgLatency
}

// SetCatalogDegraded flags catalog accessor trouble.
func (t *Tracker) SetCatalogDegraded(degraded bool) {
	t.mu.Lock()
	t.catalogDegraded = degraded
	t.mu.Unlock()
}

// Snapshot renders the current health view. Status degrades when the
// cache backend is unreachable or the catalog is failing.
func (t *Tracker) Snapshot(ctx context.Context) types.HealthResponse {
	cacheReachable := t.cache.Ping(ctx) == nil
	stats := t.cache.Stats()

	t.mu.Lock()
	avgLatency := t.avgLatency
	catalogDegraded := t.catalogDegraded
	t.mu.Unlock()

	status := "ok"
	if !cacheReachable || catalogDegraded {
		status = "degraded"
	}

	return types.HealthResponse{
		Status:          status,
		CacheHitRate:    stats.HitRate(),
		AvgLatencyMs:    avgLatency,
		CacheReachable:  cacheReachable,
		CatalogDegraded: catalogDegraded,
		Uptime:          time.Since(t.startedAt).Round(time.Second).String(),
		Timestamp:       time.Now().UTC(),
	}
}
