package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/pantryio/pantrymatch/internal/metrics"
	"github.com/pantryio/pantrymatch/pkg/types"
)

// RecomputeFunc rebuilds an entry from its stored normalized query.
// It is supplied by the pipeline.
type RecomputeFunc func(ctx context.Context, stale *types.CacheEntry) (*types.CacheEntry, error)

// WarmerConfig holds background warming settings.
type WarmerConfig struct {
	Interval     time.Duration
	MinHits      int64
	ExpiryWindow time.Duration
}

// Warmer refreshes hot entries nearing expiry in the background.
// Refresh failures are logged and never surfaced.
type Warmer struct {
	manager   *Manager
	recompute RecomputeFunc
	cfg       WarmerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewWarmer creates a background cache warmer.
func NewWarmer(manager *Manager, recompute RecomputeFunc, cfg WarmerConfig, logger *slog.Logger) *Warmer {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.MinHits <= 0 {
		cfg.MinHits = 3
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = 2 * time.Hour
	}

	return &Warmer{
		manager:   manager,
		recompute: recompute,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run loops until the context is canceled, refreshing eligible entries
// each interval.
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refreshOnce(ctx)
		}
	}
}

func (w *Warmer) refreshOnce(ctx context.Context) {
	for _, candidate := range w.manager.WarmCandidates(w.cfg.MinHits) {
		entry, ok := w.manager.Entry(ctx, candidate.Key)
		if !ok {
			continue
		}
		if entry.ExpiresAt.Sub(w.now()) > w.cfg.ExpiryWindow {
			continue
		}

		fresh, err := w.recompute(ctx, entry)
		if err != nil {
			metrics.WarmRefreshes.WithLabelValues("error").Inc()
			w.logger.Warn("cache warm refresh failed", "key", candidate.Key, "error", err)
			continue
		}

		w.manager.Store(ctx, fresh)
		metrics.WarmRefreshes.WithLabelValues("ok").Inc()
		w.logger.Debug("cache entry warmed", "key", candidate.Key, "hits", candidate.Hits)
	}
}
