package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/pantryio/pantrymatch/internal/metrics"
	"github.com/pantryio/pantrymatch/pkg/types"
)

// ManagerConfig holds cache manager settings.
type ManagerConfig struct {
	TTL                 time.Duration
	OpTimeout           time.Duration
	SimilarityThreshold float64
}

// Manager coordinates exact lookup, similarity fallback, single-flight
// computation and entry storage. Backend failures degrade to misses or
// no-ops and are never surfaced to request handling.
type Manager struct {
	backend   Backend
	index     *SimIndex
	group     singleflight.Group
	ttl       time.Duration
	opTimeout time.Duration
	threshold float64
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	tracked map[string]*keyTrack
	loaded  map[string]bool // storeID -> index snapshot restored
}

type keyTrack struct {
	storeID string
	hits    int64
}

// NewManager creates a cache manager over the given backend.
func NewManager(backend Backend, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 48 * time.Hour
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 3 * time.Second
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.80
	}

	return &Manager{
		backend:   backend,
		index:     NewSimIndex(),
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
		threshold: cfg.SimilarityThreshold,
		logger:    logger,
		now:       time.Now,
		tracked:   make(map[string]*keyTrack),
		loaded:    make(map[string]bool),
	}
}

// Lookup returns the live entry for an exact key, or a miss. Expired
// entries still present in the backend read as misses. Backend errors
// degrade to a miss with a logged warning.
func (m *Manager) Lookup(ctx context.Context, key string) (*types.CacheEntry, bool) {
	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	data, err := m.backend.Get(opCtx, key)
	if err != nil {
		metrics.CacheBackendErrors.WithLabelValues("get").Inc()
		m.logger.Warn("cache lookup degraded to miss", "key", key, "error", err)
		return nil, false
	}
	if data == nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		m.logger.Warn("cache entry corrupt, treating as miss", "key", key, "error", err)
		metrics.CacheMisses.Inc()
		return nil, false
	}

	if entry.Expired(m.now()) {
		metrics.CacheMisses.Inc()
		return nil, false
	}

	entry.HitCount++
	m.trackHit(key, entry.StoreID)
	metrics.CacheHits.WithLabelValues("exact").Inc()
	return &entry, true
}

// LookupSimilar falls back to the similarity index when no exact entry
// exists. It returns the closest live entry whose token similarity
// meets the configured threshold.
func (m *Manager) LookupSimilar(ctx context.Context, q *types.Query) (*types.CacheEntry, bool) {
	m.ensureIndexLoaded(ctx, q.StoreID)

	key, ok := m.index.Lookup(q.StoreID, q.Normalized, m.threshold)
	if !ok {
		return nil, false
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	data, err := m.backend.Get(opCtx, key)
	if err != nil {
		metrics.CacheBackendErrors.WithLabelValues("get").Inc()
		m.logger.Warn("similarity lookup degraded to miss", "key", key, "error", err)
		return nil, false
	}
	if data == nil {
		// Entry evicted underneath the index.
		m.index.Remove(q.StoreID, key)
		return nil, false
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		m.logger.Warn("cache entry corrupt, treating as miss", "key", key, "error", err)
		return nil, false
	}
	if entry.Expired(m.now()) {
		m.index.Remove(q.StoreID, key)
		return nil, false
	}

	entry.HitCount++
	m.trackHit(key, entry.StoreID)
	metrics.CacheHits.WithLabelValues("similarity").Inc()
	return &entry, true
}

// ComputeOrWait guarantees at most one concurrent computation per key.
// Concurrent callers for the same key await the in-flight result
// instead of re-invoking compute.
func (m *Manager) ComputeOrWait(ctx context.Context, key string, compute func(ctx context.Context) (*types.CacheEntry, error)) (*types.CacheEntry, error) {
	result, err, _ := m.group.Do(key, func() (any, error) {
		return compute(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.CacheEntry), nil
}

// Store writes a new entry under key with the configured TTL and adds
// it to the similarity index. Backend failures degrade to a no-op with
// a logged warning.
func (m *Manager) Store(ctx context.Context, entry *types.CacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		m.logger.Error("cache entry marshal failed", "key", entry.Key, "error", err)
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	if err := m.backend.Set(opCtx, entry.Key, data, m.ttl); err != nil {
		metrics.CacheBackendErrors.WithLabelValues("set").Inc()
		m.logger.Warn("cache store degraded to no-op", "key", entry.Key, "error", err)
		return
	}

	m.index.Add(entry.StoreID, entry.Key, entry.Query)
	m.persistIndex(ctx, entry.StoreID)
}

// NewEntry builds a CacheEntry for a computed result with expiry set
// from the manager TTL.
func (m *Manager) NewEntry(key string, q *types.Query, results []types.CategoryResult, degraded []types.DegradedCategory) *types.CacheEntry {
	now := m.now().UTC()
	return &types.CacheEntry{
		Key:       key,
		Query:     q.Normalized,
		StoreID:   q.StoreID,
		Results:   results,
		Degraded:  degraded,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
}

// Ping reports backend reachability.
func (m *Manager) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.backend.Ping(opCtx)
}

// Stats returns backend operation counters.
func (m *Manager) Stats() Stats {
	return m.backend.Stats()
}

// WarmCandidate identifies a tracked hot key eligible for refresh.
type WarmCandidate struct {
	Key     string
	StoreID string
	Hits    int64
}

// WarmCandidates returns tracked keys with at least minHits recorded
// lookups. Hit counters for returned keys are reset.
func (m *Manager) WarmCandidates(minHits int64) []WarmCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []WarmCandidate
	for key, t := range m.tracked {
		if t.hits >= minHits {
			out = append(out, WarmCandidate{Key: key, StoreID: t.storeID, Hits: t.hits})
			t.hits = 0
		}
	}
	return out
}

// Entry fetches an entry regardless of expiry, for warming decisions.
func (m *Manager) Entry(ctx context.Context, key string) (*types.CacheEntry, bool) {
	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	data, err := m.backend.Get(opCtx, key)
	if err != nil || data == nil {
		return nil, false
	}
	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (m *Manager) trackHit(key, storeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracked[key]
	if !ok {
		t = &keyTrack{storeID: storeID}
		m.tracked[key] = t
	}
	t.hits++
}

func (m *Manager) ensureIndexLoaded(ctx context.Context, storeID string) {
	m.mu.Lock()
	if m.loaded[storeID] {
		m.mu.Unlock()
		return
	}
	m.loaded[storeID] = true
	m.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	data, err := m.backend.Get(opCtx, SimIndexKey(storeID))
	if err != nil || data == nil {
		return
	}
	if err := m.index.Restore(storeID, data); err != nil {
		m.logger.Warn("similarity index snapshot corrupt", "store_id", storeID, "error", err)
	}
}

func (m *Manager) persistIndex(ctx context.Context, storeID string) {
	data, err := m.index.Snapshot(storeID)
	if err != nil {
		m.logger.Warn("similarity index snapshot failed", "store_id", storeID, "error", err)
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	// Index snapshots outlive individual entries; stale keys are pruned
	// on lookup.
	if err := m.backend.Set(opCtx, SimIndexKey(storeID), data, 2*m.ttl); err != nil {
		metrics.CacheBackendErrors.WithLabelValues("set").Inc()
		m.logger.Warn("similarity index persist failed", "store_id", storeID, "error", err)
	}
}
