// Package cache implements the recommendation cache: exact lookup,
// token-similarity fallback, single-flight computation and background
// warming over a pluggable Redis or in-memory backend.
package cache

import (
	"context"
	"time"
)

// Backend is the storage interface for cache entries. Get returns
// (nil, nil) on a miss so callers can distinguish misses from backend
// failures.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
	Stats() Stats
}

// Stats holds backend operation counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// HitRate returns the fraction of lookups served from the backend.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
