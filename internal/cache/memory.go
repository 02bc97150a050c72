package cache

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Backend used for single-node deployments
// and tests.
type Memory struct {
	store *gocache.Cache

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewMemory creates an in-memory backend with the given default TTL.
func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{
		store: gocache.New(defaultTTL, 10*time.Minute),
	}
}

// Get retrieves a value. A miss returns (nil, nil).
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, found := m.store.Get(key)
	if !found {
		m.misses.Add(1)
		return nil, nil
	}
	m.hits.Add(1)
	return v.([]byte), nil
}

// Set stores a value with TTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(key, value, ttl)
	m.sets.Add(1)
	return nil
}

// Delete removes a key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

// Ping always succeeds for the in-memory backend.
func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error {
	return nil
}

// Stats returns operation counters.
func (m *Memory) Stats() Stats {
	return Stats{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Sets:   m.sets.Load(),
	}
}
