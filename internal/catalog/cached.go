package catalog

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/pantryio/pantrymatch/pkg/types"
)

// Cached memoizes Accessor lookups for a short window so repeated
// per-category product fetches within one request burst do not hammer
// the underlying source. Errors are never memoized.
type Cached struct {
	inner Accessor
	memo  *gocache.Cache
}

// NewCached wraps an Accessor with snapshot memoization.
func NewCached(inner Accessor, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{
		inner: inner,
		memo:  gocache.New(ttl, 10*time.Minute),
	}
}

// Categories returns the store's categories, memoized.
func (c *Cached) Categories(ctx context.Context, storeID string) ([]types.Category, error) {
	key := "categories:" + storeID
	if v, found := c.memo.Get(key); found {
		return v.([]types.Category), nil
	}

	cats, err := c.inner.Categories(ctx, storeID)
	if err != nil {
		return nil, err
	}
	c.memo.Set(key, cats, gocache.DefaultExpiration)
	return cats, nil
}

// Products returns the store's products for a category, memoized.
func (c *Cached) Products(ctx context.Context, storeID, categoryID string) ([]types.Product, error) {
	key := "products:" + storeID + ":" + categoryID
	if v, found := c.memo.Get(key); found {
		return v.([]types.Product), nil
	}

	prods, err := c.inner.Products(ctx, storeID, categoryID)
	if err != nil {
		return nil, err
	}
	c.memo.Set(key, prods, gocache.DefaultExpiration)
	return prods, nil
}
