// Package catalog exposes read-only per-store category and product
// lookup. The pipeline treats the catalog as an external collaborator
// behind the Accessor interface.
package catalog

import (
	"context"

	"github.com/pantryio/pantrymatch/pkg/types"
)

// Accessor is the read-only catalog contract. Implementations must
// return only active, purchasable products. Failures are reported as
// catalog_unavailable pipeline errors.
type Accessor interface {
	// Categories returns the store's active categories in display order.
	Categories(ctx context.Context, storeID string) ([]types.Category, error)

	// Products returns the store's products restricted to one category.
	Products(ctx context.Context, storeID, categoryID string) ([]types.Product, error)
}
