package pipeline

import (
	"time"

	"github.com/pantryio/pantrymatch/pkg/types"
)

// assemble renders a cache entry into the wire response shape. The
// response is always well formed; degraded categories shrink the
// matched list and fill unavailable_categories instead.
func assemble(q *types.Query, entry *types.CacheEntry, cacheHit bool, now time.Time) *types.RecommendResponse {
	resp := &types.RecommendResponse{
		Query:     q.Raw,
		UserID:    q.UserID,
		StoreID:   q.StoreID,
		Timestamp: now,
		CacheHit:  cacheHit,
		Matched:   make([]types.MatchedCategory, 0, len(entry.Results)),
	}

	for _, result := range entry.Results {
		mc := types.MatchedCategory{
			Category: types.WireCategory{ID: result.Category.ID, Name: result.Category.Name},
			Products: make([]types.WireProduct, 0, len(result.Matches)),
		}
		for _, match := range result.Matches {
			quantity := match.Product.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			mc.Products = append(mc.Products, types.WireProduct{
				ID:         match.Product.ID,
				Name:       match.Product.Name,
				Images:     match.Product.Images,
				MRPPrice:   match.Product.MRPPrice,
				OfferPrice: match.Product.OfferPrice,
				Quantity:   quantity,
				Validated:  match.Validated,
			})
		}
		resp.Matched = append(resp.Matched, mc)
	}

	for _, d := range entry.Degraded {
		resp.Unavailable = append(resp.Unavailable, types.UnavailableCategory{
			Category: types.WireCategory{ID: d.Category.ID, Name: d.Category.Name},
			Reason:   d.Reason,
		})
	}

	return resp
}

func countProducts(resp *types.RecommendResponse) int {
	n := 0
	for _, mc := range resp.Matched {
		n += len(mc.Products)
	}
	return n
}
