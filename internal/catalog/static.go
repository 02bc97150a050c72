package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/pantryio/pantrymatch/pkg/errors"
	"github.com/pantryio/pantrymatch/pkg/types"
)

// Product listing states that make a product eligible for matching.
const (
	statusApproved = "APPROVED"
	stageActivate  = "ACTIVATE"
)

type rawProduct struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Images     []string `json:"image"`
	MRPPrice   float64  `json:"mrpPrice"`
	OfferPrice float64  `json:"offerPrice"`
	Quantity   int      `json:"quantity"`
	CategoryID string   `json:"category_id"`
	Popularity int      `json:"popularity"`
	Status     string   `json:"status"`
	Stage      string   `json:"stage"`
}

// Static serves catalog lookups from JSON snapshot files keyed by
// store ID. Snapshots are loaded once at construction; ineligible
// products are filtered out up front.
type Static struct {
	categories map[string][]types.Category
	products   map[string]map[string][]types.Product // storeID -> categoryID -> products
}

// NewStatic loads catalog snapshots from the given files.
func NewStatic(categoriesFile, productsFile string) (*Static, error) {
	catData, err := os.ReadFile(categoriesFile)
	if err != nil {
		return nil, fmt.Errorf("read categories snapshot: %w", err)
	}
	prodData, err := os.ReadFile(productsFile)
	if err != nil {
		return nil, fmt.Errorf("read products snapshot: %w", err)
	}

	var categories map[string][]types.Category
	if err := json.Unmarshal(catData, &categories); err != nil {
		return nil, fmt.Errorf("parse categories snapshot: %w", err)
	}

	var rawProducts map[string][]rawProduct
	if err := json.Unmarshal(prodData, &rawProducts); err != nil {
		return nil, fmt.Errorf("parse products snapshot: %w", err)
	}

	s := &Static{
		categories: make(map[string][]types.Category, len(categories)),
		products:   make(map[string]map[string][]types.Product, len(rawProducts)),
	}

	for storeID, cats := range categories {
		sorted := make([]types.Category, len(cats))
		copy(sorted, cats)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
		s.categories[storeID] = sorted
	}

	for storeID, prods := range rawProducts {
		byCategory := make(map[string][]types.Product)
		for _, rp := range prods {
			if !eligible(rp) {
				continue
			}
			byCategory[rp.CategoryID] = append(byCategory[rp.CategoryID], types.Product{
				ID:         rp.ID,
				Name:       strings.TrimSpace(rp.Name),
				Images:     rp.Images,
				MRPPrice:   rp.MRPPrice,
				OfferPrice: rp.OfferPrice,
				Quantity:   rp.Quantity,
				CategoryID: rp.CategoryID,
				Popularity: rp.Popularity,
			})
		}
		s.products[storeID] = byCategory
	}

	return s, nil
}

func eligible(rp rawProduct) bool {
	if strings.TrimSpace(rp.Name) == "" {
		return false
	}
	if rp.Status != "" && rp.Status != statusApproved {
		return false
	}
	if rp.Stage != "" && rp.Stage != stageActivate {
		return false
	}
	return true
}

// Categories returns the store's categories in rank order.
func (s *Static) Categories(_ context.Context, storeID string) ([]types.Category, error) {
	cats, ok := s.categories[storeID]
	if !ok {
		return nil, errors.NewCatalogUnavailableError(fmt.Errorf("unknown store %q", storeID))
	}
	return cats, nil
}

// Products returns the store's eligible products for a category. An
// unknown category yields an empty slice, not an error.
func (s *Static) Products(_ context.Context, storeID, categoryID string) ([]types.Product, error) {
	byCategory, ok := s.products[storeID]
	if !ok {
		return nil, errors.NewCatalogUnavailableError(fmt.Errorf("unknown store %q", storeID))
	}
	return byCategory[categoryID], nil
}
