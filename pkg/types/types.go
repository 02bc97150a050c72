// Package types defines the shared data model for the recommendation
// pipeline: normalized queries, candidate sets, matched products, and the
// cache entry format written to the backend.
package types

import "time"

// Signals are lightweight tags extracted from the raw query text. They refine
// cache-key granularity and generator prompts; they never touch the catalog.
type Signals struct {
	Cuisine  string `json:"cuisine,omitempty"`
	MealType string `json:"meal_type,omitempty"`
	Dietary  string `json:"dietary,omitempty"`
}

// Query is an immutable, normalized request. Construct it through
// normalizer.Normalize; never mutate it afterwards.
type Query struct {
	Raw         string    `json:"raw"`
	Normalized  string    `json:"normalized"`
	UserID      string    `json:"user_id"`
	StoreID     string    `json:"store_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Signals     Signals   `json:"signals"`
}

// Category is a department-level product grouping as exposed by the catalog.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Rank is the catalog's display ordering; lower sorts first.
	Rank int `json:"rank"`
}

// Product is a catalog product restricted to the fields the matcher and the
// response schema need.
type Product struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Images     []string `json:"image"`
	MRPPrice   float64  `json:"mrpPrice"`
	OfferPrice float64  `json:"offerPrice"`
	Quantity   int      `json:"quantity"`
	CategoryID string   `json:"category_id,omitempty"`
	// Popularity is the catalog's sales rank; lower is more popular and
	// breaks score ties deterministically.
	Popularity int `json:"popularity,omitempty"`
}

// CandidateSet is the generator's per-category output: an ordered list of
// ingredient or product names relevant to one category.
type CandidateSet struct {
	CategoryID  string    `json:"category_id"`
	Items       []string  `json:"items"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ProductCandidate pairs a catalog product with the fuzzy score it earned
// against a generated candidate name. Score is in [0,1].
type ProductCandidate struct {
	Product     Product `json:"product"`
	Score       float64 `json:"score"`
	MatchedItem string  `json:"matched_item"`
}

// ValidatedMatch is a ProductCandidate that went through the relevance pass.
// Validated is false when the validator degraded and the match is a raw
// fuzzy top-N survivor.
type ValidatedMatch struct {
	ProductCandidate
	Validated bool `json:"validated"`
}

// CategoryResult groups validated matches under their category, deduplicated
// by product ID and ordered by match rank.
type CategoryResult struct {
	Category Category         `json:"category"`
	Matches  []ValidatedMatch `json:"matches"`
}

// DegradedCategory marks a category branch that failed generation or
// validation. It is reported in response metadata, never as a request error.
type DegradedCategory struct {
	Category Category `json:"category"`
	Reason   string   `json:"reason"`
}

// CacheEntry is the unit stored under a cache key. Entries are never mutated
// in place; a rewrite under the same key replaces the prior entry wholesale.
type CacheEntry struct {
	Key       string             `json:"key"`
	Query     string             `json:"query"`
	StoreID   string             `json:"store_id"`
	Results   []CategoryResult   `json:"results"`
	Degraded  []DegradedCategory `json:"degraded,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
	HitCount  int64              `json:"hit_count"`
}

// Expired reports whether the entry is past its expiry regardless of whether
// the backend has physically evicted it yet.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// SessionRecord is the append-only history row written after each request.
// It is owned by the session store, not by the pipeline.
type SessionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Query     string    `json:"query"`
	StoreID   string    `json:"store_id"`
	Summary   Summary   `json:"result_summary"`
	Signals   Signals   `json:"signals"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary condenses a response for history storage.
type Summary struct {
	Categories int  `json:"categories"`
	Products   int  `json:"products"`
	CacheHit   bool `json:"cache_hit"`
}
