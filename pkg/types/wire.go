package types

import "time"

// RecommendRequest is the request schema consumed from the route layer.
type RecommendRequest struct {
	Query   string `json:"query"`
	UserID  string `json:"user_id"`
	StoreID string `json:"store_id"`
}

// WireCategory is the category shape exposed on the wire.
type WireCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WireProduct is the product shape exposed on the wire. Internal fields such
// as popularity rank are not published.
type WireProduct struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Images     []string `json:"image"`
	MRPPrice   float64  `json:"mrpPrice"`
	OfferPrice float64  `json:"offerPrice"`
	Quantity   int      `json:"quantity"`
	Validated  bool     `json:"validated"`
}

// MatchedCategory pairs a wire category with its products.
type MatchedCategory struct {
	Category WireCategory  `json:"category"`
	Products []WireProduct `json:"products"`
}

// UnavailableCategory marks a degraded category branch in the response.
type UnavailableCategory struct {
	Category WireCategory `json:"category"`
	Reason   string       `json:"reason"`
}

// RecommendResponse is the response schema produced to the route layer. The
// shape is always well formed; degradation shrinks matched_products and fills
// unavailable_categories instead of failing the request.
type RecommendResponse struct {
	Query       string                `json:"query"`
	UserID      string                `json:"user_id"`
	StoreID     string                `json:"store_id"`
	Timestamp   time.Time             `json:"timestamp"`
	CacheHit    bool                  `json:"cache_hit"`
	Matched     []MatchedCategory     `json:"matched_products"`
	Unavailable []UnavailableCategory `json:"unavailable_categories,omitempty"`
}

// HistoryResponse is the schema for the per-user query history endpoint.
type HistoryResponse struct {
	Queries []SessionRecord `json:"queries"`
}

// HealthResponse aggregates the health indicators exposed to the external
// health endpoint.
type HealthResponse struct {
	Status          string    `json:"status"`
	CacheHitRate    float64   `json:"cache_hit_rate"`
	AvgLatencyMs    float64   `json:"avg_pipeline_latency_ms"`
	CacheReachable  bool      `json:"cache_reachable"`
	CatalogDegraded bool      `json:"catalog_degraded"`
	Uptime          string    `json:"uptime"`
	Timestamp       time.Time `json:"timestamp"`
}
