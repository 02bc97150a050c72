package matcher

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantryio/pantrymatch/pkg/types"
)

func riceProducts() []types.Product {
	return []types.Product{
		{ID: "p1", Name: "India Gate Basmati Rice 1kg", CategoryID: "c1", Popularity: 2},
		{ID: "p2", Name: "Brown Rice Organic 500g", CategoryID: "c1", Popularity: 1},
		{ID: "p3", Name: "Poha Flattened Rice", CategoryID: "c1", Popularity: 3},
		{ID: "p4", Name: "Toilet Cleaner Lemon", CategoryID: "c1", Popularity: 4},
	}
}

func candidateSet(items ...string) types.CandidateSet {
	return types.CandidateSet{CategoryID: "c1", Items: items}
}

func TestMatchExactSubstring(t *testing.T) {
	m := New(Config{MinScore: 0.60})

	matches := m.Match(candidateSet("basmati rice"), riceProducts())
	require.NotEmpty(t, matches)

	assert.Equal(t, "p1", matches[0].Product.ID)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, "basmati rice", matches[0].MatchedItem)
}

func TestMatchThresholdFiltersNoise(t *testing.T) {
	m := New(Config{MinScore: 0.60})

	matches := m.Match(candidateSet("basmati rice"), riceProducts())
	for _, c := range matches {
		assert.GreaterOrEqual(t, c.Score, 0.60)
		assert.NotEqual(t, "p4", c.Product.ID, "unrelated product must not match")
	}
}

func TestMatchWordOverlap(t *testing.T) {
	m := New(Config{MinScore: 0.60})

	// "rice" appears in every product name; no exact phrase match for
	// "jasmine rice" so each lands on the word-overlap rung.
	matches := m.Match(candidateSet("jasmine rice"), riceProducts()[:3])
	require.Len(t, matches, 3)
	for _, c := range matches {
		assert.InDelta(t, 0.90, c.Score, 0.001)
	}
}

func TestMatchImageFilenameChannel(t *testing.T) {
	m := New(Config{MinScore: 0.60})

	products := []types.Product{
		{
			ID:     "p1",
			Name:   "Premium Pantry Pick #42",
			Images: []string{"https://cdn.example.com/catalog/garam-masala-100g.jpg"},
		},
		{ID: "p2", Name: "Mystery Box"},
	}

	matches := m.Match(candidateSet("garam masala"), products)
	require.Len(t, matches, 1)
	assert.Equal(t, "p1", matches[0].Product.ID)
	assert.Equal(t, 0.95, matches[0].Score)
}

func TestMatchDeterministicOrdering(t *testing.T) {
	m := New(Config{MinScore: 0.60})

	products := []types.Product{
		{ID: "p-b", Name: "Basmati Rice Brand B", Popularity: 1},
		{ID: "p-a", Name: "Basmati Rice Brand A", Popularity: 1},
		{ID: "p-c", Name: "Basmati Rice Brand C", Popularity: 0},
	}

	first := m.Match(candidateSet("basmati rice"), products)
	require.Len(t, first, 3)

	// All score 1.0: popularity ascending wins, then ID ascending.
	assert.Equal(t, "p-c", first[0].Product.ID)
	assert.Equal(t, "p-a", first[1].Product.ID)
	assert.Equal(t, "p-b", first[2].Product.ID)

	for i := 0; i < 5; i++ {
		again := m.Match(candidateSet("basmati rice"), products)
		assert.Equal(t, first, again)
	}
}

func TestMatchDeduplicatesByProduct(t *testing.T) {
	m := New(Config{MinScore: 0.60})

	// Both names hit p1; it must appear once with its best score.
	matches := m.Match(candidateSet("basmati rice", "rice"), riceProducts())

	seen := make(map[string]int)
	for _, c := range matches {
		seen[c.Product.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "product %s duplicated", id)
	}

	require.NotEmpty(t, matches)
	assert.Equal(t, 1.0, matches[0].Score)
}

func TestMatchRanksBeforeTruncating(t *testing.T) {
	m := New(Config{MinScore: 0.60})

	// MaxMatchesPerItem qualifying products ahead of the only exact
	// match in catalog order. Ranking must happen before the cap so
	// the exact match still comes out on top.
	products := make([]types.Product, 0, MaxMatchesPerItem+1)
	for i := 0; i < MaxMatchesPerItem; i++ {
		products = append(products, types.Product{
			ID:         fmt.Sprintf("weak-%03d", i),
			Name:       fmt.Sprintf("Rice Crackers Batch %03d", i),
			CategoryID: "c1",
		})
	}
	products = append(products, types.Product{
		ID:         "perfect",
		Name:       "Premium Basmati Rice 5kg",
		CategoryID: "c1",
	})

	matches := m.Match(candidateSet("basmati rice"), products)

	require.NotEmpty(t, matches)
	assert.Equal(t, "perfect", matches[0].Product.ID)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.LessOrEqual(t, len(matches), MaxMatchesPerItem)
}

func TestMatchEmptyInputs(t *testing.T) {
	m := New(Config{})

	assert.Nil(t, m.Match(candidateSet(), riceProducts()))
	assert.Nil(t, m.Match(candidateSet("rice"), nil))
	assert.Empty(t, m.Match(candidateSet("   "), riceProducts()))
}

func TestPartialRatio(t *testing.T) {
	assert.Equal(t, 1.0, partialRatio("rice", "basmati rice 1kg"))
	assert.Equal(t, 1.0, partialRatio("identical", "identical"))
	assert.Zero(t, partialRatio("", "anything"))

	// Close but not exact.
	score := partialRatio("panner", "paneer fresh 200g")
	assert.Greater(t, score, 0.6)
	assert.Less(t, score, 1.0)
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"rice", "", 4},
		{"rice", "rice", 0},
		{"rice", "ride", 1},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshteinDistance(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestImageLabel(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/catalog/garam-masala-100g.jpg", "garam masala 100g"},
		{"https://cdn.example.com/a/b/Basmati_Rice.png?v=2", "basmati rice"},
		{"", ""},
		{"https://cdn.example.com/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, imageLabel(tt.url), tt.url)
	}
}
