// Package normalizer cleans raw query text and extracts cooking
// signals used for cache-key derivation and prompt construction.
package normalizer

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/pantryio/pantrymatch/pkg/errors"
	"github.com/pantryio/pantrymatch/pkg/types"
)

const (
	// MaxQueryLength bounds accepted query text.
	MaxQueryLength = 1000

	// MaxUserIDLength bounds accepted user identifiers.
	MaxUserIDLength = 100
)

var (
	userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Markup and script fragments are rejected outright.
	blockedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script.*?>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)data:text/html`),
		regexp.MustCompile(`(?i)vbscript:`),
		regexp.MustCompile(`(?i)onload=`),
		regexp.MustCompile(`(?i)onerror=`),
	}

	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Keyword tables for signal extraction. Matching is done on the
// normalized (folded) text, so entries are lowercase.
var (
	cuisineKeywords = map[string]string{
		"biryani":   "south asian",
		"curry":     "south asian",
		"masala":    "south asian",
		"dal":       "south asian",
		"paneer":    "south asian",
		"dosa":      "south asian",
		"pasta":     "italian",
		"pizza":     "italian",
		"risotto":   "italian",
		"lasagna":   "italian",
		"taco":      "mexican",
		"tacos":     "mexican",
		"burrito":   "mexican",
		"quesadilla": "mexican",
		"stir":      "east asian",
		"ramen":     "east asian",
		"sushi":     "east asian",
		"noodles":   "east asian",
		"pancakes":  "american",
		"burger":    "american",
		"bbq":       "american",
		"hummus":    "middle eastern",
		"falafel":   "middle eastern",
		"shawarma":  "middle eastern",
	}

	mealKeywords = map[string]string{
		"breakfast": "breakfast",
		"brunch":    "breakfast",
		"lunch":     "lunch",
		"dinner":    "dinner",
		"supper":    "dinner",
		"snack":     "snack",
		"snacks":    "snack",
		"dessert":   "dessert",
	}

	dietaryKeywords = map[string]string{
		"vegan":      "vegan",
		"vegetarian": "vegetarian",
		"veg":        "vegetarian",
		"keto":       "keto",
		"paleo":      "paleo",
		"halal":      "halal",
		"kosher":     "kosher",
		"gluten":     "gluten-free",
		"dairy":      "dairy-free",
		"sugarfree":  "sugar-free",
	}
)

// Normalizer converts raw request input into an immutable Query.
type Normalizer struct {
	folder cases.Caser
	now    func() time.Time
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{
		folder: cases.Fold(),
		now:    time.Now,
	}
}

// Normalize validates the raw input and produces a Query with folded,
// punctuation-stripped text and extracted signals. It never consults
// the catalog.
func (n *Normalizer) Normalize(raw, userID, storeID string) (*types.Query, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.NewInvalidQueryError("query cannot be empty")
	}
	if len(raw) > MaxQueryLength {
		return nil, errors.NewInvalidQueryError("query too long")
	}
	for _, p := range blockedPatterns {
		if p.MatchString(raw) {
			return nil, errors.NewInvalidQueryError("query contains invalid content")
		}
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.NewInvalidQueryError("user id cannot be empty")
	}
	if len(userID) > MaxUserIDLength {
		return nil, errors.NewInvalidQueryError("user id too long")
	}
	if !userIDPattern.MatchString(userID) {
		return nil, errors.NewInvalidQueryError("user id can only contain letters, numbers, hyphens, and underscores")
	}

	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, errors.NewInvalidQueryError("store id cannot be empty")
	}

	normalized := n.normalizeText(raw)
	if normalized == "" {
		return nil, errors.NewInvalidQueryError("query contains no usable text")
	}

	return &types.Query{
		Raw:         raw,
		Normalized:  normalized,
		UserID:      userID,
		StoreID:     storeID,
		SubmittedAt: n.now().UTC(),
		Signals:     extractSignals(normalized),
	}, nil
}

func (n *Normalizer) normalizeText(raw string) string {
	folded := n.folder.String(raw)
	folded = punctuation.ReplaceAllString(folded, " ")
	folded = whitespace.ReplaceAllString(folded, " ")
	return strings.TrimSpace(folded)
}

func extractSignals(normalized string) types.Signals {
	var s types.Signals
	for _, word := range strings.Fields(normalized) {
		if s.Cuisine == "" {
			if c, ok := cuisineKeywords[word]; ok {
				s.Cuisine = c
			}
		}
		if s.MealType == "" {
			if m, ok := mealKeywords[word]; ok {
				s.MealType = m
			}
		}
		if s.Dietary == "" {
			if d, ok := dietaryKeywords[word]; ok {
				s.Dietary = d
			}
		}
	}
	return s
}
