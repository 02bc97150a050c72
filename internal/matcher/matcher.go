// Package matcher fuzzy-matches candidate ingredient names against a
// store's catalog, producing ranked scored product candidates.
package matcher

import (
	"sort"
	"strings"

	"github.com/pantryio/pantrymatch/pkg/types"
)

// MaxMatchesPerItem bounds the ranked matches retained per candidate set.
const MaxMatchesPerItem = 100

// Scoring constants. Scores are similarities in [0,1]; the ladder
// prefers exact containment over word overlap over edit-distance
// similarity, with the image-filename channel scoring slightly below
// its name-channel counterpart.
const (
	scoreExactName     = 1.00
	scoreWordNameBase  = 0.85
	scoreWordNameStep  = 0.05
	scoreExactImage    = 0.95
	scoreWordImageBase = 0.80
	scoreWordImageStep = 0.03
	imageFuzzyPenalty  = 0.10
)

// Config holds matcher settings.
type Config struct {
	// MinScore is the threshold below which candidates are discarded
	// before validation.
	MinScore float64
}

// Matcher scores candidate names against catalog products.
type Matcher struct {
	minScore float64
}

// New creates a Matcher.
func New(cfg Config) *Matcher {
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.60
	}
	return &Matcher{minScore: cfg.MinScore}
}

// Match scores every candidate name in the set against the given
// products and returns the deduplicated, deterministically ranked
// matches at or above the minimum score. A product matched by several
// names keeps its best score.
func (m *Matcher) Match(set types.CandidateSet, products []types.Product) []types.ProductCandidate {
	if len(set.Items) == 0 || len(products) == 0 {
		return nil
	}

	best := make(map[string]types.ProductCandidate)

	for _, item := range set.Items {
		itemClean := strings.ToLower(strings.TrimSpace(item))
		if itemClean == "" {
			continue
		}
		itemWords := significantWords(itemClean)

		for i := range products {
			p := &products[i]

			score := m.scoreProduct(itemClean, itemWords, p)
			if score < m.minScore {
				continue
			}

			existing, seen := best[p.ID]
			if !seen || score > existing.Score {
				best[p.ID] = types.ProductCandidate{
					Product:     *p,
					Score:       score,
					MatchedItem: item,
				}
			}
		}
	}

	matches := make([]types.ProductCandidate, 0, len(best))
	for _, c := range best {
		matches = append(matches, c)
	}

	// Deterministic ranking: score descending, then catalog popularity
	// ascending, then product ID ascending.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Product.Popularity != matches[j].Product.Popularity {
			return matches[i].Product.Popularity < matches[j].Product.Popularity
		}
		return matches[i].Product.ID < matches[j].Product.ID
	})

	// Truncation happens after ranking so a strong match late in the
	// catalog is never displaced by weaker matches that precede it.
	if len(matches) > MaxMatchesPerItem {
		matches = matches[:MaxMatchesPerItem]
	}

	return matches
}

func (m *Matcher) scoreProduct(itemClean string, itemWords []string, p *types.Product) float64 {
	productName := strings.ToLower(strings.TrimSpace(p.Name))
	if productName == "" {
		return 0
	}

	maxScore := 0.0

	if strings.Contains(productName, itemClean) {
		maxScore = scoreExactName
	} else if n := wordOverlap(itemWords, productName); n > 0 {
		score := scoreWordNameBase + float64(n)*scoreWordNameStep
		maxScore = score
		if maxScore > 1 {
			maxScore = 1
		}
	}

	if maxScore < 1 {
		if fuzzy := partialRatio(itemClean, productName); fuzzy > maxScore && fuzzy >= m.minScore {
			maxScore = fuzzy
		}
	}

	for _, imageURL := range p.Images {
		label := imageLabel(imageURL)
		if label == "" {
			continue
		}

		switch {
		case strings.Contains(label, itemClean):
			if scoreExactImage > maxScore {
				maxScore = scoreExactImage
			}
		case wordOverlap(itemWords, label) > 0:
			score := scoreWordImageBase + float64(wordOverlap(itemWords, label))*scoreWordImageStep
			if score > scoreExactImage {
				score = scoreExactImage
			}
			if score > maxScore {
				maxScore = score
			}
		default:
			if fuzzy := partialRatio(itemClean, label); fuzzy > maxScore && fuzzy >= m.minScore-imageFuzzyPenalty {
				maxScore = fuzzy
			}
		}
	}

	return maxScore
}

// significantWords drops short filler tokens before word matching.
func significantWords(itemClean string) []string {
	var words []string
	for _, w := range strings.Fields(itemClean) {
		if len(w) > 2 {
			words = append(words, w)
		}
	}
	return words
}

func wordOverlap(words []string, text string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
