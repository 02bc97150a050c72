// Package generator produces per-category candidate ingredient names
// for a query by calling a generative-model backend.
package generator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pantryio/pantrymatch/internal/metrics"
	"github.com/pantryio/pantrymatch/pkg/errors"
	"github.com/pantryio/pantrymatch/pkg/llm"
	"github.com/pantryio/pantrymatch/pkg/types"
)

// Sanitation bounds applied to model output.
const (
	MaxCategoriesPerQuery = 10
	MaxItemsPerCategory   = 20
	MaxItemLength         = 100
)

const maxAttempts = 3

// Config holds generator settings.
type Config struct {
	Timeout     time.Duration
	Temperature float64
}

// Generator invokes the model backend once per query, batched across
// categories, and parses the per-category breakdown.
type Generator struct {
	completer llm.Completer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Generator.
func New(completer llm.Completer, cfg Config, logger *slog.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	return &Generator{
		completer: completer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Result holds the per-category candidate sets plus categories whose
// model output was malformed.
type Result struct {
	Sets     map[string]types.CandidateSet
	Degraded []types.DegradedCategory
}

type generationResponse struct {
	Categories []struct {
		Category string   `json:"category"`
		Items    []string `json:"items"`
	} `json:"categories"`
}

// Generate asks the model for candidate items relevant to the query,
// broken down by store category. Malformed entries degrade the
// affected category only; a whole-call timeout or persistently
// malformed response returns a pipeline error for the caller to
// surface as unavailable categories.
func (g *Generator) Generate(ctx context.Context, q *types.Query, categories []types.Category) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	prompt := g.buildPrompt(q, categories)
	rec := newReconciler(categories)

	var lastErr error
	lastMalformed := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := g.completer.Complete(callCtx, &llm.ChatRequest{
			Messages:    []llm.Message{{Role: "user", Content: prompt}},
			Temperature: &g.cfg.Temperature,
		})
		if err != nil {
			if stderrors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
				metrics.ModelCalls.WithLabelValues("generate", "timeout").Inc()
				return nil, errors.NewGenerationTimeoutError("", err)
			}
			metrics.ModelCalls.WithLabelValues("generate", "error").Inc()
			lastErr = err
			lastMalformed = false
			continue
		}

		var parsed generationResponse
		if err := llm.ExtractJSON(resp.Content(), &parsed); err != nil {
			metrics.ModelCalls.WithLabelValues("generate", "malformed").Inc()
			g.logger.Warn("generation output malformed, retrying",
				"attempt", attempt, "error", err)
			lastErr = err
			lastMalformed = true
			continue
		}

		metrics.ModelCalls.WithLabelValues("generate", "ok").Inc()
		return g.assemble(q, parsed, rec), nil
	}

	wrapped := fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
	if lastMalformed {
		return nil, errors.NewGenerationFormatError("", wrapped)
	}
	return nil, errors.NewGenerationBackendError(wrapped)
}

func (g *Generator) assemble(q *types.Query, parsed generationResponse, rec *reconciler) *Result {
	result := &Result{Sets: make(map[string]types.CandidateSet)}
	now := g.now().UTC()

	entries := parsed.Categories
	if len(entries) > MaxCategoriesPerQuery {
		entries = entries[:MaxCategoriesPerQuery]
	}

	for _, entry := range entries {
		name := strings.TrimSpace(entry.Category)
		if name == "" {
			continue
		}

		cat, ok := rec.resolve(name)
		if !ok {
			g.logger.Warn("model produced unknown category", "category", name, "store_id", q.StoreID)
			result.Degraded = append(result.Degraded, types.DegradedCategory{
				Category: types.Category{Name: name},
				Reason:   "unknown_category",
			})
			continue
		}
		if _, dup := result.Sets[cat.ID]; dup {
			continue
		}

		items := sanitizeItems(entry.Items)
		if len(items) == 0 {
			result.Degraded = append(result.Degraded, types.DegradedCategory{
				Category: cat,
				Reason:   "empty_candidates",
			})
			continue
		}

		metrics.CandidatesGenerated.Observe(float64(len(items)))
		result.Sets[cat.ID] = types.CandidateSet{
			CategoryID:  cat.ID,
			Items:       items,
			GeneratedAt: now,
		}
	}

	return result
}

func (g *Generator) buildPrompt(q *types.Query, categories []types.Category) string {
	var b strings.Builder
	b.WriteString("You are a grocery assistant. Analyze this request and respond with ONLY valid JSON.\n\n")
	fmt.Fprintf(&b, "User request: %q\n", q.Raw)

	if q.Signals.Cuisine != "" {
		fmt.Fprintf(&b, "Cuisine hint: %s\n", q.Signals.Cuisine)
	}
	if q.Signals.MealType != "" {
		fmt.Fprintf(&b, "Meal hint: %s\n", q.Signals.MealType)
	}
	if q.Signals.Dietary != "" {
		fmt.Fprintf(&b, "Dietary hint: %s\n", q.Signals.Dietary)
	}

	b.WriteString("\nAvailable Categories:\n")
	for _, cat := range categories {
		fmt.Fprintf(&b, "- %s\n", cat.Name)
	}

	b.WriteString(`
For each relevant category, list essential ingredients plus plausible substitutes.

Response format (JSON only):
{
  "categories": [
    {
      "category": "<exact category name from list>",
      "items": ["item1", "item2"]
    }
  ]
}

Respond with ONLY the JSON structure above:`)
	return b.String()
}

func sanitizeItems(items []string) []string {
	if len(items) > MaxItemsPerCategory {
		items = items[:MaxItemsPerCategory]
	}

	seen := make(map[string]struct{}, len(items))
	clean := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if len(item) > MaxItemLength {
			item = item[:MaxItemLength]
		}
		lower := strings.ToLower(item)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		clean = append(clean, item)
	}
	return clean
}
