// Package validator filters fuzzy-matched products for real-world
// relevance to the original query using a second generative-model pass.
package validator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/pantryio/pantrymatch/internal/metrics"
	"github.com/pantryio/pantrymatch/pkg/llm"
	"github.com/pantryio/pantrymatch/pkg/types"
)

// Config holds validator settings.
type Config struct {
	Timeout     time.Duration
	Temperature float64

	// FallbackTopN bounds how many unvalidated matches are kept when
	// the model call fails outright.
	FallbackTopN int

	// MemoTTL bounds how long individual verdicts are remembered.
	MemoTTL time.Duration
}

// Validator performs batched relevance judgment calls. Individual
// verdicts are memoized per (item, product, query) so repeated matches
// across requests skip the model.
type Validator struct {
	completer llm.Completer
	cfg       Config
	logger    *slog.Logger
	memo      *gocache.Cache
}

// New creates a Validator.
func New(completer llm.Completer, cfg Config, logger *slog.Logger) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.FallbackTopN <= 0 {
		cfg.FallbackTopN = 10
	}
	if cfg.MemoTTL <= 0 {
		cfg.MemoTTL = time.Hour
	}
	return &Validator{
		completer: completer,
		cfg:       cfg,
		logger:    logger,
		memo:      gocache.New(cfg.MemoTTL, 10*time.Minute),
	}
}

// Validate filters candidates for relevance to the query. Candidates
// the model approves come back Validated. If the model call fails or
// its output is unusable, memoized approvals are kept and the unjudged
// candidates fall back to the top-N fuzzy matches flagged unvalidated
// rather than dropping the category.
func (v *Validator) Validate(ctx context.Context, q *types.Query, candidates []types.ProductCandidate) []types.ValidatedMatch {
	if len(candidates) == 0 {
		return nil
	}

	verdicts := make(map[int]bool, len(candidates))
	var pending []int

	for i, c := range candidates {
		if verdict, found := v.memo.Get(v.memoKey(q, c)); found {
			verdicts[i] = verdict.(bool)
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) > 0 {
		judged, err := v.judge(ctx, q, candidates, pending)
		if err != nil {
			v.logger.Warn("relevance validation unavailable, falling back to top fuzzy matches",
				"query", q.Normalized, "candidates", len(candidates), "pending", len(pending), "error", err)
			return v.fallback(candidates, verdicts, pending)
		}
		for i, verdict := range judged {
			verdicts[i] = verdict
			v.memo.Set(v.memoKey(q, candidates[i]), verdict, gocache.DefaultExpiration)
		}
	}

	var out []types.ValidatedMatch
	for i, c := range candidates {
		if verdicts[i] {
			out = append(out, types.ValidatedMatch{ProductCandidate: c, Validated: true})
		}
	}
	return out
}

// judge runs one batched model call for the pending candidate indexes.
// Lines the model omits or garbles count as rejections.
func (v *Validator) judge(ctx context.Context, q *types.Query, candidates []types.ProductCandidate, pending []int) (map[int]bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	resp, err := v.completer.Complete(callCtx, &llm.ChatRequest{
		Messages:    []llm.Message{{Role: "user", Content: v.buildPrompt(q, candidates, pending)}},
		Temperature: &v.cfg.Temperature,
	})
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			metrics.ModelCalls.WithLabelValues("validate", "timeout").Inc()
		} else {
			metrics.ModelCalls.WithLabelValues("validate", "error").Inc()
		}
		return nil, err
	}

	verdicts := parseVerdicts(resp.Content(), len(pending))
	if len(verdicts) == 0 {
		metrics.ModelCalls.WithLabelValues("validate", "malformed").Inc()
		return nil, fmt.Errorf("no parseable verdicts in model output")
	}
	metrics.ModelCalls.WithLabelValues("validate", "ok").Inc()

	judged := make(map[int]bool, len(pending))
	for pos, idx := range pending {
		judged[idx] = verdicts[pos]
	}
	return judged, nil
}

// fallback handles a failed judge call. Memoized approvals survive as
// validated matches and memoized rejections stay excluded; only the
// unjudged remainder falls back to the top fuzzy matches, flagged
// unvalidated.
func (v *Validator) fallback(candidates []types.ProductCandidate, verdicts map[int]bool, pending []int) []types.ValidatedMatch {
	unjudged := make(map[int]bool, len(pending))
	for _, i := range pending {
		unjudged[i] = true
	}

	var out []types.ValidatedMatch
	kept := 0
	for i, c := range candidates {
		switch {
		case verdicts[i]:
			out = append(out, types.ValidatedMatch{ProductCandidate: c, Validated: true})
		case unjudged[i] && kept < v.cfg.FallbackTopN:
			out = append(out, types.ValidatedMatch{ProductCandidate: c, Validated: false})
			kept++
		}
	}
	return out
}

func (v *Validator) buildPrompt(q *types.Query, candidates []types.ProductCandidate, pending []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a strict culinary expert. User wants to cook: %q\n\n", q.Raw)
	b.WriteString(`For each ingredient-product pair, determine if the product is TRULY suitable for the ingredient in this dish context.

STRICT CRITERIA:
1. Exact ingredient match = YES
2. Same cuisine family = YES
3. Different cuisine family = NO
4. Real-world cooking compatibility = YES/NO

Evaluate each pair:

`)
	for pos, idx := range pending {
		c := candidates[idx]
		fmt.Fprintf(&b, "%d. Ingredient: '%s' -> Product: '%s'\n", pos+1, c.MatchedItem, c.Product.Name)
	}
	b.WriteString("\nRespond ONLY in format: 1:YES, 2:NO, 3:YES, 4:NO, etc.")
	return b.String()
}

func (v *Validator) memoKey(q *types.Query, c types.ProductCandidate) string {
	return strings.ToLower(c.MatchedItem) + "|" + strings.ToLower(c.Product.Name) + "|" + q.Normalized
}

// parseVerdicts extracts "N:YES"/"N:NO" decisions from model output.
// Indexes are 1-based; out-of-range or malformed lines are ignored,
// and absent indexes default to rejection.
func parseVerdicts(content string, n int) map[int]bool {
	verdicts := make(map[int]bool)

	normalized := strings.ReplaceAll(content, "\n", ",")
	for _, part := range strings.Split(normalized, ",") {
		part = strings.TrimSpace(part)
		idxStr, decision, found := strings.Cut(part, ":")
		if !found {
			continue
		}

		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil || idx < 1 || idx > n {
			continue
		}

		verdicts[idx-1] = strings.HasPrefix(strings.ToUpper(strings.TrimSpace(decision)), "YES")
	}
	return verdicts
}
