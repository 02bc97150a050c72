// Package pipeline orchestrates the recommendation flow: normalize,
// cache lookup, candidate generation, catalog matching, relevance
// validation, assembly and cache storage.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pantryio/pantrymatch/internal/cache"
	"github.com/pantryio/pantrymatch/internal/catalog"
	"github.com/pantryio/pantrymatch/internal/generator"
	"github.com/pantryio/pantrymatch/internal/health"
	"github.com/pantryio/pantrymatch/internal/matcher"
	"github.com/pantryio/pantrymatch/internal/metrics"
	"github.com/pantryio/pantrymatch/internal/normalizer"
	"github.com/pantryio/pantrymatch/internal/observability"
	"github.com/pantryio/pantrymatch/internal/session"
	"github.com/pantryio/pantrymatch/internal/validator"
	"github.com/pantryio/pantrymatch/pkg/errors"
	"github.com/pantryio/pantrymatch/pkg/types"
)

// Config holds pipeline settings.
type Config struct {
	// MaxCategoryWorkers bounds concurrent per-category match/validate
	// work on a cache miss.
	MaxCategoryWorkers int

	// SessionWriteTimeout bounds the fire-and-forget history write.
	SessionWriteTimeout time.Duration
}

// Pipeline wires the stages together. All stages degrade per category;
// only invalid input and catalog unavailability fail a request.
type Pipeline struct {
	normalizer *normalizer.Normalizer
	cache      *cache.Manager
	catalog    catalog.Accessor
	generator  *generator.Generator
	matcher    *matcher.Matcher
	validator  *validator.Validator
	sessions   session.Store
	tracker    *health.Tracker
	tracer     trace.Tracer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline.
func New(
	norm *normalizer.Normalizer,
	cacheMgr *cache.Manager,
	cat catalog.Accessor,
	gen *generator.Generator,
	match *matcher.Matcher,
	valid *validator.Validator,
	sessions session.Store,
	tracker *health.Tracker,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if cfg.MaxCategoryWorkers <= 0 {
		cfg.MaxCategoryWorkers = 4
	}
	if cfg.SessionWriteTimeout <= 0 {
		cfg.SessionWriteTimeout = 5 * time.Second
	}
	return &Pipeline{
		normalizer: norm,
		cache:      cacheMgr,
		catalog:    cat,
		generator:  gen,
		matcher:    match,
		validator:  valid,
		sessions:   sessions,
		tracker:    tracker,
		tracer:     otel.Tracer(observability.TracerName),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Recommend runs the full flow for one request. Cache hits skip the
// model stages entirely; misses are computed under single-flight so
// bursty identical queries share one computation.
func (p *Pipeline) Recommend(ctx context.Context, req *types.RecommendRequest) (*types.RecommendResponse, error) {
	start := p.now()

	ctx, reqSpan := observability.StartStageSpan(ctx, p.tracer, metrics.StageTotal, req.StoreID)
	defer reqSpan.End()

	normStart := p.now()
	_, normSpan := observability.StartStageSpan(ctx, p.tracer, metrics.StageNormalize, req.StoreID)
	q, err := p.normalizer.Normalize(req.Query, req.UserID, req.StoreID)
	if err != nil {
		observability.RecordError(normSpan, err)
		normSpan.End()
		metrics.RequestsTotal.WithLabelValues(req.StoreID, "invalid").Inc()
		return nil, err
	}
	normSpan.End()
	metrics.ObserveStage(metrics.StageNormalize, normStart)

	key := cache.Key(q)

	cacheStart := p.now()
	cacheCtx, cacheSpan := observability.StartStageSpan(ctx, p.tracer, metrics.StageCache, q.StoreID)
	entry, hit := p.cache.Lookup(cacheCtx, key)
	if !hit {
		entry, hit = p.cache.LookupSimilar(cacheCtx, q)
	}
	cacheSpan.End()
	metrics.ObserveStage(metrics.StageCache, cacheStart)

	if !hit {
		entry, err = p.cache.ComputeOrWait(ctx, key, func(ctx context.Context) (*types.CacheEntry, error) {
			computed, err := p.compute(ctx, key, q)
			if err != nil {
				return nil, err
			}
			// An entry with no results reflects an outage, not an
			// answer. Storing it would pin the failure for the full
			// TTL; leaving the key empty lets the next request retry.
			if len(computed.Results) > 0 {
				p.cache.Store(ctx, computed)
			}
			return computed, nil
		})
		if err != nil {
			metrics.RequestsTotal.WithLabelValues(q.StoreID, "error").Inc()
			p.tracker.SetCatalogDegraded(true)
			return nil, err
		}
		p.tracker.SetCatalogDegraded(false)
	}

	resp := assemble(q, entry, hit, p.now().UTC())
	p.writeSession(q, resp)

	p.tracker.RecordRequest(p.now().Sub(start))
	metrics.ObserveStage(metrics.StageTotal, start)
	metrics.RequestsTotal.WithLabelValues(q.StoreID, "ok").Inc()
	return resp, nil
}

// compute runs the model-backed miss path and produces a cache entry.
// Fatal only when the catalog is unreachable; everything else degrades
// per category.
func (p *Pipeline) compute(ctx context.Context, key string, q *types.Query) (*types.CacheEntry, error) {
	categories, err := p.catalog.Categories(ctx, q.StoreID)
	if err != nil {
		return nil, err
	}

	genStart := p.now()
	genCtx, genSpan := observability.StartStageSpan(ctx, p.tracer, metrics.StageGenerate, q.StoreID)
	genResult, err := p.generator.Generate(genCtx, q, categories)
	if err != nil {
		observability.RecordError(genSpan, err)
	}
	genSpan.End()
	metrics.ObserveStage(metrics.StageGenerate, genStart)
	if err != nil {
		// Whole-batch generation failure: every store category is
		// unavailable, but the request still succeeds.
		p.logger.Warn("candidate generation failed for all categories",
			"store_id", q.StoreID, "error", err)
		degraded := make([]types.DegradedCategory, 0, len(categories))
		for _, cat := range categories {
			reason := reasonFor(err)
			metrics.DegradedCategories.WithLabelValues(reason).Inc()
			degraded = append(degraded, types.DegradedCategory{Category: cat, Reason: reason})
		}
		return p.cache.NewEntry(key, q, nil, degraded), nil
	}

	results, degraded := p.processCategories(ctx, q, categories, genResult)
	return p.cache.NewEntry(key, q, results, degraded), nil
}

// processCategories fans out per-category match and validate work and
// fans results back in preserving catalog category order.
func (p *Pipeline) processCategories(ctx context.Context, q *types.Query, categories []types.Category, genResult *generator.Result) ([]types.CategoryResult, []types.DegradedCategory) {
	type slot struct {
		result   *types.CategoryResult
		degraded *types.DegradedCategory
	}
	slots := make([]slot, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxCategoryWorkers)

	for i, cat := range categories {
		set, ok := genResult.Sets[cat.ID]
		if !ok {
			continue
		}

		i, cat := i, cat
		g.Go(func() error {
			result, degraded := p.processCategory(gctx, q, cat, set)
			slots[i] = slot{result: result, degraded: degraded}
			return nil
		})
	}
	// Worker errors are folded into per-category degradation.
	_ = g.Wait()

	var results []types.CategoryResult
	degraded := append([]types.DegradedCategory(nil), genResult.Degraded...)
	for _, s := range slots {
		if s.result != nil {
			results = append(results, *s.result)
		}
		if s.degraded != nil {
			metrics.DegradedCategories.WithLabelValues(s.degraded.Reason).Inc()
			degraded = append(degraded, *s.degraded)
		}
	}
	return results, degraded
}

func (p *Pipeline) processCategory(ctx context.Context, q *types.Query, cat types.Category, set types.CandidateSet) (*types.CategoryResult, *types.DegradedCategory) {
	products, err := p.catalog.Products(ctx, q.StoreID, cat.ID)
	if err != nil {
		p.logger.Warn("category product fetch failed", "category", cat.Name, "error", err)
		return nil, &types.DegradedCategory{Category: cat, Reason: "catalog_unavailable"}
	}
	if len(products) == 0 {
		return nil, &types.DegradedCategory{Category: cat, Reason: "no_products"}
	}

	matchStart := p.now()
	_, matchSpan := observability.StartStageSpan(ctx, p.tracer, metrics.StageMatch, q.StoreID)
	candidates := p.matcher.Match(set, products)
	matchSpan.End()
	metrics.ObserveStage(metrics.StageMatch, matchStart)
	if len(candidates) == 0 {
		return nil, &types.DegradedCategory{Category: cat, Reason: "no_matches"}
	}

	validateStart := p.now()
	validateCtx, validateSpan := observability.StartStageSpan(ctx, p.tracer, metrics.StageValidate, q.StoreID)
	matches := p.validator.Validate(validateCtx, q, candidates)
	validateSpan.End()
	metrics.ObserveStage(metrics.StageValidate, validateStart)
	if len(matches) == 0 {
		return nil, &types.DegradedCategory{Category: cat, Reason: "no_relevant_products"}
	}

	return &types.CategoryResult{Category: cat, Matches: matches}, nil
}

// Recompute rebuilds an entry from its stored normalized query, for
// background cache warming.
func (p *Pipeline) Recompute(ctx context.Context, stale *types.CacheEntry) (*types.CacheEntry, error) {
	q, err := p.normalizer.Normalize(stale.Query, "warmer", stale.StoreID)
	if err != nil {
		return nil, err
	}
	return p.compute(ctx, stale.Key, q)
}

// History returns a user's session records.
func (p *Pipeline) History(ctx context.Context, userID string) ([]types.SessionRecord, error) {
	return p.sessions.History(ctx, userID)
}

// Categories exposes the store's catalog categories.
func (p *Pipeline) Categories(ctx context.Context, storeID string) ([]types.Category, error) {
	return p.catalog.Categories(ctx, storeID)
}

// writeSession records the query in history without blocking the
// response. Failures are logged only.
func (p *Pipeline) writeSession(q *types.Query, resp *types.RecommendResponse) {
	record := &types.SessionRecord{
		UserID:  q.UserID,
		Query:   q.Raw,
		StoreID: q.StoreID,
		Signals: q.Signals,
		Summary: types.Summary{
			Categories: len(resp.Matched),
			Products:   countProducts(resp),
			CacheHit:   resp.CacheHit,
		},
		Timestamp: q.SubmittedAt,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SessionWriteTimeout)
		defer cancel()
		if err := p.sessions.Append(ctx, record); err != nil {
			p.logger.Warn("session history write failed", "user_id", q.UserID, "error", err)
		}
	}()
}

func reasonFor(err error) string {
	if pe, ok := errors.AsPipelineError(err); ok {
		return pe.Kind
	}
	return "generation_failed"
}
