package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pantryio/pantrymatch/internal/cache"
	"github.com/pantryio/pantrymatch/internal/generator"
	"github.com/pantryio/pantrymatch/internal/metrics"
	"github.com/pantryio/pantrymatch/internal/health"
	"github.com/pantryio/pantrymatch/internal/matcher"
	"github.com/pantryio/pantrymatch/internal/normalizer"
	"github.com/pantryio/pantrymatch/internal/validator"
	pkgerrors "github.com/pantryio/pantrymatch/pkg/errors"
	"github.com/pantryio/pantrymatch/pkg/llm"
	"github.com/pantryio/pantrymatch/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeModel answers generation prompts with a canned breakdown and
// approves every validation pair. It counts calls per purpose.
type fakeModel struct {
	mu              sync.Mutex
	generationJSON  string
	generationErr   error
	generationCalls int
	validationCalls int
}

func (f *fakeModel) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prompt := req.Messages[len(req.Messages)-1].Content
	var content string
	if strings.Contains(prompt, "grocery assistant") {
		f.generationCalls++
		if f.generationErr != nil {
			return nil, f.generationErr
		}
		content = f.generationJSON
	} else {
		f.validationCalls++
		var verdicts []string
		for i := 1; i <= strings.Count(prompt, "Ingredient:"); i++ {
			verdicts = append(verdicts, strconv.Itoa(i)+":YES")
		}
		content = strings.Join(verdicts, ", ")
	}

	return &llm.ChatResponse{
		Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: content}}},
	}, nil
}

// fakeCatalog is an in-memory Accessor with switchable failures.
type fakeCatalog struct {
	mu            sync.Mutex
	categories    []types.Category
	products      map[string][]types.Product
	categoriesErr error
	productErrs   map[string]error
	productCalls  int
}

func (f *fakeCatalog) Categories(_ context.Context, storeID string) ([]types.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.categoriesErr != nil {
		return nil, f.categoriesErr
	}
	return f.categories, nil
}

func (f *fakeCatalog) Products(_ context.Context, storeID, categoryID string) ([]types.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.productCalls++
	if err := f.productErrs[categoryID]; err != nil {
		return nil, err
	}
	return f.products[categoryID], nil
}

// memorySessions collects appended records.
type memorySessions struct {
	mu      sync.Mutex
	records []types.SessionRecord
	wrote   chan struct{}
}

func newMemorySessions() *memorySessions {
	return &memorySessions{wrote: make(chan struct{}, 16)}
}

func (m *memorySessions) Append(_ context.Context, r *types.SessionRecord) error {
	m.mu.Lock()
	m.records = append(m.records, *r)
	m.mu.Unlock()
	m.wrote <- struct{}{}
	return nil
}

func (m *memorySessions) History(_ context.Context, userID string) ([]types.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SessionRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memorySessions) Close() error { return nil }

const biryaniGeneration = `{
	"categories": [
		{"category": "Rice & Grains", "items": ["basmati rice"]},
		{"category": "Spices", "items": ["garam masala", "turmeric"]}
	]
}`

type fixture struct {
	pipeline *Pipeline
	model    *fakeModel
	catalog  *fakeCatalog
	sessions *memorySessions
	cacheMgr *cache.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	model := &fakeModel{generationJSON: biryaniGeneration}
	cat := &fakeCatalog{
		categories: []types.Category{
			{ID: "c1", Name: "Rice & Grains", Rank: 1},
			{ID: "c2", Name: "Spices", Rank: 2},
		},
		products: map[string][]types.Product{
			"c1": {
				{ID: "p1", Name: "India Gate Basmati Rice 1kg", CategoryID: "c1", OfferPrice: 99},
				{ID: "p2", Name: "Toilet Cleaner", CategoryID: "c1"},
			},
			"c2": {
				{ID: "p3", Name: "Garam Masala 100g", CategoryID: "c2", OfferPrice: 45},
				{ID: "p4", Name: "Turmeric Powder 200g", CategoryID: "c2", OfferPrice: 30},
			},
		},
		productErrs: map[string]error{},
	}
	sessions := newMemorySessions()

	logger := testLogger()
	cacheMgr := cache.NewManager(cache.NewMemory(time.Hour), cache.ManagerConfig{
		TTL:                 time.Hour,
		OpTimeout:           time.Second,
		SimilarityThreshold: 0.80,
	}, logger)

	p := New(
		normalizer.New(),
		cacheMgr,
		cat,
		generator.New(model, generator.Config{Timeout: 5 * time.Second}, logger),
		matcher.New(matcher.Config{MinScore: 0.60}),
		validator.New(model, validator.Config{Timeout: 5 * time.Second, FallbackTopN: 10}, logger),
		sessions,
		health.NewTracker(cacheMgr),
		Config{MaxCategoryWorkers: 4},
		logger,
	)

	return &fixture{pipeline: p, model: model, catalog: cat, sessions: sessions, cacheMgr: cacheMgr}
}

func biryaniRequest() *types.RecommendRequest {
	return &types.RecommendRequest{
		Query:   "I want to make chicken biryani",
		UserID:  "alice",
		StoreID: "store-1",
	}
}

func TestRecommendMissPath(t *testing.T) {
	f := newFixture(t)

	resp, err := f.pipeline.Recommend(t.Context(), biryaniRequest())
	require.NoError(t, err)

	assert.False(t, resp.CacheHit)
	assert.Equal(t, "I want to make chicken biryani", resp.Query)
	require.Len(t, resp.Matched, 2)

	// Catalog order is preserved regardless of worker completion order.
	assert.Equal(t, "Rice & Grains", resp.Matched[0].Category.Name)
	assert.Equal(t, "Spices", resp.Matched[1].Category.Name)

	require.Len(t, resp.Matched[0].Products, 1)
	rice := resp.Matched[0].Products[0]
	assert.Equal(t, "p1", rice.ID)
	assert.True(t, rice.Validated)
	assert.Equal(t, 1, rice.Quantity)
	assert.Equal(t, 99.0, rice.OfferPrice)

	assert.Len(t, resp.Matched[1].Products, 2)
	assert.Empty(t, resp.Unavailable)

	assert.Equal(t, 1, f.model.generationCalls)
	assert.Positive(t, f.model.validationCalls)
}

func TestRecommendCacheHitSkipsModel(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	first, err := f.pipeline.Recommend(ctx, biryaniRequest())
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	generationsAfterFirst := f.model.generationCalls
	validationsAfterFirst := f.model.validationCalls

	second, err := f.pipeline.Recommend(ctx, biryaniRequest())
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, generationsAfterFirst, f.model.generationCalls)
	assert.Equal(t, validationsAfterFirst, f.model.validationCalls)
	assert.Equal(t, first.Matched, second.Matched)
}

func TestRecommendSimilarQueryReusesEntry(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.pipeline.Recommend(ctx, biryaniRequest())
	require.NoError(t, err)
	generationsAfterFirst := f.model.generationCalls

	// One extra filler token; normalizes to a near-identical token set
	// with a different exact key.
	similar := &types.RecommendRequest{
		Query:   "I want to make a chicken biryani",
		UserID:  "bob",
		StoreID: "store-1",
	}
	resp, err := f.pipeline.Recommend(ctx, similar)
	require.NoError(t, err)

	assert.True(t, resp.CacheHit)
	assert.Equal(t, generationsAfterFirst, f.model.generationCalls)
	assert.Equal(t, "bob", resp.UserID)
}

func TestRecommendPartialDegradation(t *testing.T) {
	f := newFixture(t)
	f.catalog.productErrs["c2"] = errors.New("shard down")

	resp, err := f.pipeline.Recommend(t.Context(), biryaniRequest())
	require.NoError(t, err)

	require.Len(t, resp.Matched, 1)
	assert.Equal(t, "Rice & Grains", resp.Matched[0].Category.Name)

	require.Len(t, resp.Unavailable, 1)
	assert.Equal(t, "Spices", resp.Unavailable[0].Category.Name)
	assert.Equal(t, "catalog_unavailable", resp.Unavailable[0].Reason)
}

func TestRecommendCatalogFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.catalog.categoriesErr = pkgerrors.NewCatalogUnavailableError(errors.New("db down"))

	_, err := f.pipeline.Recommend(t.Context(), biryaniRequest())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindCatalogUnavailable))
}

func TestRecommendInvalidQuery(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Recommend(t.Context(), &types.RecommendRequest{
		Query:   "   ",
		UserID:  "alice",
		StoreID: "store-1",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindInvalidQuery))
}

func TestRecommendGenerationFailureDegradesAllCategories(t *testing.T) {
	f := newFixture(t)
	f.model.generationErr = context.DeadlineExceeded

	resp, err := f.pipeline.Recommend(t.Context(), biryaniRequest())
	require.NoError(t, err)

	assert.Empty(t, resp.Matched)
	require.Len(t, resp.Unavailable, 2)
	for _, u := range resp.Unavailable {
		assert.Equal(t, "generation_timeout", u.Reason)
	}
}

func TestRecommendEmitsStageSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(sdktrace.NewTracerProvider()) })

	f := newFixture(t)
	_, err := f.pipeline.Recommend(t.Context(), biryaniRequest())
	require.NoError(t, err)

	names := make(map[string]int)
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}

	for _, stage := range []string{
		metrics.StageTotal,
		metrics.StageNormalize,
		metrics.StageCache,
		metrics.StageGenerate,
		metrics.StageMatch,
		metrics.StageValidate,
	} {
		assert.Positive(t, names[stage], "no span recorded for stage %q", stage)
	}

	// Two categories fan out, so the per-category stages repeat.
	assert.Equal(t, 2, names[metrics.StageMatch])
}

func TestRecommendOutageIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.model.generationErr = context.DeadlineExceeded

	first, err := f.pipeline.Recommend(ctx, biryaniRequest())
	require.NoError(t, err)
	assert.Empty(t, first.Matched)
	require.Len(t, first.Unavailable, 2)

	// Backend recovers; the identical query must recompute instead of
	// serving the degraded entry for the rest of the TTL.
	f.model.mu.Lock()
	f.model.generationErr = nil
	f.model.mu.Unlock()

	second, err := f.pipeline.Recommend(ctx, biryaniRequest())
	require.NoError(t, err)

	assert.False(t, second.CacheHit)
	assert.NotEmpty(t, second.Matched)
	assert.Empty(t, second.Unavailable)
	assert.Equal(t, 2, f.model.generationCalls)
}

func TestRecommendWritesSessionHistory(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.pipeline.Recommend(ctx, biryaniRequest())
	require.NoError(t, err)

	select {
	case <-f.sessions.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("session record was not written")
	}

	history, err := f.pipeline.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "I want to make chicken biryani", history[0].Query)
	assert.Equal(t, 2, history[0].Summary.Categories)
	assert.Equal(t, 3, history[0].Summary.Products)
	assert.False(t, history[0].Summary.CacheHit)
}

func TestRecommendConcurrentIdenticalQueriesComputeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	const callers = 6
	var wg sync.WaitGroup
	responses := make([]*types.RecommendResponse, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.pipeline.Recommend(ctx, biryaniRequest())
			assert.NoError(t, err)
			responses[i] = resp
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.model.generationCalls)

	for _, resp := range responses[1:] {
		require.NotNil(t, resp)
		assert.Equal(t, responses[0].Matched, resp.Matched)
		assert.Equal(t, responses[0].Unavailable, resp.Unavailable)
	}
}

func TestRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.pipeline.Recommend(ctx, biryaniRequest())
	require.NoError(t, err)

	stale := &types.CacheEntry{
		Key:     "some-key",
		Query:   "i want to make chicken biryani",
		StoreID: "store-1",
	}

	fresh, err := f.pipeline.Recompute(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, "some-key", fresh.Key)
	assert.NotEmpty(t, fresh.Results)
}

func TestCategories(t *testing.T) {
	f := newFixture(t)

	cats, err := f.pipeline.Categories(t.Context(), "store-1")
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}
