package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantryio/pantrymatch/internal/cache"
	"github.com/pantryio/pantrymatch/internal/generator"
	"github.com/pantryio/pantrymatch/internal/health"
	"github.com/pantryio/pantrymatch/internal/matcher"
	"github.com/pantryio/pantrymatch/internal/normalizer"
	"github.com/pantryio/pantrymatch/internal/pipeline"
	"github.com/pantryio/pantrymatch/internal/validator"
	"github.com/pantryio/pantrymatch/pkg/llm"
	"github.com/pantryio/pantrymatch/pkg/types"
)

type fakeModel struct {
	mu             sync.Mutex
	generationJSON string
}

func (f *fakeModel) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prompt := req.Messages[len(req.Messages)-1].Content
	content := f.generationJSON
	if !strings.Contains(prompt, "grocery assistant") {
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

type fakeCatalog struct {
	categories []types.Category
	products   map[string][]types.Product
}

func (f *fakeCatalog) Categories(_ context.Context, storeID string) ([]types.Category, error) {
	return f.categories, nil
}

func (f *fakeCatalog) Products(_ context.Context, _, categoryID string) ([]types.Product, error) {
	return f.products[categoryID], nil
}

type memorySessions struct {
	mu      sync.Mutex
	records []types.SessionRecord
}

func (m *memorySessions) Append(_ context.Context, r *types.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *r)
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

func newTestServer(t *testing.T) (*httptest.Server, *memorySessions) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	model := &fakeModel{generationJSON: `{
		"categories": [{"category": "Rice & Grains", "items": ["basmati rice"]}]
	}`}
	cat := &fakeCatalog{
		categories: []types.Category{{ID: "c1", Name: "Rice & Grains", Rank: 1}},
		products: map[string][]types.Product{
			"c1": {{ID: "p1", Name: "Basmati Rice 1kg", CategoryID: "c1", OfferPrice: 99}},
		},
	}
	sessions := &memorySessions{}

	cacheMgr := cache.NewManager(cache.NewMemory(time.Hour), cache.ManagerConfig{
		TTL:                 time.Hour,
		OpTimeout:           time.Second,
		SimilarityThreshold: 0.80,
	}, logger)
	tracker := health.NewTracker(cacheMgr)

	p := pipeline.New(
		normalizer.New(),
		cacheMgr,
		cat,
		generator.New(model, generator.Config{Timeout: 5 * time.Second}, logger),
		matcher.New(matcher.Config{MinScore: 0.60}),
		validator.New(model, validator.Config{Timeout: 5 * time.Second, FallbackTopN: 10}, logger),
		sessions,
		tracker,
		pipeline.Config{},
		logger,
	)

	mux := http.NewServeMux()
	NewHandler(p, tracker, logger).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, sessions
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(payload)))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRecommendEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/recommendations", types.RecommendRequest{
		Query:   "I want to make biryani",
		UserID:  "alice",
		StoreID: "store-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body := decodeBody[types.RecommendResponse](t, resp)
	assert.Equal(t, "alice", body.UserID)
	assert.False(t, body.CacheHit)
	require.Len(t, body.Matched, 1)
	assert.Equal(t, "Rice & Grains", body.Matched[0].Category.Name)
	require.Len(t, body.Matched[0].Products, 1)
	assert.Equal(t, "p1", body.Matched[0].Products[0].ID)
}

func TestRecommendEndpointInvalidQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/recommendations", types.RecommendRequest{
		Query:   "<script>alert(1)</script>",
		UserID:  "alice",
		StoreID: "store-1",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_query", body.Error.Kind)
	assert.NotEmpty(t, body.Error.Message)
}

func TestRecommendEndpointMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/recommendations", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_request", body.Error.Kind)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, sessions := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/recommendations", types.RecommendRequest{
		Query:   "I want to make biryani",
		UserID:  "alice",
		StoreID: "store-1",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The session write is fire-and-forget; wait for it to land.
	require.Eventually(t, func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return len(sessions.records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/v1/queries/alice")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[types.HistoryResponse](t, resp)
	require.Len(t, body.Queries, 1)
	assert.Equal(t, "alice", body.Queries[0].UserID)
	assert.Equal(t, "I want to make biryani", body.Queries[0].Query)
}

func TestCategoriesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/categories?store_id=store-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string][]types.WireCategory](t, resp)
	require.Len(t, body["categories"], 1)
	assert.Equal(t, "Rice & Grains", body["categories"][0].Name)
}

func TestCategoriesEndpointMissingStore(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/categories")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_request", body.Error.Kind)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[types.HealthResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.CacheReachable)
}
