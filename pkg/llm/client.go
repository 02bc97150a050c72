package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the default OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	defaultMaxInFlight = 8
	defaultTimeout     = 30 * time.Second
)

// Config holds the backend client configuration.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// MaxInFlight caps concurrent calls to the backend. Zero means the
	// default of 8.
	MaxInFlight int `yaml:"max_in_flight"`

	// RequestsPerMinute throttles call admission to respect upstream rate
	// limits. Zero disables throttling.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Model:       "gpt-4o-mini",
		Timeout:     defaultTimeout,
		MaxInFlight: defaultMaxInFlight,
	}
}

// Client calls an OpenAI-compatible chat completions backend.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
}

// New creates a new backend client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: cfg.Timeout,
		},
		sem: semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}

	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return c, nil
}

// Model returns the configured default model.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete sends a chat completion request. The caller's context deadline is
// the unit of cancellation; admission (semaphore and rate limiter) also
// respects it, so a slow backend cannot queue work past its branch timeout.
func (c *Client) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("llm: request is nil")
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("llm: messages are required")
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("llm: acquire slot: %w", err)
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm: rate limit wait: %w", err)
		}
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llm: backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return c.parseResponse(resp)
}

func (c *Client) buildRequest(ctx context.Context, req *ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return httpReq, nil
}

func (c *Client) parseResponse(resp *http.Response) (*ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("llm: unmarshal response: %w", err)
	}

	return &chatResp, nil
}
