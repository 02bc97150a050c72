// Package config provides configuration loading with hot-reload support.
// YAML files are expanded with environment variables and validated before
// being swapped in atomically.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pantryio/pantrymatch/pkg/llm"
)

// Config represents the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  llm.Config     `yaml:"backend"`
	Cache    CacheConfig    `yaml:"cache"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Session  SessionConfig  `yaml:"session"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// CacheConfig contains cache manager and backend settings.
type CacheConfig struct {
	// Backend selects the store: "redis" or "memory".
	Backend string `yaml:"backend"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// TTL is the entry lifetime. Default 48h.
	TTL time.Duration `yaml:"ttl"`

	// OpTimeout bounds individual backend operations. Default 3s.
	OpTimeout time.Duration `yaml:"op_timeout"`

	// SimilarityThreshold is the minimum token Jaccard similarity for a
	// near-duplicate cache hit. Default 0.80.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// Warming recomputes high-traffic entries nearing expiry.
	WarmInterval  time.Duration `yaml:"warm_interval"`
	WarmMinHits   int64         `yaml:"warm_min_hits"`
	WarmExpiryWin time.Duration `yaml:"warm_expiry_window"`
}

// CatalogConfig contains catalog accessor settings.
type CatalogConfig struct {
	// Source selects the accessor: "static" loads JSON snapshot files.
	Source         string        `yaml:"source"`
	CategoriesFile string        `yaml:"categories_file"`
	ProductsFile   string        `yaml:"products_file"`
	Timeout        time.Duration `yaml:"timeout"`

	// SnapshotTTL controls memoization of per-store lookups.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

// SessionConfig contains session history store settings.
type SessionConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// PipelineConfig contains matching and validation knobs.
type PipelineConfig struct {
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	ValidationTimeout time.Duration `yaml:"validation_timeout"`

	// MinMatchScore discards fuzzy matches below this score before
	// validation. Default 0.60.
	MinMatchScore float64 `yaml:"min_match_score"`

	// FallbackTopN caps unvalidated matches kept when validation degrades.
	FallbackTopN int `yaml:"fallback_top_n"`

	// MaxCategoryWorkers bounds concurrent category branches.
	MaxCategoryWorkers int `yaml:"max_category_workers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Backend: llm.DefaultConfig(),
		Cache: CacheConfig{
			Backend:             "redis",
			RedisAddr:           "localhost:6379",
			TTL:                 48 * time.Hour,
			OpTimeout:           3 * time.Second,
			SimilarityThreshold: 0.80,
			WarmInterval:        10 * time.Minute,
			WarmMinHits:         3,
			WarmExpiryWin:       2 * time.Hour,
		},
		Catalog: CatalogConfig{
			Source:      "static",
			Timeout:     5 * time.Second,
			SnapshotTTL: 5 * time.Minute,
		},
		Session: SessionConfig{
			RedisAddr: "localhost:6379",
			TTL:       24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			GenerationTimeout:  30 * time.Second,
			ValidationTimeout:  20 * time.Second,
			MinMatchScore:      0.60,
			FallbackTopN:       10,
			MaxCategoryWorkers: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "pantrymatch",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Backend.APIKey == "" {
		return fmt.Errorf("backend.api_key is required")
	}
	if c.Backend.Model == "" {
		return fmt.Errorf("backend.model is required")
	}

	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("cache.backend must be redis or memory, got %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be in (0,1], got %v", c.Cache.SimilarityThreshold)
	}

	if c.Catalog.Source == "static" {
		if c.Catalog.CategoriesFile == "" || c.Catalog.ProductsFile == "" {
			return fmt.Errorf("catalog.categories_file and catalog.products_file are required for static source")
		}
	}

	if c.Pipeline.MinMatchScore < 0 || c.Pipeline.MinMatchScore > 1 {
		return fmt.Errorf("pipeline.min_match_score must be in [0,1], got %v", c.Pipeline.MinMatchScore)
	}
	if c.Pipeline.GenerationTimeout <= 0 {
		return fmt.Errorf("pipeline.generation_timeout must be positive")
	}
	if c.Pipeline.ValidationTimeout <= 0 {
		return fmt.Errorf("pipeline.validation_timeout must be positive")
	}
	if c.Pipeline.MaxCategoryWorkers <= 0 {
		return fmt.Errorf("pipeline.max_category_workers must be positive")
	}

	return nil
}
