// Package main is the entry point for the pantrymatch recommendation
// server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pantryio/pantrymatch/internal/api"
	"github.com/pantryio/pantrymatch/internal/cache"
	"github.com/pantryio/pantrymatch/internal/catalog"
	"github.com/pantryio/pantrymatch/internal/config"
	"github.com/pantryio/pantrymatch/internal/generator"
	"github.com/pantryio/pantrymatch/internal/health"
	"github.com/pantryio/pantrymatch/internal/matcher"
	"github.com/pantryio/pantrymatch/internal/normalizer"
	"github.com/pantryio/pantrymatch/internal/observability"
	"github.com/pantryio/pantrymatch/internal/pipeline"
	"github.com/pantryio/pantrymatch/internal/session"
	"github.com/pantryio/pantrymatch/internal/validator"
	"github.com/pantryio/pantrymatch/pkg/llm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfgManager, err := config.NewManager(*configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer cfgManager.Close()

	cfg := cfgManager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format == "json",
	})
	slog.SetDefault(logger)

	logger.Info("starting pantrymatch", "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	backend, err := newCacheBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("init cache backend: %w", err)
	}
	defer backend.Close()

	cacheMgr := cache.NewManager(backend, cache.ManagerConfig{
		TTL:                 cfg.Cache.TTL,
		OpTimeout:           cfg.Cache.OpTimeout,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
	}, logger)

	static, err := catalog.NewStatic(cfg.Catalog.CategoriesFile, cfg.Catalog.ProductsFile)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	cat := catalog.NewCached(static, cfg.Catalog.SnapshotTTL)

	model, err := llm.New(cfg.Backend)
	if err != nil {
		return fmt.Errorf("init backend client: %w", err)
	}

	sessions, err := session.NewRedisStore(session.RedisConfig{
		Addr:     cfg.Session.RedisAddr,
		Password: cfg.Session.RedisPassword,
		DB:       cfg.Session.RedisDB,
		TTL:      cfg.Session.TTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	defer sessions.Close()

	tracker := health.NewTracker(cacheMgr)

	pipe := pipeline.New(
		normalizer.New(),
		cacheMgr,
		cat,
		generator.New(model, generator.Config{Timeout: cfg.Pipeline.GenerationTimeout}, logger),
		matcher.New(matcher.Config{MinScore: cfg.Pipeline.MinMatchScore}),
		validator.New(model, validator.Config{
			Timeout:      cfg.Pipeline.ValidationTimeout,
			FallbackTopN: cfg.Pipeline.FallbackTopN,
		}, logger),
		sessions,
		tracker,
		pipeline.Config{MaxCategoryWorkers: cfg.Pipeline.MaxCategoryWorkers},
		logger,
	)

	warmer := cache.NewWarmer(cacheMgr, pipe.Recompute, cache.WarmerConfig{
		Interval:     cfg.Cache.WarmInterval,
		MinHits:      cfg.Cache.WarmMinHits,
		ExpiryWindow: cfg.Cache.WarmExpiryWin,
	}, logger)
	go warmer.Run(ctx)

	mux := http.NewServeMux()
	api.NewHandler(pipe, tracker, logger).RegisterRoutes(mux)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      observability.RequestIDMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// newCacheBackend selects the configured cache store. A Redis outage at
// startup falls back to the in-process store so the service still comes
// up; cache contents are then local to this instance.
func newCacheBackend(cfg *config.Config, logger *slog.Logger) (cache.Backend, error) {
	if cfg.Cache.Backend == "memory" {
		return cache.NewMemory(cfg.Cache.TTL), nil
	}

	redisCfg := cache.DefaultRedisConfig()
	redisCfg.Addr = cfg.Cache.RedisAddr
	redisCfg.Password = cfg.Cache.RedisPassword
	redisCfg.DB = cfg.Cache.RedisDB
	redisCfg.DefaultTTL = cfg.Cache.TTL

	backend, err := cache.NewRedis(redisCfg)
	if err != nil {
		logger.Warn("redis unreachable, using in-memory cache", "addr", cfg.Cache.RedisAddr, "error", err)
		return cache.NewMemory(cfg.Cache.TTL), nil
	}
	return backend, nil
}
