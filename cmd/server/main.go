package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/narration-gateway/internal/cache"
	"github.com/lexiqai/narration-gateway/internal/config"
	"github.com/lexiqai/narration-gateway/internal/httpapi"
	"github.com/lexiqai/narration-gateway/internal/observability"
	"github.com/lexiqai/narration-gateway/internal/resilience"
	"github.com/lexiqai/narration-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Narration gateway stopped with error")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("port", cfg.Port).
		Strs("providers", cfg.EnabledProviders()).
		Int("max_chunk_length", cfg.MaxChunkLength).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Bool("cache_enabled", cfg.CacheEnabled()).
		Msg("Narration gateway starting")

	shutdownTracing, err := observability.InitTracing(cfg.TraceExporter)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers := tts.NewProviders(cfg, &http.Client{})
	routes, err := tts.LoadProviderConfig(cfg, providers, logger)
	if err != nil {
		return err
	}
	logger.Info().Strs("languages", routes.Languages()).Msg("Routing table loaded")

	opts := []tts.ProxyOption{
		tts.WithMaxTextLength(config.GoogleMaxTextLength),
		tts.WithCircuitBreaker(cfg.CircuitBreakerMaxFailures, time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		tts.WithRetry(&resilience.RetryConfig{
			MaxAttempts:       cfg.ProviderRetryAttempts,
			InitialBackoff:    config.Millis(cfg.RetryInitialBackoff),
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
		}),
	}

	checks := make(map[string]observability.HealthCheckFunc)

	if cfg.CacheEnabled() {
		redisCache := cache.NewRedisCache(cache.NewClient(cfg), time.Duration(cfg.CacheTTL)*time.Second)
		defer redisCache.Close()

		reconnect := &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     config.Millis(cfg.ReconnectBackoff),
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		}
		if err := resilience.Reconnect(ctx, "redis", redisCache.Ping, reconnect, logger); err != nil {
			// The gateway works without a cache; readiness reports it
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable, continuing without synthesis cache")
		} else {
			logger.Info().Str("addr", cfg.RedisAddr).Msg("Synthesis cache connected")
		}
		opts = append(opts, tts.WithCache(redisCache))
		checks["redis"] = func(ctx context.Context) (bool, error) {
			if err := redisCache.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	proxy := tts.NewProxy(routes, opts...)

	for _, p := range routes.Providers() {
		breaker := proxy.Breaker(p.Name())
		if breaker == nil {
			continue
		}
		checks[p.Name()] = func(ctx context.Context) (bool, error) {
			if breaker.GetState() == resilience.StateOpen {
				return false, fmt.Errorf("circuit breaker %s is open", breaker.Name())
			}
			return true, nil
		}
	}

	// Create HTTP server with timeouts. No WriteTimeout: websocket sessions are long-lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           httpapi.New(cfg, proxy, checks).Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("tts_endpoint", fmt.Sprintf("http://localhost:%s/tts", cfg.Port)).
			Str("ws_endpoint", fmt.Sprintf("ws://localhost:%s/narrate/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}
