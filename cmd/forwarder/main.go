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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pawpal-relay/internal/config"
	"pawpal-relay/internal/forwarder"
	"pawpal-relay/internal/httpclient"
	"pawpal-relay/internal/logx"
	"pawpal-relay/internal/metrics"
	"pawpal-relay/internal/provider"
	"pawpal-relay/internal/ratelimit"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadForwarder()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logx.New(logx.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("forwarder stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Forwarder, logger zerolog.Logger) error {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})
	defer httpClient.CloseIdleConnections()

	model, err := provider.New(ctx, cfg.Model, httpClient, logger)
	if err != nil {
		return fmt.Errorf("model init: %w", err)
	}
	if model == nil {
		logger.Warn().
			Str("provider", cfg.Model.Provider).
			Str("env", cfg.Model.CredentialEnv()).
			Msg("model credential missing, every relay call will fail")
	}

	m := metrics.New()

	opts := forwarder.Options{
		Model:          model,
		CredentialEnv:  cfg.Model.CredentialEnv(),
		AccessToken:    cfg.AccessToken,
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Metrics:        m,
		Logger:         logger,
	}

	if cfg.RedisURL != "" && cfg.RateLimit > 0 {
		limiter, err := ratelimit.New(ratelimit.Options{
			URL:    cfg.RedisURL,
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
		if err != nil {
			return err
		}
		defer limiter.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := limiter.Ping(pingCtx); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, rate limiting fails open")
		}
		cancel()

		opts.Limiter = limiter
	}

	fwd := forwarder.New(opts)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           fwd.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("model", fwd.ModelName()).
			Bool("auth", cfg.AccessToken != "").
			Bool("rate_limit", opts.Limiter != nil).
			Msg("forwarder started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
