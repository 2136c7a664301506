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
	"pawpal-relay/internal/features"
	"pawpal-relay/internal/handlers"
	"pawpal-relay/internal/httpclient"
	"pawpal-relay/internal/logx"
	"pawpal-relay/internal/mediagroup"
	"pawpal-relay/internal/metrics"
	"pawpal-relay/internal/relayclient"
	"pawpal-relay/internal/suggest"
	"pawpal-relay/internal/telegram"
)

const sweepInterval = time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadBot()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logx.New(logx.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("bot stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Bot, logger zerolog.Logger) error {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}

	catalog, err := features.Load(cfg.FeaturesFile)
	if err != nil {
		return err
	}

	if cfg.Endpoint == "" || cfg.Token == "" {
		logger.Warn().Msg("RELAY_ENDPOINT or RELAY_TOKEN missing, suggestions will fail until configured")
	}
	m := metrics.New()
	relay := relayclient.New(relayclient.Options{
		Endpoint:   cfg.Endpoint,
		Token:      cfg.Token,
		HTTPClient: httpClient,
		Metrics:    m,
		Logger:     logger,
	})

	tracker := suggest.NewTracker(suggest.Options{})

	handler := handlers.New(handlers.Options{
		Messenger: tg,
		Suggester: relay,
		Catalog:   catalog,
		Tracker:   tracker,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	sem := make(chan struct{}, cfg.MaxConcurrent)
	dispatch := func(fn func(context.Context)) bool {
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			return false
		}
		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(gctx, cfg.RequestTimeout)
			defer cancel()

			fn(reqCtx)
		}()
		return true
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush: func(group mediagroup.Group) {
			dispatch(func(ctx context.Context) { handler.HandleMediaGroup(ctx, group) })
		},
	})
	defer aggregator.Stop()
	handler.SetMediaGroupAggregator(aggregator)

	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr, m)
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := tracker.Sweep(); n > 0 {
					logger.Debug().Int("removed", n).Msg("swept idle conversations")
				}
			}
		}
	})

	g.Go(func() error {
		logger.Info().Str("username", tg.Username()).Int("max_concurrent", cfg.MaxConcurrent).Msg("bot started")

		updates := tg.Updates(telegram.UpdatesOptions{Timeout: 30 * time.Second})
		defer tg.StopUpdates()

		for {
			select {
			case <-gctx.Done():
				logger.Info().Msg("shutting down")
				return nil
			case update, ok := <-updates:
				if !ok {
					logger.Info().Msg("updates channel closed")
					return nil
				}

				if !dispatch(func(ctx context.Context) {
					if err := handler.HandleUpdate(ctx, update); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error().Err(err).Msg("handle update failed")
					}
				}) {
					return nil
				}
			}
		}
	})

	err = g.Wait()

	// Wait for in-flight handlers.
	for i := 0; i < cap(sem); i++ {
		sem <- struct{}{}
	}
	return err
}
