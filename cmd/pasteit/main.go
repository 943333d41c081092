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

	"pasteit/internal/config"
	"pasteit/internal/highlight"
	"pasteit/internal/httpserver"
	"pasteit/internal/id"
	"pasteit/internal/logging"
	"pasteit/internal/paste"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("pasteit stopped")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	repo, err := paste.New(paste.Config{
		Store:     store,
		IDs:       id.New(0),
		Retention: cfg.Retention,
		Logger:    logger.With().Str("component", "paste").Logger(),
	})
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Scan(ctx); err != nil {
		return fmt.Errorf("load pastes: %w", err)
	}

	hl, err := highlight.New(cfg.HighlightStyle, cfg.HighlightCacheSize)
	if err != nil {
		return err
	}

	srv, err := httpserver.New(httpserver.Config{
		Repo:         repo,
		Highlighter:  hl,
		MaxBytes:     cfg.MaxBytes,
		SitePassword: cfg.SitePassword,
		TrustProxy:   cfg.BehindProxy,
		BaseURL:      cfg.BaseURL,
		Logger:       logger.With().Str("component", "http").Logger(),
		CookieSecret: []byte(cfg.CookieSecret),
	})
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	srvHTTP := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	paste.StartSweeper(gctx, repo, cfg.SweepInterval, logger.With().Str("component", "sweeper").Logger())
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreDriver).Msg("listening")
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
		return nil
	})
	return g.Wait()
}
