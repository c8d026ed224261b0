package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liteproxy/liteproxy/internal/bridge"
	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/gateway"
	"github.com/liteproxy/liteproxy/internal/monitoring"
)

// runServe starts the gateway (and the bridge when enabled) and blocks until
// SIGINT/SIGTERM or a listener fails.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCloser, err := monitoring.SetupLogging(monitoring.LoggerConfig{
		Level:  cfg.Monitoring.LogLevel,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	// The bridge records into the same collector so /stats covers both.
	metrics := monitoring.NewMetricsCollector()
	gw, err := gateway.New(cfg, gateway.WithMetrics(metrics))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gw.Start)

	if cfg.Bridge.Enabled {
		br := bridge.New(cfg.Bridge, metrics)
		g.Go(func() error { return br.ListenAndServe(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
		defer cancel()
		return gw.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("liteproxy stopped with error")
		return err
	}
	log.Info().Msg("liteproxy stopped")
	return nil
}
