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

	"golang.org/x/sync/errgroup"

	"github.com/edvin/keyfleet/internal/config"
	"github.com/edvin/keyfleet/internal/core"
	"github.com/edvin/keyfleet/internal/db"
	"github.com/edvin/keyfleet/internal/fleet"
	"github.com/edvin/keyfleet/internal/logging"
	"github.com/edvin/keyfleet/internal/metrics"
	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/outbox"
	"github.com/edvin/keyfleet/internal/panel"
	"github.com/edvin/keyfleet/internal/reconcile"
	"github.com/edvin/keyfleet/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("keyfleet-worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	reg, err := registry.New(cfg.ServersFile, func(server model.PanelServer) panel.Adapter {
		return panel.NewXUI(server, cfg.PanelTimeout)
	})
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.ServersFile).Msg("failed to load fleet definition")
	}
	logger.Info().Int("servers", len(reg.All())).Msg("fleet loaded")

	services := core.NewServices(pool)
	orch := fleet.New(fleet.NewStore(services), reg, logger, fleet.Config{
		FanoutTimeout: cfg.FanoutTimeout,
		MaxAttempts:   cfg.OutboxMaxAttempts,
	})

	drainer := outbox.New(services.Outbox, services.Alert, orch, logger, outbox.Config{
		PollInterval: cfg.OutboxPollInterval,
		BaseBackoff:  cfg.OutboxBaseBackoff,
	})
	reconciler := reconcile.New(reconcile.NewStore(services), reg, logger, reconcile.Config{
		Interval:      cfg.ReconcileInterval,
		ServerTimeout: cfg.FanoutTimeout,
	})

	metricsServer := metrics.NewServer(cfg.MetricsListenAddr)
	go func() {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return drainer.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker loops stopped with error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)
}
