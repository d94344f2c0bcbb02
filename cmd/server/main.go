package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/reelpulse/reelpulse/internal/api"
	"github.com/reelpulse/reelpulse/internal/app"
	"github.com/reelpulse/reelpulse/internal/auth"
	"github.com/reelpulse/reelpulse/internal/config"
	"github.com/reelpulse/reelpulse/internal/logging"
	"github.com/reelpulse/reelpulse/internal/server"
	"github.com/reelpulse/reelpulse/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting reelpulse",
		"store", cfg.Database.Driver,
		"storage", cfg.Storage.Driver,
		"gateway_mode", cfg.Gateway.Mode,
		"concurrency_limit", cfg.Queue.ConcurrencyLimit)

	authConfig, err := auth.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if authConfig.UsesDefaultSecret() {
		logger.Warn("ADMIN_JWT_SECRET is not set, using the built-in default secret")
	}

	pipeline, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	mux := http.NewServeMux()
	api.SetupRoutes(mux, api.Deps{
		Queue:    pipeline.Queue,
		Cleanup:  pipeline.Cleanup,
		Activity: pipeline.Repos.Activity,
		Auth:     authConfig,
		Health:   pipeline.Health,
		Logger:   logger,
	})
	mux.Handle("GET /metrics", pipeline.Metrics.Handler())

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	for _, svc := range pipeline.Schedulers() {
		tree.AddWorker(svc)
	}
	tree.AddAPI(server.New(cfg.Server, logger, pipeline.Metrics.InstrumentHandler(mux)))

	err = tree.Serve(ctx)
	logger.Info("shutting down, waiting for running sync jobs")
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logger.Warn("services did not stop in time", "services", len(report))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
