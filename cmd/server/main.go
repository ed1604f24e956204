package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/oklog/run"

	"github.com/JonMunkholm/bulkimport/internal/config"
	"github.com/JonMunkholm/bulkimport/internal/core"
	_ "github.com/JonMunkholm/bulkimport/internal/core/datasets" // Register datasets
	"github.com/JonMunkholm/bulkimport/internal/logging"
	"github.com/JonMunkholm/bulkimport/internal/web"
)

func main() {
	if err := runServer(context.Background()); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context) error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger := slog.Default()
	logger.Info("configuration loaded", "config", cfg.String())

	stores, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer closeStores()

	service, err := core.NewService(stores, core.ServiceConfig{
		MaxFileSize:   cfg.Upload.MaxFileSize,
		MaxChunkSize:  cfg.Upload.MaxChunkSize,
		JobTimeout:    cfg.Import.Timeout,
		LockTTL:       cfg.Import.LockTTL,
		ProgressEvery: cfg.Import.ProgressEvery,
	},
		core.WithLimiter(core.NewJobLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)),
		core.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	datasets := service.Datasets()
	logger.Info("datasets registered", "count", len(datasets))
	for _, ds := range datasets {
		logger.Debug("dataset", "key", ds.Key, "columns", len(ds.Columns), "reference_required", ds.ReferenceRequired)
	}

	server := web.NewServer(service, cfg, logger)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Info("termination signal received")
				return nil
			},
			func(error) {
				signalCancel()
			},
		)
	}

	// HTTP server. Running imports get the shutdown timeout to finish before
	// they are cancelled.
	{
		g.Add(
			func() error {
				return server.Start(cfg.Server.Addr())
			},
			func(error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("http shutdown", "error", err)
				}
				if status := service.Limiter().Status(); status.Active > 0 {
					logger.Info("waiting for imports to complete", "active", status.Active)
				}
				if err := service.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
					logger.Error("import shutdown", "error", err)
				}
			},
		)
	}

	// Maintenance.
	{
		mctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				service.RunMaintenance(mctx, core.MaintenanceConfig{
					SpoolRetention:   cfg.Maintenance.SpoolRetention,
					HistoryRetention: cfg.Maintenance.HistoryRetention,
					CheckInterval:    cfg.Maintenance.CheckInterval,
				})
				return nil
			},
			func(error) {
				cancel()
			},
		)
	}

	err = g.Run()
	logger.Info("server stopped")
	return err
}
