package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/bulkimport/internal/config"
	"github.com/JonMunkholm/bulkimport/internal/core"
	"github.com/JonMunkholm/bulkimport/internal/storage/memory"
	"github.com/JonMunkholm/bulkimport/internal/storage/postgres"
	"github.com/JonMunkholm/bulkimport/internal/storage/redisstore"
	"github.com/JonMunkholm/bulkimport/internal/storage/reports"
	"github.com/JonMunkholm/bulkimport/internal/storage/spool"
)

// openStores selects a backend for every store. Unset URLs fall back to the
// in-memory implementations, which suit a single instance only.
// The returned close function releases connections.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.Stores, func(), error) {
	var (
		stores  core.Stores
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Job history and imported records.
	if cfg.Storage.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.Storage.DatabaseURL, int32(cfg.Storage.MaxConns))
		if err != nil {
			return stores, closeAll, err
		}
		closers = append(closers, pool.Close)

		if err := postgres.Migrate(pool, logger); err != nil {
			closeAll()
			return stores, func() {}, err
		}
		stores.History = postgres.NewHistory(pool)
		stores.Sink = postgres.NewSink(pool)
		logger.Info("using postgres for history and records", "max_conns", cfg.Storage.MaxConns)
	} else {
		stores.History = memory.NewHistory()
		stores.Sink = memory.NewSink()
		logger.Warn("DATABASE_URL not set, history and records are kept in memory")
	}

	// Upload sessions and per-upload locks.
	if cfg.Storage.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			closeAll()
			return stores, func() {}, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() { _ = client.Close() })

		if err := client.Ping(ctx).Err(); err != nil {
			closeAll()
			return stores, func() {}, fmt.Errorf("ping redis: %w", err)
		}
		stores.Uploads = redisstore.NewUploads(client, cfg.Upload.SessionTTL)
		stores.Locker = redisstore.NewLocker(client)
		logger.Info("using redis for upload sessions and locks", "addr", opts.Addr)
	} else {
		stores.Uploads = memory.NewUploads(cfg.Upload.SessionTTL)
		stores.Locker = memory.NewLocker()
		logger.Warn("REDIS_URL not set, upload sessions and locks are kept in memory")
	}

	// Received bytes.
	dir, err := spool.New(cfg.Storage.SpoolDir)
	if err != nil {
		closeAll()
		return stores, func() {}, err
	}
	stores.Spool = dir

	// Error reports.
	if cfg.S3.Bucket != "" {
		s3Store, err := reports.NewS3(ctx, reports.S3Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			LinkTTL:   cfg.S3.LinkTTL,
		})
		if err != nil {
			closeAll()
			return stores, func() {}, err
		}
		stores.Reports = s3Store
		logger.Info("storing reports in s3", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	} else {
		local, err := reports.NewLocal(cfg.Storage.ReportDir)
		if err != nil {
			closeAll()
			return stores, func() {}, err
		}
		stores.Reports = local
	}

	return stores, closeAll, nil
}
