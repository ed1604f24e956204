package core

// scheduler.go runs periodic maintenance: spooled uploads that were never
// imported are removed after SpoolRetention, and job history older than
// HistoryRetention is purged. Failures are logged and retried on the next
// tick.

import (
	"context"
	"time"
)

// MaintenanceConfig holds configuration for the maintenance scheduler.
// Zero values select the defaults.
type MaintenanceConfig struct {
	SpoolRetention   time.Duration // default 24h
	HistoryRetention time.Duration // default 30 days
	CheckInterval    time.Duration // default 1h
}

func (c MaintenanceConfig) withDefaults() MaintenanceConfig {
	if c.SpoolRetention <= 0 {
		c.SpoolRetention = 24 * time.Hour
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 30 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// RunMaintenance runs one maintenance cycle immediately, then every
// CheckInterval until ctx is cancelled.
func (s *Service) RunMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	cfg = cfg.withDefaults()
	s.logger.Info("maintenance scheduler started",
		"spool_retention", cfg.SpoolRetention,
		"history_retention", cfg.HistoryRetention,
		"interval", cfg.CheckInterval,
	)

	s.runMaintenance(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.runMaintenance(ctx, cfg)
		}
	}
}

// runMaintenance performs one purge cycle.
func (s *Service) runMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	start := s.now()

	removed, err := s.stores.Spool.Purge(ctx, start.Add(-cfg.SpoolRetention))
	if err != nil {
		s.logger.Error("purge spooled uploads failed", "error", err)
	} else if removed > 0 {
		s.logger.Info("purged spooled uploads", "removed", removed)
	}

	purged, err := s.stores.History.PurgeBefore(ctx, start.Add(-cfg.HistoryRetention))
	if err != nil {
		s.logger.Error("purge job history failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("purged job history", "removed", purged)
	}

	s.logger.Debug("maintenance completed", "duration_ms", s.now().Sub(start).Milliseconds())
}
