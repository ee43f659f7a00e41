package core

// scheduler.go runs periodic maintenance over stored runs:
//  1. Runs left pending or processing longer than StaleAfter are failed,
//     which covers runs lost to a crash or restart.
//  2. Finished runs older than RetentionDays are deleted. The orders they
//     wrote are kept.
//
// A failed maintenance pass is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/orderimport/internal/config"
)

const staleRunMessage = "processing timed out before the run finished"

// MaintenanceReport is the outcome of one maintenance pass.
type MaintenanceReport struct {
	Failed  int64
	Deleted int64
}

// StartMaintenance runs a maintenance pass immediately, then every
// CheckInterval until ctx is cancelled.
func (s *Service) StartMaintenance(ctx context.Context, cfg config.MaintenanceConfig) {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = time.Hour
	}
	slog.Info("maintenance scheduler started",
		"stale_after", cfg.StaleAfter,
		"retention_days", cfg.RetentionDays,
		"interval", interval,
	)

	s.RunMaintenance(ctx, cfg)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.RunMaintenance(ctx, cfg)
		}
	}
}

// RunMaintenance performs one pass.
func (s *Service) RunMaintenance(ctx context.Context, cfg config.MaintenanceConfig) MaintenanceReport {
	start := time.Now()
	now := s.now().UTC()
	var rep MaintenanceReport

	if cfg.StaleAfter > 0 {
		n, err := s.store.FailStaleUploads(ctx, now.Add(-cfg.StaleAfter), staleRunMessage)
		if err != nil {
			slog.Error("fail stale uploads", "error", err)
		} else {
			rep.Failed = n
		}
		if n > 0 {
			// Cached entries may still show these runs as in progress.
			s.statuses.Flush()
		}
	}

	if cfg.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.RetentionDays)
		n, err := s.store.DeleteUploadsBefore(ctx, cutoff)
		if err != nil {
			slog.Error("delete old uploads", "error", err)
		} else {
			rep.Deleted = n
		}
	}

	slog.Info("maintenance completed",
		"stale_failed", rep.Failed,
		"uploads_deleted", rep.Deleted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rep
}
