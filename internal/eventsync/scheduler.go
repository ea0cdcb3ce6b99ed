// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventsync

import (
	"context"
	"time"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/logging"
)

// Scheduler triggers sync runs on a fixed interval. It implements
// suture's Service interface and runs under the supervision tree.
type Scheduler struct {
	cfg  *config.SyncConfig
	orch *Orchestrator
}

// NewScheduler wires the scheduler.
func NewScheduler(cfg *config.SyncConfig, orch *Orchestrator) *Scheduler {
	return &Scheduler{cfg: cfg, orch: orch}
}

// Serve runs an initial sync, then one per interval, until ctx ends.
// The orchestrator never returns an error, so neither does a run; the
// only error out of Serve is ctx's.
func (s *Scheduler) Serve(ctx context.Context) error {
	if !s.cfg.Enabled {
		logging.Info().Msg("event sync disabled, scheduler idle")
		<-ctx.Done()
		return ctx.Err()
	}

	logging.Info().Dur("interval", s.cfg.Interval).Strs("cities", s.cfg.Cities).Msg("event sync scheduler started")
	s.runOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	stats := s.orch.SyncEvents(ctx, nil)
	if len(stats.Errors) > 0 {
		logging.Warn().Strs("errors", stats.Errors).Msg("sync run completed with errors")
	}
	s.orch.CleanupExpiredEvents(ctx)
}

// String names the service in supervisor logs.
func (s *Scheduler) String() string { return "eventsync-scheduler" }
