// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/models"
)

// EventStore is the slice of the canonical store the orchestrator
// writes through.
type EventStore interface {
	ExistingExternalIDs(ctx context.Context, externalIDs []string) (map[string]bool, error)
	UpsertEvents(ctx context.Context, events []models.Event) error
	CleanupExpiredEvents(ctx context.Context) (int, error)
	EventCountsByCity(ctx context.Context) (map[string]int, error)
}

// Orchestrator runs the external event sync: per city, fetch from all
// platforms, validate, deduplicate by external identifier, upsert, and
// tally. Its boundary contract is that it never propagates an error:
// every failure lands in the returned SyncStats.
type Orchestrator struct {
	cfg        *config.SyncConfig
	aggregator *Aggregator
	validator  *Validator
	store      EventStore

	mu      sync.Mutex
	lastRun *SyncStats
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(cfg *config.SyncConfig, aggregator *Aggregator, store EventStore) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		aggregator: aggregator,
		validator:  NewValidator(),
		store:      store,
	}
}

// SyncEvents runs one pass over the given cities. Cities are processed
// sequentially; a failing city is recorded and the run continues. The
// returned stats are complete even when everything failed.
func (o *Orchestrator) SyncEvents(ctx context.Context, cities []string) *SyncStats {
	stats := newSyncStats()
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		metrics.SyncDuration.Observe(stats.Duration.Seconds())
		metrics.SyncRunsTotal.WithLabelValues(stats.outcome()).Inc()
		o.mu.Lock()
		o.lastRun = stats
		o.mu.Unlock()
		logging.Info().
			Int("fetched", stats.Fetched).
			Int("validated", stats.Validated).
			Int("invalid", stats.Invalid).
			Int("inserted", stats.Inserted).
			Int("updated", stats.Updated).
			Int("errors", len(stats.Errors)).
			Dur("duration", stats.Duration).
			Msg("event sync finished")
	}()

	if len(cities) == 0 {
		cities = o.cfg.Cities
	}

	from := time.Now().UTC()
	to := from.AddDate(0, 0, o.cfg.WindowDays)

	for _, city := range cities {
		if ctx.Err() != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("run cancelled before %s: %v", city, ctx.Err()))
			break
		}
		o.syncCity(ctx, city, from, to, stats)
	}
	return stats
}

// SyncEventsForCity runs one pass for a single city.
func (o *Orchestrator) SyncEventsForCity(ctx context.Context, city string) *SyncStats {
	return o.SyncEvents(ctx, []string{city})
}

// syncCity performs fetch, validate, dedup, upsert and tally for one
// city, appending everything to the shared run stats.
func (o *Orchestrator) syncCity(ctx context.Context, city string, from, to time.Time, stats *SyncStats) {
	candidates, fetchErrs := o.aggregator.FetchCity(ctx, city, from, to, o.cfg.FetchLimit)
	for _, err := range fetchErrs {
		stats.Errors = append(stats.Errors, err.Error())
	}

	stats.Fetched += len(candidates)
	stats.ByCity[city] += len(candidates)
	for _, c := range candidates {
		stats.ByPlatform[c.Platform]++
		metrics.SyncEventsTotal.WithLabelValues(c.Platform, city, "fetched").Inc()
	}
	if len(candidates) == 0 {
		return
	}

	// Validate, then collapse candidates hashing to the same external
	// identifier within this batch; first one wins.
	seen := make(map[string]bool, len(candidates))
	var rows []models.Event
	for _, c := range candidates {
		ok, reasons := o.validator.Check(c)
		if !ok {
			stats.Invalid++
			stats.InvalidEvents = append(stats.InvalidEvents, InvalidEvent{
				Platform: c.Platform,
				Title:    c.Title,
				City:     c.City,
				Reasons:  reasons,
			})
			metrics.SyncEventsTotal.WithLabelValues(c.Platform, city, "invalid").Inc()
			continue
		}
		stats.Validated++
		metrics.SyncEventsTotal.WithLabelValues(c.Platform, city, "validated").Inc()

		extID := ExternalID(c)
		if seen[extID] {
			stats.Skipped++
			metrics.SyncEventsTotal.WithLabelValues(c.Platform, city, "skipped").Inc()
			continue
		}
		seen[extID] = true
		rows = append(rows, candidateToEvent(c, extID))
	}
	if len(rows) == 0 {
		return
	}

	// Snapshot which external ids already exist so the upsert can be
	// classified into inserts vs updates afterwards. The snapshot can
	// race with a concurrent writer between here and the upsert, which
	// would misclassify that row's count; accepted, counts are
	// advisory (see DESIGN.md).
	extIDs := make([]string, len(rows))
	for i, r := range rows {
		extIDs[i] = r.ExternalID
	}
	existing, err := o.store.ExistingExternalIDs(ctx, extIDs)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("snapshot for %s: %v", city, err))
		existing = map[string]bool{}
	}

	if err := o.store.UpsertEvents(ctx, rows); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("upsert for %s: %v", city, err))
		return
	}

	for _, r := range rows {
		if existing[r.ExternalID] {
			stats.Updated++
			metrics.SyncEventsTotal.WithLabelValues(r.Platform, city, "updated").Inc()
		} else {
			stats.Inserted++
			metrics.SyncEventsTotal.WithLabelValues(r.Platform, city, "inserted").Inc()
		}
	}
}

// CleanupExpiredEvents removes stale rows. Non-fatal: an error logs
// and reports zero.
func (o *Orchestrator) CleanupExpiredEvents(ctx context.Context) int {
	n, err := o.store.CleanupExpiredEvents(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("event cleanup failed")
		return 0
	}
	if n > 0 {
		logging.Info().Int("removed", n).Msg("expired events removed")
	}
	return n
}

// Statistics reports the last run plus current per-city row counts.
func (o *Orchestrator) Statistics(ctx context.Context) map[string]any {
	out := make(map[string]any)

	o.mu.Lock()
	if o.lastRun != nil {
		out["last_run"] = o.lastRun
	}
	o.mu.Unlock()

	out["platforms"] = o.aggregator.Platforms()
	out["cities"] = o.cfg.Cities

	counts, err := o.store.EventCountsByCity(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("counting events by city failed")
	} else {
		out["events_by_city"] = counts
	}
	return out
}

func candidateToEvent(c models.EventCandidate, externalID string) models.Event {
	return models.Event{
		ID:          uuid.New(),
		ExternalID:  externalID,
		Platform:    c.Platform,
		Title:       c.Title,
		Description: c.Description,
		Category:    c.Category,
		Venue:       c.Venue,
		City:        c.City,
		StartsAt:    c.StartsAt,
		EndsAt:      c.EndsAt,
		PriceMin:    c.PriceMin,
		PriceMax:    c.PriceMax,
		ImageURL:    c.ImageURL,
		BookingURL:  c.BookingURL,
	}
}
