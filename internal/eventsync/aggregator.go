// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventsync

import (
	"context"
	"fmt"
	"time"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/models"
)

// Aggregator fans a per-city fetch across every enabled platform.
// Platforms are queried sequentially so each one's rate limiter and
// breaker see a predictable request pattern.
type Aggregator struct {
	platforms []Platform
}

// NewAggregator builds the aggregator from the sync configuration,
// instantiating a client per enabled platform.
func NewAggregator(cfg *config.SyncConfig) *Aggregator {
	var platforms []Platform
	if cfg.BookMyShow.Enabled {
		platforms = append(platforms, NewBookMyShowClient(cfg.BookMyShow))
	}
	if cfg.District.Enabled {
		platforms = append(platforms, NewDistrictClient(cfg.District))
	}
	if cfg.Meetup.Enabled {
		platforms = append(platforms, NewMeetupClient(cfg.Meetup))
	}
	return &Aggregator{platforms: platforms}
}

// NewAggregatorWith builds an aggregator over explicit platforms.
func NewAggregatorWith(platforms ...Platform) *Aggregator {
	return &Aggregator{platforms: platforms}
}

// Platforms returns the configured platform names.
func (a *Aggregator) Platforms() []string {
	names := make([]string, len(a.platforms))
	for i, p := range a.platforms {
		names[i] = p.Name()
	}
	return names
}

// FetchCity collects candidates for one city from all platforms. One
// platform failing is recorded and does not block the others; the
// caller receives whatever was fetched plus the per-platform errors.
func (a *Aggregator) FetchCity(ctx context.Context, city string, from, to time.Time, limit int) ([]models.EventCandidate, []error) {
	var candidates []models.EventCandidate
	var errs []error

	for _, p := range a.platforms {
		batch, err := p.FetchEvents(ctx, city, from, to, limit)
		if err != nil {
			logging.Warn().Err(err).Str("platform", p.Name()).Str("city", city).Msg("platform fetch failed")
			errs = append(errs, fmt.Errorf("%s/%s: %w", p.Name(), city, err))
			continue
		}
		candidates = append(candidates, batch...)
	}
	return candidates, errs
}
