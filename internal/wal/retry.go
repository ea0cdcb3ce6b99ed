// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package wal

import (
	"context"
	"time"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/metrics"
)

// PublishFunc re-emits one journaled payload.
type PublishFunc func(ctx context.Context, id, topic string, payload []byte) error

// Retrier periodically republishes pending journal entries. It
// implements suture's Service interface.
type Retrier struct {
	journal *Journal
	cfg     *config.WALConfig
	publish PublishFunc
}

// NewRetrier wires the retry loop.
func NewRetrier(journal *Journal, cfg *config.WALConfig, publish PublishFunc) *Retrier {
	return &Retrier{journal: journal, cfg: cfg, publish: publish}
}

// Serve scans for pending entries on each interval and republishes
// them, dropping entries past their TTL or attempt budget.
func (r *Retrier) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()

	// First pass immediately so crash leftovers do not wait a full
	// interval.
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Retrier) sweep(ctx context.Context) {
	pending, err := r.journal.Pending()
	if err != nil {
		logging.Error().Err(err).Msg("wal sweep failed")
		return
	}

	now := time.Now().UTC()
	for _, e := range pending {
		if ctx.Err() != nil {
			return
		}

		if now.Sub(e.CreatedAt) > r.cfg.EntryTTL {
			metrics.WALRepublished.WithLabelValues("expired").Inc()
			logging.Warn().Str("id", e.ID).Str("topic", e.Topic).Msg("dropping expired wal entry")
			if err := r.journal.drop(e.ID); err != nil {
				logging.Error().Err(err).Str("id", e.ID).Msg("dropping wal entry failed")
			}
			continue
		}
		if r.cfg.MaxRetries > 0 && e.Attempts >= r.cfg.MaxRetries {
			metrics.WALRepublished.WithLabelValues("max_retried").Inc()
			logging.Warn().Str("id", e.ID).Str("topic", e.Topic).Int("attempts", e.Attempts).Msg("dropping wal entry after max retries")
			if err := r.journal.drop(e.ID); err != nil {
				logging.Error().Err(err).Str("id", e.ID).Msg("dropping wal entry failed")
			}
			continue
		}

		if err := r.publish(ctx, e.ID, e.Topic, e.Payload); err != nil {
			e.Attempts++
			e.LastError = err.Error()
			metrics.WALRepublished.WithLabelValues("failure").Inc()
			if recErr := r.journal.recordAttempt(e); recErr != nil {
				logging.Error().Err(recErr).Str("id", e.ID).Msg("recording wal attempt failed")
			}
			// Space out attempts within a sweep; the broker is likely
			// still down for the rest too.
			select {
			case <-time.After(r.cfg.RetryBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		metrics.WALRepublished.WithLabelValues("success").Inc()
		if err := r.journal.Complete(e.ID); err != nil {
			logging.Error().Err(err).Str("id", e.ID).Msg("completing wal entry failed")
		}
	}
}

// String names the service in supervisor logs.
func (r *Retrier) String() string { return "wal-retrier" }
