// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/models"
)

// ExistingExternalIDs returns which of the given external identifiers
// already have a canonical row. The orchestrator snapshots this before
// upserting to classify inserts vs updates; the snapshot can race with
// concurrent writers, which callers accept (see DESIGN.md).
func (db *DB) ExistingExternalIDs(ctx context.Context, externalIDs []string) (map[string]bool, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	existing := make(map[string]bool, len(externalIDs))
	if len(externalIDs) == 0 {
		return existing, nil
	}

	placeholders := make([]string, len(externalIDs))
	args := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(
		"SELECT external_id FROM events WHERE external_id IN (%s)",
		strings.Join(placeholders, ","))

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.StoreQueryDuration.WithLabelValues("select", "events").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("querying existing external ids: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning external id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// UpsertEvents writes the batch keyed on external_id. Rows whose
// external identifier already exists are updated in place; new ones
// are inserted. The call itself does not report which happened.
func (db *DB) UpsertEvents(ctx context.Context, events []models.Event) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if len(events) == 0 {
		return nil
	}

	const stmt = `
		INSERT INTO events (
			id, external_id, platform, title, description, category,
			venue, city, starts_at, ends_at, price_min, price_max,
			image_url, booking_url, updated_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			venue = excluded.venue,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			price_min = excluded.price_min,
			price_max = excluded.price_max,
			image_url = excluded.image_url,
			booking_url = excluded.booking_url,
			updated_at = excluded.updated_at`

	start := time.Now()
	defer func() {
		metrics.StoreQueryDuration.WithLabelValues("upsert", "events").Observe(time.Since(start).Seconds())
	}()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	now := time.Now().UTC()
	for _, ev := range events {
		if _, err := tx.ExecContext(ctx, stmt,
			ev.ID, ev.ExternalID, ev.Platform, ev.Title, nullStr(ev.Description),
			nullStr(ev.Category), nullStr(ev.Venue), ev.City, ev.StartsAt,
			nullTime(ev.EndsAt), ev.PriceMin, ev.PriceMax,
			nullStr(ev.ImageURL), nullStr(ev.BookingURL), now, now,
		); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("upserting event %s (rollback also failed: %v): %w", ev.ExternalID, rbErr, err)
			}
			return fmt.Errorf("upserting event %s: %w", ev.ExternalID, err)
		}
	}
	return tx.Commit()
}

// CleanupExpiredEvents removes events that ended more than a day ago
// and returns the number of rows removed.
func (db *DB) CleanupExpiredEvents(ctx context.Context) (int, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM events WHERE COALESCE(ends_at, starts_at) < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // count is advisory
	}
	return int(n), nil
}

// UpcomingEventsByCity returns events starting from now for one city,
// soonest first. An empty city returns all cities.
func (db *DB) UpcomingEventsByCity(ctx context.Context, city string, limit int) ([]models.Event, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, external_id, platform, title, description, category, venue, city,
			starts_at, ends_at, price_min, price_max, image_url, booking_url, updated_at, created_at
		FROM events
		WHERE starts_at >= ?`
	args := []any{time.Now().UTC()}
	if city != "" {
		query += " AND city = ?"
		args = append(args, city)
	}
	query += " ORDER BY starts_at LIMIT ?"
	args = append(args, limit)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.StoreQueryDuration.WithLabelValues("select", "events").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("querying upcoming events: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Event
	for rows.Next() {
		var e models.Event
		var description, category, venue, imageURL, bookingURL sql.NullString
		var endsAt sql.NullTime
		var priceMin, priceMax sql.NullFloat64
		err := rows.Scan(&e.ID, &e.ExternalID, &e.Platform, &e.Title, &description, &category,
			&venue, &e.City, &e.StartsAt, &endsAt, &priceMin, &priceMax, &imageURL, &bookingURL,
			&e.UpdatedAt, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Description = description.String
		e.Category = category.String
		e.Venue = venue.String
		e.ImageURL = imageURL.String
		e.BookingURL = bookingURL.String
		e.EndsAt = endsAt.Time
		e.PriceMin = priceMin.Float64
		e.PriceMax = priceMax.Float64
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventCountsByCity returns row counts per city for sync statistics.
func (db *DB) EventCountsByCity(ctx context.Context) (map[string]int, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT city, COUNT(*) FROM events GROUP BY city`)
	if err != nil {
		return nil, fmt.Errorf("counting events by city: %w", err)
	}
	defer closeQuietly(rows)

	counts := make(map[string]int)
	for rows.Next() {
		var city string
		var n int
		if err := rows.Scan(&city, &n); err != nil {
			return nil, err
		}
		counts[city] = n
	}
	return counts, rows.Err()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
