// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package store

import (
	"context"
	"fmt"
)

// schemaStatements creates the canonical tables watched by the
// realtime feed plus the synchronized events table. Statements are
// idempotent so startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		conversation_id UUID NOT NULL,
		sender_id UUID NOT NULL,
		sender_name VARCHAR,
		sender_avatar VARCHAR,
		content VARCHAR NOT NULL,
		attachment_url VARCHAR,
		reactions JSON,
		read_by JSON,
		edited_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages (conversation_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS posts (
		id UUID PRIMARY KEY,
		community_id UUID NOT NULL,
		author_id UUID NOT NULL,
		author_name VARCHAR,
		title VARCHAR,
		body VARCHAR NOT NULL,
		media_url VARCHAR,
		like_count INTEGER NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0,
		edited_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_community
		ON posts (community_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS comments (
		id UUID PRIMARY KEY,
		post_id UUID NOT NULL,
		author_id UUID NOT NULL,
		author_name VARCHAR,
		body VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_post
		ON comments (post_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS polls (
		id UUID PRIMARY KEY,
		community_id UUID NOT NULL,
		author_id UUID NOT NULL,
		question VARCHAR NOT NULL,
		options JSON NOT NULL,
		closes_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS communities (
		id UUID PRIMARY KEY,
		name VARCHAR NOT NULL,
		description VARCHAR,
		city VARCHAR,
		member_count INTEGER NOT NULL DEFAULT 0,
		cover_url VARCHAR,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id UUID PRIMARY KEY,
		artist_id UUID NOT NULL,
		client_id UUID NOT NULL,
		event_date TIMESTAMP NOT NULL,
		city VARCHAR,
		status VARCHAR NOT NULL,
		note VARCHAR,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_artist
		ON bookings (artist_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		external_id VARCHAR NOT NULL UNIQUE,
		platform VARCHAR NOT NULL,
		title VARCHAR NOT NULL,
		description VARCHAR,
		category VARCHAR,
		venue VARCHAR,
		city VARCHAR NOT NULL,
		starts_at TIMESTAMP NOT NULL,
		ends_at TIMESTAMP,
		price_min DOUBLE,
		price_max DOUBLE,
		image_url VARCHAR,
		booking_url VARCHAR,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_city_starts
		ON events (city, starts_at)`,
}

func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
