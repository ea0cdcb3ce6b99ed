// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/models"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

const messageColumns = `id, conversation_id, sender_id, sender_name, sender_avatar,
	content, attachment_url, reactions, read_by, edited_at, created_at`

// MessagesByConversation loads the authoritative message batch for a
// conversation, oldest first.
func (db *DB) MessagesByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 200
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? ORDER BY created_at LIMIT ?`,
		conversationID, limit)
	metrics.StoreQueryDuration.WithLabelValues("select", "messages").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessage fetches one message with its denormalized author,
// reaction and read data. The subscription layer calls this after a
// raw insert notification, which carries only the row image without
// joins.
func (db *DB) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading message %s: %w", id, err)
	}
	return &m, nil
}

// InsertMessage persists a new message and returns the stored row.
func (db *DB) InsertMessage(ctx context.Context, m *models.Message) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return fmt.Errorf("encoding reactions: %w", err)
	}
	readBy, err := json.Marshal(m.ReadBy)
	if err != nil {
		return fmt.Errorf("encoding read_by: %w", err)
	}

	start := time.Now()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, nullStr(m.SenderName),
		nullStr(m.SenderAvatar), m.Content, nullStr(m.AttachmentURL),
		string(reactions), string(readBy), nullTimePtr(m.EditedAt), m.CreatedAt)
	metrics.StoreQueryDuration.WithLabelValues("insert", "messages").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message by id.
func (db *DB) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (models.Message, error) {
	var m models.Message
	var senderName, senderAvatar, attachment sql.NullString
	var reactions, readBy sql.NullString
	var edited sql.NullTime

	err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &senderName,
		&senderAvatar, &m.Content, &attachment, &reactions, &readBy,
		&edited, &m.CreatedAt)
	if err != nil {
		return m, err
	}

	m.SenderName = senderName.String
	m.SenderAvatar = senderAvatar.String
	m.AttachmentURL = attachment.String
	if edited.Valid {
		m.EditedAt = &edited.Time
	}
	if reactions.Valid && reactions.String != "" {
		if err := json.Unmarshal([]byte(reactions.String), &m.Reactions); err != nil {
			return m, fmt.Errorf("decoding reactions: %w", err)
		}
	}
	if readBy.Valid && readBy.String != "" {
		if err := json.Unmarshal([]byte(readBy.String), &m.ReadBy); err != nil {
			return m, fmt.Errorf("decoding read_by: %w", err)
		}
	}
	return m, nil
}

// CommentsByPost loads comments for a post, oldest first.
func (db *DB) CommentsByPost(ctx context.Context, postID uuid.UUID, limit int) ([]models.Comment, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 200
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, post_id, author_id, author_name, body, created_at
		 FROM comments WHERE post_id = ? ORDER BY created_at LIMIT ?`,
		postID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading comments: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Comment
	for rows.Next() {
		var c models.Comment
		var authorName sql.NullString
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &authorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.AuthorName = authorName.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// PostsByCommunity loads posts for a community feed, oldest first.
func (db *DB) PostsByCommunity(ctx context.Context, communityID uuid.UUID, limit int) ([]models.Post, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, community_id, author_id, author_name, title, body, media_url,
		        like_count, comment_count, edited_at, created_at
		 FROM posts WHERE community_id = ? ORDER BY created_at LIMIT ?`,
		communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading posts: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Post
	for rows.Next() {
		var p models.Post
		var title, body, media, authorName sql.NullString
		var edited sql.NullTime
		if err := rows.Scan(&p.ID, &p.CommunityID, &p.AuthorID, &authorName,
			&title, &body, &media, &p.LikeCount, &p.CommentCount, &edited, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.AuthorName = authorName.String
		p.Title = title.String
		p.Body = body.String
		p.MediaURL = media.String
		if edited.Valid {
			p.EditedAt = &edited.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PollsByCommunity loads polls for a community, oldest first.
func (db *DB) PollsByCommunity(ctx context.Context, communityID uuid.UUID, limit int) ([]models.Poll, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, community_id, author_id, question, options, closes_at, created_at
		 FROM polls WHERE community_id = ? ORDER BY created_at LIMIT ?`,
		communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading polls: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Poll
	for rows.Next() {
		var p models.Poll
		var options string
		var closes sql.NullTime
		if err := rows.Scan(&p.ID, &p.CommunityID, &p.AuthorID, &p.Question, &options, &closes, &p.CreatedAt); err != nil {
			return nil, err
		}
		if closes.Valid {
			p.ClosesAt = &closes.Time
		}
		if options != "" {
			if err := json.Unmarshal([]byte(options), &p.Options); err != nil {
				return nil, fmt.Errorf("decoding poll options: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CommunitiesByCity loads communities for a city, oldest first. An
// empty city loads all communities.
func (db *DB) CommunitiesByCity(ctx context.Context, city string, limit int) ([]models.Community, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, name, description, city, member_count, cover_url, created_at
	          FROM communities`
	args := []any{}
	if city != "" {
		query += ` WHERE city = ?`
		args = append(args, city)
	}
	query += ` ORDER BY created_at LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading communities: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Community
	for rows.Next() {
		var c models.Community
		var desc, cCity, cover sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &desc, &cCity, &c.MemberCount, &cover, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Description = desc.String
		c.City = cCity.String
		c.CoverURL = cover.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// BookingsByArtist loads bookings for an artist, oldest first.
func (db *DB) BookingsByArtist(ctx context.Context, artistID uuid.UUID, limit int) ([]models.Booking, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, artist_id, client_id, event_date, city, status, note, updated_at, created_at
		 FROM bookings WHERE artist_id = ? ORDER BY created_at LIMIT ?`,
		artistID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading bookings: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Booking
	for rows.Next() {
		var b models.Booking
		var city, note sql.NullString
		var status string
		if err := rows.Scan(&b.ID, &b.ArtistID, &b.ClientID, &b.EventDate, &city, &status, &note, &b.UpdatedAt, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.City = city.String
		b.Note = note.String
		b.Status = models.BookingStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
