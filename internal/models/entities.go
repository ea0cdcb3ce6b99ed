// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package models defines the domain entities that flow through the
// realtime feed and the canonical store.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity is implemented by every domain type that can live in an
// ordered entity cache. ID uniqueness and CreatedAt ordering are the
// two properties the subscription layer relies on.
type Entity interface {
	EntityID() string
	EntityCreatedAt() time.Time
}

// Message is a chat message within a conversation.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	SenderName     string     `json:"sender_name,omitempty"`
	SenderAvatar   string     `json:"sender_avatar,omitempty"`
	Content        string     `json:"content"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`
	ReadBy         []string   `json:"read_by,omitempty"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// EntityID implements Entity.
func (m Message) EntityID() string { return m.ID.String() }

// EntityCreatedAt implements Entity.
func (m Message) EntityCreatedAt() time.Time { return m.CreatedAt }

// Reaction is an emoji reaction attached to a message or post.
type Reaction struct {
	UserID uuid.UUID `json:"user_id"`
	Emoji  string    `json:"emoji"`
}

// Post is a community feed post.
type Post struct {
	ID           uuid.UUID  `json:"id"`
	CommunityID  uuid.UUID  `json:"community_id"`
	AuthorID     uuid.UUID  `json:"author_id"`
	AuthorName   string     `json:"author_name,omitempty"`
	Title        string     `json:"title,omitempty"`
	Body         string     `json:"body"`
	MediaURL     string     `json:"media_url,omitempty"`
	LikeCount    int        `json:"like_count"`
	CommentCount int        `json:"comment_count"`
	EditedAt     *time.Time `json:"edited_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// EntityID implements Entity.
func (p Post) EntityID() string { return p.ID.String() }

// EntityCreatedAt implements Entity.
func (p Post) EntityCreatedAt() time.Time { return p.CreatedAt }

// Comment is a reply on a post.
type Comment struct {
	ID         uuid.UUID `json:"id"`
	PostID     uuid.UUID `json:"post_id"`
	AuthorID   uuid.UUID `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// EntityID implements Entity.
func (c Comment) EntityID() string { return c.ID.String() }

// EntityCreatedAt implements Entity.
func (c Comment) EntityCreatedAt() time.Time { return c.CreatedAt }

// Poll is a community poll with live vote tallies.
type Poll struct {
	ID          uuid.UUID    `json:"id"`
	CommunityID uuid.UUID    `json:"community_id"`
	AuthorID    uuid.UUID    `json:"author_id"`
	Question    string       `json:"question"`
	Options     []PollOption `json:"options"`
	ClosesAt    *time.Time   `json:"closes_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// PollOption is one votable option with its running count.
type PollOption struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	VoteCount int    `json:"vote_count"`
}

// EntityID implements Entity.
func (p Poll) EntityID() string { return p.ID.String() }

// EntityCreatedAt implements Entity.
func (p Poll) EntityCreatedAt() time.Time { return p.CreatedAt }

// Community is a member group; the realtime layer tracks membership
// counts and metadata changes.
type Community struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	City        string    `json:"city,omitempty"`
	MemberCount int       `json:"member_count"`
	CoverURL    string    `json:"cover_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EntityID implements Entity.
func (c Community) EntityID() string { return c.ID.String() }

// EntityCreatedAt implements Entity.
func (c Community) EntityCreatedAt() time.Time { return c.CreatedAt }

// BookingStatus enumerates the booking lifecycle states the feed
// reports. Business transitions between them are owned elsewhere.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingDeclined  BookingStatus = "declined"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// Booking is an artist booking request row as seen by the feed.
type Booking struct {
	ID        uuid.UUID     `json:"id"`
	ArtistID  uuid.UUID     `json:"artist_id"`
	ClientID  uuid.UUID     `json:"client_id"`
	EventDate time.Time     `json:"event_date"`
	City      string        `json:"city,omitempty"`
	Status    BookingStatus `json:"status"`
	Note      string        `json:"note,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
	CreatedAt time.Time     `json:"created_at"`
}

// EntityID implements Entity.
func (b Booking) EntityID() string { return b.ID.String() }

// EntityCreatedAt implements Entity.
func (b Booking) EntityCreatedAt() time.Time { return b.CreatedAt }

// Presence is an ephemeral heartbeat record. It never touches the
// canonical store; it exists only in the realtime feed.
type Presence struct {
	UserID   uuid.UUID `json:"user_id"`
	Scope    string    `json:"scope"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// EntityID implements Entity.
func (p Presence) EntityID() string { return p.UserID.String() }

// EntityCreatedAt implements Entity.
func (p Presence) EntityCreatedAt() time.Time { return p.LastSeen }
