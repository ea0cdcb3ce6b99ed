// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/models"
	"github.com/troupehq/troupe/internal/realtime"
)

// EntityStore is the slice of the canonical store the non-message
// streams load from.
type EntityStore interface {
	PostsByCommunity(ctx context.Context, communityID uuid.UUID, limit int) ([]models.Post, error)
	CommentsByPost(ctx context.Context, postID uuid.UUID, limit int) ([]models.Comment, error)
	PollsByCommunity(ctx context.Context, communityID uuid.UUID, limit int) ([]models.Poll, error)
	CommunitiesByCity(ctx context.Context, city string, limit int) ([]models.Community, error)
	BookingsByArtist(ctx context.Context, artistID uuid.UUID, limit int) ([]models.Booking, error)
}

func baseOptions[T models.Entity](mgr *realtime.Manager, cfg *config.RealtimeConfig, key realtime.Key, load LoadFunc[T]) Options[T] {
	return Options[T]{
		Manager:       mgr,
		Key:           key,
		Load:          load,
		PollInterval:  cfg.PollInterval,
		DedupWindow:   cfg.DedupWindow,
		DedupCapacity: cfg.DedupCapacity,
	}
}

// NewPostStream streams one community's feed posts.
func NewPostStream(mgr *realtime.Manager, store EntityStore, cfg *config.RealtimeConfig, communityID uuid.UUID) *Stream[models.Post] {
	return NewStream(baseOptions(mgr, cfg,
		realtime.Key{Table: "posts", Scope: communityID.String()},
		func(ctx context.Context) ([]models.Post, error) {
			return store.PostsByCommunity(ctx, communityID, 0)
		}))
}

// NewCommentStream streams replies on one post.
func NewCommentStream(mgr *realtime.Manager, store EntityStore, cfg *config.RealtimeConfig, postID uuid.UUID) *Stream[models.Comment] {
	return NewStream(baseOptions(mgr, cfg,
		realtime.Key{Table: "comments", Scope: postID.String()},
		func(ctx context.Context) ([]models.Comment, error) {
			return store.CommentsByPost(ctx, postID, 0)
		}))
}

// NewPollStream streams one community's polls with live tallies.
func NewPollStream(mgr *realtime.Manager, store EntityStore, cfg *config.RealtimeConfig, communityID uuid.UUID) *Stream[models.Poll] {
	return NewStream(baseOptions(mgr, cfg,
		realtime.Key{Table: "polls", Scope: communityID.String()},
		func(ctx context.Context) ([]models.Poll, error) {
			return store.PollsByCommunity(ctx, communityID, 0)
		}))
}

// NewCommunityStream streams community metadata and membership counts,
// optionally scoped to a city. An empty city streams all communities.
func NewCommunityStream(mgr *realtime.Manager, store EntityStore, cfg *config.RealtimeConfig, city string) *Stream[models.Community] {
	scope := city
	if scope == "" {
		scope = "all"
	}
	return NewStream(baseOptions(mgr, cfg,
		realtime.Key{Table: "communities", Scope: scope},
		func(ctx context.Context) ([]models.Community, error) {
			return store.CommunitiesByCity(ctx, city, 0)
		}))
}

// NewBookingStream streams one artist's booking requests.
func NewBookingStream(mgr *realtime.Manager, store EntityStore, cfg *config.RealtimeConfig, artistID uuid.UUID) *Stream[models.Booking] {
	return NewStream(baseOptions(mgr, cfg,
		realtime.Key{Table: "bookings", Scope: artistID.String()},
		func(ctx context.Context) ([]models.Booking, error) {
			return store.BookingsByArtist(ctx, artistID, 0)
		}))
}

// presenceLifetime is how long a presence entry stays visible without
// a fresh heartbeat.
const presenceLifetime = 45 * time.Second

// NewPresenceStream streams ephemeral presence heartbeats for a scope.
// Presence never touches the canonical store, so the initial load is
// empty and polling is a no-op; the view is built entirely from the
// feed, and entries lapse when heartbeats stop.
func NewPresenceStream(mgr *realtime.Manager, cfg *config.RealtimeConfig, scope string) *Stream[models.Presence] {
	opts := baseOptions(mgr, cfg,
		realtime.Key{Table: "presence", Scope: scope},
		func(ctx context.Context) ([]models.Presence, error) {
			return nil, nil
		})
	opts.ExpireAfter = presenceLifetime
	return NewStream(opts)
}
