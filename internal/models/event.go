// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is a canonical discovery event row synchronized from external
// platforms. ExternalID is the deterministic dedup key: the same
// logical event recurring across sync runs hashes to the same value
// and upserts onto the existing row.
type Event struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	Platform    string    `json:"platform"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Venue       string    `json:"venue,omitempty"`
	City        string    `json:"city"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at,omitempty"`
	PriceMin    float64   `json:"price_min,omitempty"`
	PriceMax    float64   `json:"price_max,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	BookingURL  string    `json:"booking_url,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// EntityID implements Entity.
func (e Event) EntityID() string { return e.ID.String() }

// EntityCreatedAt implements Entity.
func (e Event) EntityCreatedAt() time.Time { return e.CreatedAt }

// EventCandidate is a raw record fetched from a source platform before
// validation. The orchestrator validates, hashes and maps candidates
// into Event rows.
type EventCandidate struct {
	PlatformID  string    `json:"platform_id" validate:"required"`
	Platform    string    `json:"platform" validate:"required"`
	Title       string    `json:"title" validate:"required,min=3,max=300"`
	Description string    `json:"description,omitempty" validate:"max=10000"`
	Category    string    `json:"category,omitempty"`
	Venue       string    `json:"venue,omitempty"`
	City        string    `json:"city" validate:"required"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at,omitempty"`
	PriceMin    float64   `json:"price_min,omitempty" validate:"min=0"`
	PriceMax    float64   `json:"price_max,omitempty" validate:"min=0"`
	ImageURL    string    `json:"image_url,omitempty" validate:"omitempty,url"`
	BookingURL  string    `json:"booking_url,omitempty" validate:"omitempty,url"`
}
