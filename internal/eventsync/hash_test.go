// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventsync

import (
	"testing"
	"time"

	"github.com/troupehq/troupe/internal/models"
)

func TestExternalIDStableAcrossCosmeticDifferences(t *testing.T) {
	starts := time.Date(2026, 10, 3, 19, 0, 0, 0, time.UTC)
	a := models.EventCandidate{Platform: "bookmyshow", Title: "Indie  Gig Night", City: "Mumbai", StartsAt: starts}
	b := models.EventCandidate{Platform: "BookMyShow", Title: "indie gig night ", City: " mumbai", StartsAt: starts.Add(3 * time.Hour)} // same calendar day

	if ExternalID(a) != ExternalID(b) {
		t.Error("cosmetic differences changed the external id")
	}
}

func TestExternalIDDistinguishesLogicalEvents(t *testing.T) {
	starts := time.Date(2026, 10, 3, 19, 0, 0, 0, time.UTC)
	base := models.EventCandidate{Platform: "meetup", Title: "Go Meetup", City: "Delhi", StartsAt: starts}

	variants := []models.EventCandidate{
		{Platform: "meetup", Title: "Rust Meetup", City: "Delhi", StartsAt: starts},
		{Platform: "meetup", Title: "Go Meetup", City: "Mumbai", StartsAt: starts},
		{Platform: "meetup", Title: "Go Meetup", City: "Delhi", StartsAt: starts.AddDate(0, 0, 1)},
		{Platform: "district", Title: "Go Meetup", City: "Delhi", StartsAt: starts},
	}

	baseID := ExternalID(base)
	for i, v := range variants {
		if ExternalID(v) == baseID {
			t.Errorf("variant %d collided with base", i)
		}
	}
}

func TestValidatorCheck(t *testing.T) {
	starts := time.Now().Add(48 * time.Hour)
	v := NewValidator()

	tests := []struct {
		name  string
		c     models.EventCandidate
		valid bool
	}{
		{
			"valid",
			models.EventCandidate{PlatformID: "1", Platform: "meetup", Title: "Valid Event", City: "Mumbai", StartsAt: starts},
			true,
		},
		{
			"missing title",
			models.EventCandidate{PlatformID: "1", Platform: "meetup", City: "Mumbai", StartsAt: starts},
			false,
		},
		{
			"title too short",
			models.EventCandidate{PlatformID: "1", Platform: "meetup", Title: "ab", City: "Mumbai", StartsAt: starts},
			false,
		},
		{
			"missing city",
			models.EventCandidate{PlatformID: "1", Platform: "meetup", Title: "Valid Event", StartsAt: starts},
			false,
		},
		{
			"ends before starts",
			models.EventCandidate{PlatformID: "1", Platform: "meetup", Title: "Valid Event", City: "Mumbai", StartsAt: starts, EndsAt: starts.Add(-time.Hour)},
			false,
		},
		{
			"price max below min",
			models.EventCandidate{PlatformID: "1", Platform: "meetup", Title: "Valid Event", City: "Mumbai", StartsAt: starts, PriceMin: 500, PriceMax: 100},
			false,
		},
		{
			"already passed",
			models.EventCandidate{PlatformID: "1", Platform: "meetup", Title: "Valid Event", City: "Mumbai", StartsAt: time.Now().Add(-72 * time.Hour)},
			false,
		},
		{
			"bad image url",
			models.EventCandidate{PlatformID: "1", Platform: "meetup", Title: "Valid Event", City: "Mumbai", StartsAt: starts, ImageURL: "not a url"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reasons := v.Check(tt.c)
			if ok != tt.valid {
				t.Errorf("Check() = %v (%v), want %v", ok, reasons, tt.valid)
			}
			if !ok && len(reasons) == 0 {
				t.Error("invalid candidate must carry reasons")
			}
		})
	}
}
