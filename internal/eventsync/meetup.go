// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventsync

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/models"
)

// MeetupClient fetches community gatherings from the Meetup API.
// Meetup reports epoch-millisecond start times and an optional
// duration instead of an end time.
type MeetupClient struct {
	*platformClient
}

// NewMeetupClient builds the client from platform configuration.
func NewMeetupClient(cfg config.PlatformConfig) *MeetupClient {
	return &MeetupClient{platformClient: newPlatformClient("meetup", cfg)}
}

// Name implements Platform.
func (c *MeetupClient) Name() string { return "meetup" }

type meetupResponse struct {
	Results []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Group       struct {
			Name string `json:"name"`
		} `json:"group"`
		City     string `json:"city"`
		Time     int64  `json:"time"`     // epoch millis
		Duration int64  `json:"duration"` // millis, 0 if unset
		Fee      struct {
			Amount float64 `json:"amount"`
		} `json:"fee"`
		FeaturedPhoto struct {
			PhotoLink string `json:"photo_link"`
		} `json:"featured_photo"`
		EventURL string `json:"event_url"`
	} `json:"results"`
}

// FetchEvents implements Platform.
func (c *MeetupClient) FetchEvents(ctx context.Context, city string, from, to time.Time, limit int) ([]models.EventCandidate, error) {
	query := url.Values{
		"city":       {city},
		"no_earlier": {from.UTC().Format(time.RFC3339)},
		"no_later":   {to.UTC().Format(time.RFC3339)},
		"page":       {strconv.Itoa(limit)},
		"status":     {"upcoming"},
	}

	var resp meetupResponse
	if err := c.getJSON(ctx, "/find/events", query, &resp); err != nil {
		return nil, err
	}

	out := make([]models.EventCandidate, 0, len(resp.Results))
	for _, e := range resp.Results {
		starts := time.UnixMilli(e.Time).UTC()
		var ends time.Time
		if e.Duration > 0 {
			ends = starts.Add(time.Duration(e.Duration) * time.Millisecond)
		}
		out = append(out, models.EventCandidate{
			PlatformID:  e.ID,
			Platform:    c.Name(),
			Title:       e.Name,
			Description: e.Description,
			Category:    "meetup",
			Venue:       e.Group.Name,
			City:        e.City,
			StartsAt:    starts,
			EndsAt:      ends,
			PriceMin:    e.Fee.Amount,
			PriceMax:    e.Fee.Amount,
			ImageURL:    e.FeaturedPhoto.PhotoLink,
			BookingURL:  e.EventURL,
		})
	}
	return out, nil
}
