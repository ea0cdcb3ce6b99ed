// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventsync

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/models"
)

// DistrictClient fetches nightlife and dining events from the District
// API. District reports epoch-second timestamps and a single flat fee.
type DistrictClient struct {
	*platformClient
}

// NewDistrictClient builds the client from platform configuration.
func NewDistrictClient(cfg config.PlatformConfig) *DistrictClient {
	return &DistrictClient{platformClient: newPlatformClient("district", cfg)}
}

// Name implements Platform.
func (c *DistrictClient) Name() string { return "district" }

type districtResponse struct {
	Data []struct {
		EventID    string   `json:"event_id"`
		Title      string   `json:"title"`
		About      string   `json:"about"`
		Tags       []string `json:"tags"`
		Location   string   `json:"location"`
		City       string   `json:"city"`
		Starts     int64    `json:"starts"`
		Ends       int64    `json:"ends"`
		EntryFee   float64  `json:"entry_fee"`
		CoverImage string   `json:"cover_image"`
		Link       string   `json:"link"`
	} `json:"data"`
}

// FetchEvents implements Platform.
func (c *DistrictClient) FetchEvents(ctx context.Context, city string, from, to time.Time, limit int) ([]models.EventCandidate, error) {
	query := url.Values{
		"city":      {strings.ToLower(city)},
		"from":      {strconv.FormatInt(from.Unix(), 10)},
		"to":        {strconv.FormatInt(to.Unix(), 10)},
		"page_size": {strconv.Itoa(limit)},
	}

	var resp districtResponse
	if err := c.getJSON(ctx, "/api/events", query, &resp); err != nil {
		return nil, err
	}

	out := make([]models.EventCandidate, 0, len(resp.Data))
	for _, e := range resp.Data {
		var ends time.Time
		if e.Ends > 0 {
			ends = time.Unix(e.Ends, 0).UTC()
		}
		out = append(out, models.EventCandidate{
			PlatformID:  e.EventID,
			Platform:    c.Name(),
			Title:       e.Title,
			Description: e.About,
			Category:    strings.Join(e.Tags, ","),
			Venue:       e.Location,
			City:        e.City,
			StartsAt:    time.Unix(e.Starts, 0).UTC(),
			EndsAt:      ends,
			PriceMin:    e.EntryFee,
			PriceMax:    e.EntryFee,
			ImageURL:    e.CoverImage,
			BookingURL:  e.Link,
		})
	}
	return out, nil
}
