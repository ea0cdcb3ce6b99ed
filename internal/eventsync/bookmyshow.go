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

// BookMyShowClient fetches ticketed events from the BookMyShow
// partner API.
type BookMyShowClient struct {
	*platformClient
}

// NewBookMyShowClient builds the client from platform configuration.
func NewBookMyShowClient(cfg config.PlatformConfig) *BookMyShowClient {
	return &BookMyShowClient{platformClient: newPlatformClient("bookmyshow", cfg)}
}

// Name implements Platform.
func (c *BookMyShowClient) Name() string { return "bookmyshow" }

type bmsResponse struct {
	Events []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Synopsis string `json:"synopsis"`
		Genre    string `json:"genre"`
		Venue    struct {
			Name string `json:"name"`
		} `json:"venue"`
		City      string    `json:"city"`
		StartDate time.Time `json:"start_date"`
		EndDate   time.Time `json:"end_date"`
		Price     struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"price"`
		PosterURL string `json:"poster_url"`
		BookURL   string `json:"book_url"`
	} `json:"events"`
}

// FetchEvents implements Platform.
func (c *BookMyShowClient) FetchEvents(ctx context.Context, city string, from, to time.Time, limit int) ([]models.EventCandidate, error) {
	query := url.Values{
		"city":      {city},
		"date_from": {from.UTC().Format("2006-01-02")},
		"date_to":   {to.UTC().Format("2006-01-02")},
		"limit":     {strconv.Itoa(limit)},
	}

	var resp bmsResponse
	if err := c.getJSON(ctx, "/v1/events", query, &resp); err != nil {
		return nil, err
	}

	out := make([]models.EventCandidate, 0, len(resp.Events))
	for _, e := range resp.Events {
		out = append(out, models.EventCandidate{
			PlatformID:  e.ID,
			Platform:    c.Name(),
			Title:       e.Name,
			Description: e.Synopsis,
			Category:    e.Genre,
			Venue:       e.Venue.Name,
			City:        e.City,
			StartsAt:    e.StartDate,
			EndsAt:      e.EndDate,
			PriceMin:    e.Price.Min,
			PriceMax:    e.Price.Max,
			ImageURL:    e.PosterURL,
			BookingURL:  e.BookURL,
		})
	}
	return out, nil
}
