// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/models"
)

// Platform fetches candidate events from one external source.
type Platform interface {
	Name() string
	FetchEvents(ctx context.Context, city string, from, to time.Time, limit int) ([]models.EventCandidate, error)
}

// platformClient is the shared HTTP machinery behind every platform:
// a rate limiter in front of a circuit breaker in front of the API.
type platformClient struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func newPlatformClient(name string, cfg config.PlatformConfig) *platformClient {
	metrics.BreakerState.WithLabelValues(name).Set(0)

	minReqs := cfg.BreakerMinReqs
	if minReqs == 0 {
		minReqs = 10
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minReqs {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			logging.Info().Str("platform", n).Str("from", from.String()).Str("to", to.String()).Msg("platform breaker state change")
			metrics.BreakerState.WithLabelValues(n).Set(breakerStateValue(to))
		},
	})

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &platformClient{
		name:    name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: breaker,
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// getJSON performs a rate-limited, breaker-protected GET and decodes
// the response into out.
func (pc *platformClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := pc.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := pc.breaker.Execute(func() ([]byte, error) {
		u, err := url.Parse(pc.baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		u = u.JoinPath(path)
		u.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if pc.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+pc.apiKey)
		}

		resp, err := pc.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			// Drain so the connection is reusable, then fail.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("%s returned status %d", pc.name, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BreakerRequests.WithLabelValues(pc.name, "rejected").Inc()
		} else {
			metrics.BreakerRequests.WithLabelValues(pc.name, "failure").Inc()
		}
		return err
	}
	metrics.BreakerRequests.WithLabelValues(pc.name, "success").Inc()

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", pc.name, err)
	}
	return nil
}
