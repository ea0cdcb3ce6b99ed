// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventsync

import "time"

// SyncStats is the record of one orchestrator run. It is created at
// run start, mutated throughout, and immutable once returned; a run
// always produces one, even on total failure.
type SyncStats struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Fetched   int `json:"fetched"`
	Validated int `json:"validated"`
	Invalid   int `json:"invalid"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`

	// ByPlatform and ByCity partition the fetched count.
	ByPlatform map[string]int `json:"by_platform"`
	ByCity     map[string]int `json:"by_city"`

	// Errors holds fetch and upsert failures; InvalidEvents records
	// candidates rejected by validation. Neither aborts a run.
	Errors        []string       `json:"errors,omitempty"`
	InvalidEvents []InvalidEvent `json:"invalid_events,omitempty"`
}

// InvalidEvent records one rejected candidate with its reasons.
type InvalidEvent struct {
	Platform string   `json:"platform"`
	Title    string   `json:"title"`
	City     string   `json:"city"`
	Reasons  []string `json:"reasons"`
}

func newSyncStats() *SyncStats {
	return &SyncStats{
		StartedAt:  time.Now().UTC(),
		ByPlatform: make(map[string]int),
		ByCity:     make(map[string]int),
	}
}

// outcome buckets a finished run for metrics.
func (s *SyncStats) outcome() string {
	switch {
	case len(s.Errors) == 0:
		return "success"
	case s.Fetched > 0:
		return "partial"
	default:
		return "failure"
	}
}
