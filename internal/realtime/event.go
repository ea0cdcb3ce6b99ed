// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package realtime implements the connection manager for the change
// feed: a registry of reference-counted channel handles keyed by
// subscription identity, with grace-delayed teardown and a shared
// reconnect policy.
package realtime

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EventType tags a change event variant.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent is one row change on a watched table. Insert and update
// carry the new row image; delete carries only the old identifier.
// Seq is assigned by the server in commit order; transport delivery
// order is not guaranteed to match it.
type ChangeEvent struct {
	Type  EventType       `json:"type"`
	Table string          `json:"table"`
	Seq   uint64          `json:"seq"`
	New   json.RawMessage `json:"new,omitempty"`
	OldID string          `json:"old_id,omitempty"`
}

// Validate rejects malformed events before they reach entity handlers.
// A bad payload drops that single event, never the subscription.
func (e *ChangeEvent) Validate() error {
	if e.Table == "" {
		return fmt.Errorf("change event missing table")
	}
	switch e.Type {
	case EventInsert, EventUpdate:
		if len(e.New) == 0 {
			return fmt.Errorf("%s event on %s missing row image", e.Type, e.Table)
		}
		if !json.Valid(e.New) {
			return fmt.Errorf("%s event on %s carries invalid row image", e.Type, e.Table)
		}
	case EventDelete:
		if e.OldID == "" {
			return fmt.Errorf("delete event on %s missing old id", e.Table)
		}
	default:
		return fmt.Errorf("unknown change event type %q", e.Type)
	}
	return nil
}

// DecodeNew unmarshals the row image into v.
func (e *ChangeEvent) DecodeNew(v any) error {
	if len(e.New) == 0 {
		return fmt.Errorf("event has no row image")
	}
	return json.Unmarshal(e.New, v)
}
