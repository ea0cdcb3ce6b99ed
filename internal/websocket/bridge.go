// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package websocket

import (
	"context"

	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/realtime"
)

// BridgeTables is the default set of tables mirrored to websocket
// clients. Every client sees every scope; per-scope filtering happens
// in the frontend stores, not here.
var BridgeTables = []string{
	"messages",
	"posts",
	"comments",
	"polls",
	"communities",
	"bookings",
	"presence",
}

// Bridge attaches to the change feed for a set of tables and forwards
// every event to the hub. It implements suture's Service interface.
type Bridge struct {
	hub     *Hub
	manager *realtime.Manager
	tables  []string
}

// NewBridge builds a bridge over manager. An empty tables slice uses
// BridgeTables.
func NewBridge(hub *Hub, manager *realtime.Manager, tables []string) *Bridge {
	if len(tables) == 0 {
		tables = BridgeTables
	}
	return &Bridge{hub: hub, manager: manager, tables: tables}
}

// Serve acquires one wildcard channel per table and forwards events
// until ctx is canceled.
func (b *Bridge) Serve(ctx context.Context) error {
	releases := make([]func(), 0, len(b.tables)*2)
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	for _, table := range b.tables {
		table := table
		ch, release := b.manager.Channel(realtime.Key{Table: table, Scope: "all"})
		releases = append(releases, release)

		detach := ch.Listen(
			func(ev realtime.ChangeEvent) { b.forward(table, ev) },
			func(status realtime.Status, err error) {
				if status == realtime.StatusError && err != nil {
					logging.Warn().Err(err).Str("table", table).Msg("websocket bridge channel degraded")
				}
			},
		)
		releases = append(releases, detach)
	}

	<-ctx.Done()
	return ctx.Err()
}

func (b *Bridge) forward(table string, ev realtime.ChangeEvent) {
	switch ev.Type {
	case realtime.EventInsert:
		b.hub.BroadcastEntityChange(MessageTypeEntityInsert, table, ev.New)
	case realtime.EventUpdate:
		b.hub.BroadcastEntityChange(MessageTypeEntityUpdate, table, ev.New)
	case realtime.EventDelete:
		b.hub.BroadcastEntityChange(MessageTypeEntityDelete, table, map[string]string{"id": ev.OldID})
	}
}

// String names the service in supervisor logs.
func (b *Bridge) String() string { return "websocket-bridge" }
