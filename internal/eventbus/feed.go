// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventbus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/troupehq/troupe/internal/realtime"
)

// Journal persists outbound messages before publish so a broker
// outage loses nothing. The WAL package implements it.
type Journal interface {
	Append(id, topic string, payload []byte) error
	Complete(id string) error
}

// Feed is the write side of the change feed. Mutation paths publish
// one event per row change; sequence numbers are assigned here in
// publish order.
type Feed struct {
	bus     *Bus
	prefix  string
	journal Journal
	seq     atomic.Uint64
}

// NewFeed builds the feed. journal may be nil to publish without
// write-ahead protection.
func NewFeed(bus *Bus, journal Journal) *Feed {
	return &Feed{bus: bus, prefix: bus.cfg.SubjectPrefix, journal: journal}
}

// PublishChange emits one change event for table/scope. With a
// journal attached the event is journaled first and marked complete
// after a successful publish; the WAL retrier republishes leftovers.
func (f *Feed) PublishChange(ctx context.Context, table, scope string, ev realtime.ChangeEvent) error {
	ev.Table = table
	ev.Seq = f.seq.Add(1)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding change event: %w", err)
	}

	topic := f.prefix + "." + table + "." + scope
	id := uuid.NewString()

	if f.journal != nil {
		if err := f.journal.Append(id, topic, payload); err != nil {
			return fmt.Errorf("journaling change event: %w", err)
		}
	}

	msg := message.NewMessage(id, payload)
	if err := f.bus.Publish(topic, msg); err != nil {
		// Journaled events are retried by the WAL loop; unjournaled
		// ones surface the failure to the caller.
		if f.journal != nil {
			return nil
		}
		return fmt.Errorf("publishing change event: %w", err)
	}

	if f.journal != nil {
		return f.journal.Complete(id)
	}
	return nil
}

// Publish re-emits a raw journaled payload, used by the WAL retrier.
func (f *Feed) Publish(ctx context.Context, id, topic string, payload []byte) error {
	return f.bus.Publish(topic, message.NewMessage(id, payload))
}
