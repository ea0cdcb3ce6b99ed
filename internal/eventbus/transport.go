// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventbus

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/realtime"
)

// Transport adapts the bus to the connection manager's Transport
// interface. Subjects follow changes.<table>.<scope>; a scope of
// "all" subscribes the single-token wildcard.
type Transport struct {
	bus    *Bus
	prefix string
}

// NewTransport builds the change-feed transport over bus.
func NewTransport(bus *Bus) *Transport {
	return &Transport{bus: bus, prefix: bus.cfg.SubjectPrefix}
}

// SubjectFor renders the subject for a subscription key.
func (t *Transport) SubjectFor(key realtime.Key) string {
	scope := key.Scope
	if scope == "" || scope == "all" {
		scope = "*"
	}
	return t.prefix + "." + key.Table + "." + scope
}

// Subscribe implements realtime.Transport.
func (t *Transport) Subscribe(ctx context.Context, key realtime.Key) (realtime.Subscription, error) {
	// The subscription outlives the establishment timeout on ctx, so
	// it gets its own lifetime, ended by Close.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	msgs, err := t.bus.Subscribe(subCtx, t.SubjectFor(key))
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &busSubscription{
		cancel: cancel,
		events: make(chan realtime.ChangeEvent, 64),
	}

	go func() {
		defer close(sub.events)
		for msg := range msgs {
			var ev realtime.ChangeEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Str("subject", t.SubjectFor(key)).Msg("undecodable change message")
				msg.Ack() // poison messages must not redeliver forever
				continue
			}
			select {
			case sub.events <- ev:
				msg.Ack()
			case <-subCtx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return sub, nil
}

type busSubscription struct {
	cancel context.CancelFunc
	events chan realtime.ChangeEvent
}

func (s *busSubscription) Events() <-chan realtime.ChangeEvent { return s.events }

func (s *busSubscription) Close() error {
	s.cancel()
	return nil
}
