// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/retry"
)

// Key identifies a logical subscription. Identical keys share one
// underlying channel handle.
type Key struct {
	Table  string
	Scope  string // e.g. a conversation or community id, or "all"
	Filter string
}

// String renders the registry key.
func (k Key) String() string {
	if k.Filter == "" {
		return k.Table + ":" + k.Scope
	}
	return k.Table + ":" + k.Scope + ":" + k.Filter
}

// Status is a channel handle lifecycle state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Subscription is a live attachment to the change feed for one key.
type Subscription interface {
	// Events yields change events until the subscription closes.
	Events() <-chan ChangeEvent
	Close() error
}

// Transport establishes subscriptions against the change feed.
type Transport interface {
	Subscribe(ctx context.Context, key Key) (Subscription, error)
}

// EventHandler receives validated change events.
type EventHandler func(ChangeEvent)

// StatusHandler receives lifecycle transitions. On error transitions
// err carries the cause; otherwise it is nil.
type StatusHandler func(status Status, err error)

// Channel is a shared handle on one change-feed subscription. Handles
// are created and owned by the Manager; consumers attach listeners and
// release their reference when done.
type Channel struct {
	key       Key
	transport Transport
	policy    retry.Policy
	timeout   time.Duration

	mu        sync.Mutex
	status    Status
	lastErr   error
	nextID    int
	listeners map[int]listener

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type listener struct {
	onEvent  EventHandler
	onStatus StatusHandler
}

func newChannel(key Key, transport Transport, policy retry.Policy, timeout time.Duration) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		key:       key,
		transport: transport,
		policy:    policy,
		timeout:   timeout,
		status:    StatusConnecting,
		listeners: make(map[int]listener),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go ch.run()
	return ch
}

// Key returns the subscription identity this handle serves.
func (c *Channel) Key() Key { return c.key }

// Status returns the current lifecycle state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Listen attaches handlers and returns a detach function. The current
// status is replayed immediately so late attachers do not miss the
// transition that already happened.
func (c *Channel) Listen(onEvent EventHandler, onStatus StatusHandler) (detach func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener{onEvent: onEvent, onStatus: onStatus}
	status, lastErr := c.status, c.lastErr
	c.mu.Unlock()

	if onStatus != nil {
		onStatus(status, lastErr)
	}

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// run owns the subscription lifecycle: establish with backoff, pump
// events, reconnect on transport failure, exit on close.
func (c *Channel) run() {
	defer close(c.done)

	for {
		sub, err := c.establish()
		if err != nil {
			// Exhausted reconnect attempts. Stay in error state;
			// consumers are on polling fallback by now and keep
			// functioning, just without push delivery.
			c.setStatus(StatusError, err)
			return
		}
		if sub == nil { // closed during establishment
			return
		}

		c.setStatus(StatusSubscribed, nil)
		if !c.pump(sub) {
			return
		}
		// Transport dropped the subscription; go around again.
		c.setStatus(StatusConnecting, nil)
	}
}

// establish subscribes with the shared backoff policy, bounding each
// attempt by the subscribe timeout. Returns (nil, nil) if the channel
// closed while connecting.
func (c *Channel) establish() (Subscription, error) {
	sub, err := retry.DoValue(c.ctx, c.policy, func(ctx context.Context) (Subscription, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.transport.Subscribe(attemptCtx, c.key)
	}, func(attempt int, err error) {
		c.setStatus(StatusError, err)
		logging.Warn().Err(err).Str("channel", c.key.String()).Int("attempt", attempt).Msg("resubscribing to change feed")
	})
	if c.ctx.Err() != nil {
		if sub != nil {
			_ = sub.Close()
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", c.key, err)
	}
	return sub, nil
}

// pump forwards events to listeners until the subscription drops
// (returns true) or the channel closes (returns false).
func (c *Channel) pump(sub Subscription) bool {
	defer func() { _ = sub.Close() }()
	for {
		select {
		case <-c.ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return true
			}
			c.dispatch(ev)
		}
	}
}

func (c *Channel) dispatch(ev ChangeEvent) {
	c.mu.Lock()
	// Events racing ahead of the subscribed transition are dropped.
	// The initial load covers anything missed.
	if c.status != StatusSubscribed {
		c.mu.Unlock()
		metrics.ChangeEventsDropped.WithLabelValues(ev.Table, "not_subscribed").Inc()
		return
	}
	handlers := make([]EventHandler, 0, len(c.listeners))
	for _, l := range c.listeners {
		if l.onEvent != nil {
			handlers = append(handlers, l.onEvent)
		}
	}
	c.mu.Unlock()

	if err := ev.Validate(); err != nil {
		metrics.ChangeEventsDropped.WithLabelValues(ev.Table, "malformed").Inc()
		logging.Warn().Err(err).Str("channel", c.key.String()).Msg("dropping malformed change event")
		return
	}

	metrics.ChangeEventsTotal.WithLabelValues(ev.Table, string(ev.Type)).Inc()
	for _, h := range handlers {
		h(ev)
	}
}

func (c *Channel) setStatus(status Status, err error) {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.lastErr = err
	handlers := make([]StatusHandler, 0, len(c.listeners))
	for _, l := range c.listeners {
		if l.onStatus != nil {
			handlers = append(handlers, l.onStatus)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(status, err)
	}
}

// close tears down the subscription. Called only by the Manager once
// the reference count has stayed at zero through the grace delay.
func (c *Channel) close() {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return
	}
	c.status = StatusClosed
	handlers := make([]StatusHandler, 0, len(c.listeners))
	for _, l := range c.listeners {
		if l.onStatus != nil {
			handlers = append(handlers, l.onStatus)
		}
	}
	c.listeners = make(map[int]listener)
	c.mu.Unlock()

	c.cancel()
	<-c.done
	for _, h := range handlers {
		h(StatusClosed, nil)
	}
}
