// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package realtime

import (
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/retry"
)

// Manager owns the channel registry. All acquisition and release goes
// through it; consumers hold references, never ownership.
type Manager struct {
	cfg       *config.RealtimeConfig
	transport Transport

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	channel *Channel
	refs    int
	reaper  *time.Timer
}

// NewManager builds a manager over the given transport.
func NewManager(cfg *config.RealtimeConfig, transport Transport) *Manager {
	return &Manager{
		cfg:       cfg,
		transport: transport,
		entries:   make(map[string]*entry),
	}
}

// RetryPolicy returns the shared backoff policy used for reconnects,
// sends and store calls alike.
func (m *Manager) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: m.cfg.RetryMaxAttempts,
		BaseDelay:   m.cfg.RetryBaseDelay,
		Multiplier:  m.cfg.RetryMultiplier,
		MaxDelay:    m.cfg.RetryMaxDelay,
	}
}

// Channel returns the shared handle for key, creating it on first
// acquisition. The returned release function decrements the reference
// count; it is safe to call more than once, only the first call
// counts. Physical teardown happens after the release grace elapses
// with the count still at zero, so rapid detach/attach cycles reuse
// the live subscription.
func (m *Manager) Channel(key Key) (*Channel, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		// A closed manager hands out dead handles rather than nil so
		// shutdown-racing callers do not have to nil-check.
		ch := newChannel(key, m.transport, m.RetryPolicy(), m.cfg.SubscribeTimeout)
		ch.close()
		return ch, func() {}
	}

	k := key.String()
	e, ok := m.entries[k]
	if ok && e.channel.Status() == StatusClosed {
		// Stale entry from a racing teardown; replace it.
		delete(m.entries, k)
		metrics.ChannelsActive.Dec()
		ok = false
	}
	if ok {
		if e.reaper != nil {
			e.reaper.Stop()
			e.reaper = nil
		}
		e.refs++
	} else {
		e = &entry{
			channel: newChannel(key, m.transport, m.RetryPolicy(), m.cfg.SubscribeTimeout),
			refs:    1,
		}
		m.entries[k] = e
		metrics.ChannelsActive.Inc()
		logging.Debug().Str("channel", k).Msg("channel created")
	}
	metrics.ChannelRefs.WithLabelValues(key.Table).Inc()

	var once sync.Once
	release := func() {
		once.Do(func() { m.release(k, key.Table) })
	}
	return e.channel, release
}

// release decrements and schedules teardown at zero.
func (m *Manager) release(k, table string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[k]
	if !ok {
		return
	}
	e.refs--
	metrics.ChannelRefs.WithLabelValues(table).Dec()
	if e.refs > 0 {
		return
	}

	if e.reaper != nil {
		e.reaper.Stop()
	}
	e.reaper = time.AfterFunc(m.cfg.ReleaseGrace, func() {
		m.reap(k)
	})
}

// reap tears the channel down if nothing re-acquired it during the
// grace delay.
func (m *Manager) reap(k string) {
	m.mu.Lock()
	e, ok := m.entries[k]
	if !ok || e.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.entries, k)
	m.mu.Unlock()

	e.channel.close()
	metrics.ChannelsActive.Dec()
	logging.Debug().Str("channel", k).Msg("channel torn down")
}

// Refs reports the current reference count for key. Zero means the
// key is unknown or pending teardown.
func (m *Manager) Refs(key Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key.String()]; ok {
		return e.refs
	}
	return 0
}

// Close tears down every channel immediately, grace delays included.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		if e.reaper != nil {
			e.reaper.Stop()
		}
		e.channel.close()
		metrics.ChannelsActive.Dec()
	}
}
