// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package dedup provides the time-windowed duplicate prevention
// tracker used to collapse change-event resends at the application
// layer. An id marked within the window is a duplicate; entries expire
// lazily and a hard capacity bound evicts oldest-first under sustained
// event volume.
package dedup

import (
	"sync"
	"time"
)

// entry is a node in the insertion-ordered doubly-linked list.
// head.next is the oldest entry, tail.prev the newest.
type entry struct {
	id       string
	markedAt time.Time
	prev     *entry
	next     *entry
}

// Tracker is a thread-safe, capacity-bounded set of recently-seen
// entity identifiers. It uses a hashmap for O(1) lookup and a linked
// list for O(1) oldest-first eviction, mirroring an LRU without the
// reordering: marks never refresh an entry's age.
type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	items    map[string]*entry
	head     *entry
	tail     *entry

	// now is replaceable in tests.
	now func() time.Time
}

// NewTracker creates a tracker with the given window and capacity.
// Non-positive arguments fall back to 60s and 1000 entries.
func NewTracker(window time.Duration, capacity int) *Tracker {
	if window <= 0 {
		window = 60 * time.Second
	}
	if capacity <= 0 {
		capacity = 1000
	}
	t := &Tracker{
		window:   window,
		capacity: capacity,
		items:    make(map[string]*entry, capacity),
		head:     &entry{},
		tail:     &entry{},
		now:      time.Now,
	}
	t.head.next = t.tail
	t.tail.prev = t.head
	return t
}

// CheckAndMark reports whether id was already marked within the
// window. If not, it marks id and returns false; the caller proceeds
// to process the event. If yes, it returns true and the caller skips.
func (t *Tracker) CheckAndMark(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.purgeExpired(now)

	if e, ok := t.items[id]; ok {
		if now.Sub(e.markedAt) < t.window {
			return true
		}
		// Expired but not yet purged (clock moved between purge and
		// lookup); re-mark in place.
		t.unlink(e)
	}

	if len(t.items) >= t.capacity {
		t.evictOldest()
	}

	e := &entry{id: id, markedAt: now}
	t.items[id] = e
	t.pushBack(e)
	return false
}

// Remove explicitly evicts id. Used to roll back a speculative mark
// when the follow-up record fetch for a change event fails.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.items[id]; ok {
		t.unlink(e)
	}
}

// Clear wipes all entries. Used on logical reset, e.g. when the
// observed scope changes.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items = make(map[string]*entry, t.capacity)
	t.head.next = t.tail
	t.tail.prev = t.head
}

// Len returns the number of live entries, purging expired ones first.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.purgeExpired(t.now())
	return len(t.items)
}

// purgeExpired drops entries older than the window. Entries are in
// insertion order, so purging stops at the first live entry.
// Must be called with mu held.
func (t *Tracker) purgeExpired(now time.Time) {
	for e := t.head.next; e != t.tail; {
		next := e.next
		if now.Sub(e.markedAt) < t.window {
			return
		}
		t.unlink(e)
		e = next
	}
}

// evictOldest removes the single oldest entry. Must be called with mu
// held and a non-empty list.
func (t *Tracker) evictOldest() {
	if oldest := t.head.next; oldest != t.tail {
		t.unlink(oldest)
	}
}

func (t *Tracker) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(t.items, e.id)
}

func (t *Tracker) pushBack(e *entry) {
	e.prev = t.tail.prev
	e.next = t.tail
	t.tail.prev.next = e
	t.tail.prev = e
}
