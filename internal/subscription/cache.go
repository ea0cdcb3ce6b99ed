// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package subscription implements per-entity live streams over the
// change feed: initial load from the canonical store, merge-by-id
// application of change events, and interval polling whenever push
// delivery is degraded.
package subscription

import (
	"sort"
	"time"

	"github.com/troupehq/troupe/internal/models"
)

// Cache is an ordered collection of entities keyed by id and sorted by
// creation time ascending. It is the single source of truth for one
// stream instance and is never shared across streams. Not safe for
// concurrent use; the owning stream serializes access.
type Cache[T models.Entity] struct {
	items []T
	index map[string]int
}

// NewCache returns an empty cache.
func NewCache[T models.Entity]() *Cache[T] {
	return &Cache[T]{index: make(map[string]int)}
}

// Merge applies a freshly loaded batch. Per id the incoming version
// wins, since loads are authoritative; locally cached entities absent
// from the batch are kept, so an optimistic insert racing a load is
// not lost. The cache is resorted afterwards.
func (c *Cache[T]) Merge(batch []T) {
	for _, item := range batch {
		id := item.EntityID()
		if pos, ok := c.index[id]; ok {
			c.items[pos] = item
		} else {
			c.index[id] = len(c.items)
			c.items = append(c.items, item)
		}
	}
	c.resort()
}

// Upsert inserts or replaces one entity and resorts.
func (c *Cache[T]) Upsert(item T) {
	id := item.EntityID()
	if pos, ok := c.index[id]; ok {
		c.items[pos] = item
	} else {
		c.index[id] = len(c.items)
		c.items = append(c.items, item)
	}
	c.resort()
}

// Remove deletes by id. Removing an unknown id is a no-op.
func (c *Cache[T]) Remove(id string) {
	pos, ok := c.index[id]
	if !ok {
		return
	}
	c.items = append(c.items[:pos], c.items[pos+1:]...)
	delete(c.index, id)
	c.reindex()
}

// Get returns the cached entity for id.
func (c *Cache[T]) Get(id string) (T, bool) {
	if pos, ok := c.index[id]; ok {
		return c.items[pos], true
	}
	var zero T
	return zero, false
}

// Contains reports whether id is cached.
func (c *Cache[T]) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Items returns a copy of the ordered collection.
func (c *Cache[T]) Items() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of cached entities.
func (c *Cache[T]) Len() int { return len(c.items) }

// PruneOlderThan removes entities whose creation time is before
// cutoff and reports how many were dropped. Used by ephemeral streams
// whose entities expire instead of being deleted.
func (c *Cache[T]) PruneOlderThan(cutoff time.Time) int {
	kept := c.items[:0]
	for _, item := range c.items {
		if !item.EntityCreatedAt().Before(cutoff) {
			kept = append(kept, item)
		} else {
			delete(c.index, item.EntityID())
		}
	}
	dropped := len(c.items) - len(kept)
	c.items = kept
	if dropped > 0 {
		c.reindex()
	}
	return dropped
}

// Clear wipes the cache.
func (c *Cache[T]) Clear() {
	c.items = nil
	c.index = make(map[string]int)
}

// resort orders by creation time ascending, id as tiebreaker so equal
// timestamps still yield a deterministic order.
func (c *Cache[T]) resort() {
	sort.SliceStable(c.items, func(i, j int) bool {
		ti, tj := c.items[i].EntityCreatedAt(), c.items[j].EntityCreatedAt()
		if ti.Equal(tj) {
			return c.items[i].EntityID() < c.items[j].EntityID()
		}
		return ti.Before(tj)
	})
	c.reindex()
}

func (c *Cache[T]) reindex() {
	for i, item := range c.items {
		c.index[item.EntityID()] = i
	}
}
