// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package subscription

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/troupehq/troupe/internal/models"
)

func msgAt(id uuid.UUID, content string, at time.Time) models.Message {
	return models.Message{ID: id, Content: content, CreatedAt: at}
}

func assertOrderedUnique(t *testing.T, items []models.Message) {
	t.Helper()
	seen := make(map[string]bool)
	for i, m := range items {
		if seen[m.EntityID()] {
			t.Fatalf("duplicate id %s in cache", m.EntityID())
		}
		seen[m.EntityID()] = true
		if i > 0 && items[i-1].CreatedAt.After(m.CreatedAt) {
			t.Fatalf("cache out of order at index %d: %v after %v", i, items[i-1].CreatedAt, m.CreatedAt)
		}
	}
}

func TestCacheMergeNewerWins(t *testing.T) {
	c := NewCache[models.Message]()
	now := time.Now()
	id := uuid.New()

	c.Merge([]models.Message{msgAt(id, "draft", now)})
	c.Merge([]models.Message{msgAt(id, "final", now)})

	if c.Len() != 1 {
		t.Fatalf("expected 1 item, got %d", c.Len())
	}
	got, _ := c.Get(id.String())
	if got.Content != "final" {
		t.Errorf("merge did not prefer incoming version: %q", got.Content)
	}
}

func TestCacheMergeKeepsLocalExtras(t *testing.T) {
	c := NewCache[models.Message]()
	now := time.Now()
	optimistic := msgAt(uuid.New(), "just sent", now)
	c.Upsert(optimistic)

	// An authoritative batch that predates the optimistic write must
	// not erase it.
	c.Merge([]models.Message{
		msgAt(uuid.New(), "older", now.Add(-2*time.Minute)),
		msgAt(uuid.New(), "old", now.Add(-time.Minute)),
	})

	if c.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", c.Len())
	}
	if !c.Contains(optimistic.EntityID()) {
		t.Error("optimistic entry lost during merge")
	}
	assertOrderedUnique(t, c.Items())
}

func TestCacheSortedAfterAnyMutation(t *testing.T) {
	c := NewCache[models.Message]()
	now := time.Now()

	// Out-of-order arrival.
	third := msgAt(uuid.New(), "c", now.Add(2*time.Second))
	first := msgAt(uuid.New(), "a", now)
	second := msgAt(uuid.New(), "b", now.Add(time.Second))

	c.Upsert(third)
	c.Upsert(first)
	c.Upsert(second)
	assertOrderedUnique(t, c.Items())

	items := c.Items()
	if items[0].Content != "a" || items[1].Content != "b" || items[2].Content != "c" {
		t.Errorf("unexpected order: %v", items)
	}

	c.Remove(second.EntityID())
	assertOrderedUnique(t, c.Items())
	if c.Len() != 2 {
		t.Errorf("expected 2 after remove, got %d", c.Len())
	}

	// Update moves nothing but must keep the index consistent.
	first.Content = "a2"
	c.Upsert(first)
	got, ok := c.Get(first.EntityID())
	if !ok || got.Content != "a2" {
		t.Errorf("index stale after update: %+v ok=%v", got, ok)
	}
}

func TestCacheRemoveUnknownIsNoop(t *testing.T) {
	c := NewCache[models.Message]()
	c.Upsert(msgAt(uuid.New(), "x", time.Now()))
	c.Remove("missing")
	if c.Len() != 1 {
		t.Errorf("remove of unknown id mutated cache, len=%d", c.Len())
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache[models.Message]()
	c.Upsert(msgAt(uuid.New(), "x", time.Now()))
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after clear, got %d", c.Len())
	}
	if c.Contains("anything") {
		t.Error("index not cleared")
	}
}

func TestCacheEventSequencesPreserveInvariants(t *testing.T) {
	// Arbitrary interleavings of insert/update/delete must never
	// produce duplicates or break ordering.
	c := NewCache[models.Message]()
	base := time.Now()

	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
	}

	for round := 0; round < 5; round++ {
		for i, id := range ids {
			switch (i + round) % 3 {
			case 0:
				c.Upsert(msgAt(id, "ins", base.Add(time.Duration(i)*time.Second)))
			case 1:
				c.Upsert(msgAt(id, "upd", base.Add(time.Duration(i)*time.Second)))
			case 2:
				c.Remove(id.String())
			}
			assertOrderedUnique(t, c.Items())
		}
	}
}

func TestCachePruneOlderThan(t *testing.T) {
	c := NewCache[models.Message]()
	now := time.Now()
	stale := msgAt(uuid.New(), "stale", now.Add(-time.Minute))
	fresh := msgAt(uuid.New(), "fresh", now)
	c.Merge([]models.Message{stale, fresh})

	dropped := c.PruneOlderThan(now.Add(-30 * time.Second))
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if c.Contains(stale.EntityID()) {
		t.Error("stale entry survived prune")
	}
	if !c.Contains(fresh.EntityID()) {
		t.Error("fresh entry pruned")
	}
	assertOrderedUnique(t, c.Items())

	if n := c.PruneOlderThan(now.Add(-30 * time.Second)); n != 0 {
		t.Errorf("second prune dropped %d", n)
	}
}
