// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/troupehq/troupe/internal/config"
)

type fakeSub struct {
	events chan ChangeEvent
	once   sync.Once
}

func (s *fakeSub) Events() <-chan ChangeEvent { return s.events }
func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type fakeTransport struct {
	mu         sync.Mutex
	subscribes int
	failFirst  int // number of initial attempts to fail
	subs       []*fakeSub
}

func (t *fakeTransport) Subscribe(ctx context.Context, key Key) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribes++
	if t.subscribes <= t.failFirst {
		return nil, errors.New("transport unavailable")
	}
	sub := &fakeSub{events: make(chan ChangeEvent, 16)}
	t.subs = append(t.subs, sub)
	return sub, nil
}

func (t *fakeTransport) latest() *fakeSub {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 {
		return nil
	}
	return t.subs[len(t.subs)-1]
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribes
}

func testRealtimeConfig() *config.RealtimeConfig {
	return &config.RealtimeConfig{
		ReleaseGrace:     20 * time.Millisecond,
		SubscribeTimeout: time.Second,
		PollInterval:     time.Second,
		SendDebounce:     time.Millisecond,
		DedupWindow:      time.Minute,
		DedupCapacity:    100,
		RetryMaxAttempts: 3,
		RetryBaseDelay:   time.Millisecond,
		RetryMultiplier:  2,
		RetryMaxDelay:    10 * time.Millisecond,
	}
}

func waitForStatus(t *testing.T, ch *Channel, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("channel never reached %s, stuck at %s", want, ch.Status())
}

func TestChannelSharedByKey(t *testing.T) {
	m := NewManager(testRealtimeConfig(), &fakeTransport{})
	defer m.Close()

	key := Key{Table: "messages", Scope: "convo-1"}
	ch1, release1 := m.Channel(key)
	ch2, release2 := m.Channel(key)

	if ch1 != ch2 {
		t.Error("same key must return the same handle")
	}
	if got := m.Refs(key); got != 2 {
		t.Errorf("expected 2 refs, got %d", got)
	}

	release1()
	if got := m.Refs(key); got != 1 {
		t.Errorf("expected 1 ref after one release, got %d", got)
	}
	release2()
}

func TestDistinctKeysGetDistinctChannels(t *testing.T) {
	m := NewManager(testRealtimeConfig(), &fakeTransport{})
	defer m.Close()

	ch1, r1 := m.Channel(Key{Table: "messages", Scope: "convo-1"})
	ch2, r2 := m.Channel(Key{Table: "messages", Scope: "convo-2"})
	defer r1()
	defer r2()

	if ch1 == ch2 {
		t.Error("different scopes must not share a handle")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager(testRealtimeConfig(), &fakeTransport{})
	defer m.Close()

	key := Key{Table: "posts", Scope: "community-1"}
	_, release1 := m.Channel(key)
	_, release2 := m.Channel(key)

	release1()
	release1() // double release must not decrement twice
	release1()

	if got := m.Refs(key); got != 1 {
		t.Errorf("expected 1 ref after repeated release of one handle, got %d", got)
	}
	release2()
}

func TestTeardownAfterGrace(t *testing.T) {
	m := NewManager(testRealtimeConfig(), &fakeTransport{})
	defer m.Close()

	key := Key{Table: "messages", Scope: "convo-1"}
	ch, release := m.Channel(key)
	waitForStatus(t, ch, StatusSubscribed)

	release()
	waitForStatus(t, ch, StatusClosed)

	if got := m.Refs(key); got != 0 {
		t.Errorf("expected 0 refs after teardown, got %d", got)
	}
}

func TestReacquireDuringGraceKeepsChannel(t *testing.T) {
	m := NewManager(testRealtimeConfig(), &fakeTransport{})
	defer m.Close()

	key := Key{Table: "messages", Scope: "convo-1"}
	ch1, release1 := m.Channel(key)
	waitForStatus(t, ch1, StatusSubscribed)

	release1()
	// Re-acquire inside the grace window; the pending teardown must be
	// cancelled and the live handle reused.
	ch2, release2 := m.Channel(key)
	if ch1 != ch2 {
		t.Fatal("re-acquire during grace must reuse the handle")
	}

	time.Sleep(3 * testRealtimeConfig().ReleaseGrace)
	if ch2.Status() == StatusClosed {
		t.Error("channel torn down despite live reference")
	}
	release2()
}

func TestSubscribeRetriesThenConnects(t *testing.T) {
	tr := &fakeTransport{failFirst: 2}
	m := NewManager(testRealtimeConfig(), tr)
	defer m.Close()

	ch, release := m.Channel(Key{Table: "messages", Scope: "convo-1"})
	defer release()

	waitForStatus(t, ch, StatusSubscribed)
	if got := tr.count(); got != 3 {
		t.Errorf("expected 3 subscribe attempts, got %d", got)
	}
}

func TestSubscribeExhaustionSurfacesError(t *testing.T) {
	tr := &fakeTransport{failFirst: 100}
	m := NewManager(testRealtimeConfig(), tr)
	defer m.Close()

	var mu sync.Mutex
	var transitions []Status

	ch, release := m.Channel(Key{Table: "messages", Scope: "convo-1"})
	defer release()
	detach := ch.Listen(nil, func(s Status, err error) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})
	defer detach()

	waitForStatus(t, ch, StatusError)
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) == 0 || transitions[len(transitions)-1] != StatusError {
		t.Errorf("expected error as final status, got %v", transitions)
	}
}

func TestEventsDeliveredToAllListeners(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(testRealtimeConfig(), tr)
	defer m.Close()

	ch, release := m.Channel(Key{Table: "messages", Scope: "convo-1"})
	defer release()
	waitForStatus(t, ch, StatusSubscribed)

	got := make(chan ChangeEvent, 2)
	d1 := ch.Listen(func(ev ChangeEvent) { got <- ev }, nil)
	d2 := ch.Listen(func(ev ChangeEvent) { got <- ev }, nil)
	defer d1()
	defer d2()

	tr.latest().events <- ChangeEvent{Type: EventDelete, Table: "messages", OldID: "abc"}

	for i := 0; i < 2; i++ {
		select {
		case ev := <-got:
			if ev.OldID != "abc" {
				t.Errorf("unexpected event: %+v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("listener never received the event")
		}
	}
}

func TestMalformedEventsDropped(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(testRealtimeConfig(), tr)
	defer m.Close()

	ch, release := m.Channel(Key{Table: "messages", Scope: "convo-1"})
	defer release()
	waitForStatus(t, ch, StatusSubscribed)

	got := make(chan ChangeEvent, 2)
	detach := ch.Listen(func(ev ChangeEvent) { got <- ev }, nil)
	defer detach()

	// Insert with no row image is malformed and must be dropped.
	tr.latest().events <- ChangeEvent{Type: EventInsert, Table: "messages"}
	// A valid one behind it still flows.
	tr.latest().events <- ChangeEvent{Type: EventDelete, Table: "messages", OldID: "ok"}

	select {
	case ev := <-got:
		if ev.OldID != "ok" {
			t.Errorf("malformed event leaked through: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid event never arrived")
	}
}

func TestReconnectAfterTransportDrop(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(testRealtimeConfig(), tr)
	defer m.Close()

	ch, release := m.Channel(Key{Table: "messages", Scope: "convo-1"})
	defer release()
	waitForStatus(t, ch, StatusSubscribed)

	first := tr.latest()
	_ = first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.count() >= 2 && ch.Status() == StatusSubscribed {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("channel never resubscribed: attempts=%d status=%s", tr.count(), ch.Status())
}

func TestListenReplaysCurrentStatus(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(testRealtimeConfig(), tr)
	defer m.Close()

	ch, release := m.Channel(Key{Table: "messages", Scope: "convo-1"})
	defer release()
	waitForStatus(t, ch, StatusSubscribed)

	replayed := make(chan Status, 1)
	detach := ch.Listen(nil, func(s Status, err error) {
		select {
		case replayed <- s:
		default:
		}
	})
	defer detach()

	select {
	case s := <-replayed:
		if s != StatusSubscribed {
			t.Errorf("expected replayed subscribed status, got %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("status never replayed to late listener")
	}
}

func TestEventBeforeSubscribedIsDropped(t *testing.T) {
	ch := &Channel{
		key:       Key{Table: "messages", Scope: "convo-1"},
		status:    StatusConnecting,
		listeners: make(map[int]listener),
	}
	delivered := false
	ch.listeners[0] = listener{onEvent: func(ChangeEvent) { delivered = true }}

	ch.dispatch(ChangeEvent{Type: EventDelete, Table: "messages", OldID: "x"})
	if delivered {
		t.Error("event delivered before subscription was established")
	}
}

func TestChangeEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		ev      ChangeEvent
		wantErr bool
	}{
		{"valid insert", ChangeEvent{Type: EventInsert, Table: "messages", New: []byte(`{"id":"1"}`)}, false},
		{"valid update", ChangeEvent{Type: EventUpdate, Table: "posts", New: []byte(`{"id":"1"}`)}, false},
		{"valid delete", ChangeEvent{Type: EventDelete, Table: "messages", OldID: "1"}, false},
		{"insert without image", ChangeEvent{Type: EventInsert, Table: "messages"}, true},
		{"insert with garbage image", ChangeEvent{Type: EventInsert, Table: "messages", New: []byte(`{not json`)}, true},
		{"delete without id", ChangeEvent{Type: EventDelete, Table: "messages"}, true},
		{"missing table", ChangeEvent{Type: EventInsert, New: []byte(`{}`)}, true},
		{"unknown type", ChangeEvent{Type: "truncate", Table: "messages"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
