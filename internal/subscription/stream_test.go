// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/models"
	"github.com/troupehq/troupe/internal/realtime"
)

type fakeSub struct {
	events chan realtime.ChangeEvent
	once   sync.Once
}

func (s *fakeSub) Events() <-chan realtime.ChangeEvent { return s.events }
func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (t *fakeTransport) Subscribe(ctx context.Context, key realtime.Key) (realtime.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub := &fakeSub{events: make(chan realtime.ChangeEvent, 16)}
	t.subs = append(t.subs, sub)
	return sub, nil
}

func (t *fakeTransport) push(ev realtime.ChangeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		s.events <- ev
	}
}

type fakeMessageStore struct {
	mu          sync.Mutex
	messages    map[uuid.UUID]models.Message
	insertCalls int
	getCalls    int
	failGets    int
	failInserts int
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[uuid.UUID]models.Message)}
}

func (s *fakeMessageStore) MessagesByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMessageStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.failGets > 0 {
		s.failGets--
		return nil, errors.New("bad connection")
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &m, nil
}

func (s *fakeMessageStore) InsertMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.failInserts > 0 {
		s.failInserts--
		return errors.New("connection reset")
	}
	s.messages[m.ID] = *m
	return nil
}

func (s *fakeMessageStore) inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls
}

func (s *fakeMessageStore) gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func (s *fakeMessageStore) put(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
}

func testCfg() *config.RealtimeConfig {
	return &config.RealtimeConfig{
		ReleaseGrace:     10 * time.Millisecond,
		SubscribeTimeout: time.Second,
		PollInterval:     10 * time.Millisecond,
		SendDebounce:     100 * time.Millisecond,
		DedupWindow:      time.Minute,
		DedupCapacity:    100,
		RetryMaxAttempts: 3,
		RetryBaseDelay:   time.Millisecond,
		RetryMultiplier:  2,
		RetryMaxDelay:    10 * time.Millisecond,
	}
}

func insertEvent(t *testing.T, m models.Message) realtime.ChangeEvent {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	return realtime.ChangeEvent{Type: realtime.EventInsert, Table: "messages", New: raw}
}

func updateEvent(t *testing.T, m models.Message) realtime.ChangeEvent {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	return realtime.ChangeEvent{Type: realtime.EventUpdate, Table: "messages", New: raw}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestMessageStream(t *testing.T, store *fakeMessageStore, convo uuid.UUID, online OnlineFunc) (*MessageStream, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	cfg := testCfg()
	mgr := realtime.NewManager(cfg, tr)
	t.Cleanup(mgr.Close)

	ms := NewMessageStream(mgr, store, cfg, convo, online)
	ms.Start(context.Background())
	t.Cleanup(ms.Stop)
	waitFor(t, func() bool { return ms.State() == StateConnected }, "stream never connected")
	return ms, tr
}

func TestInitialLoadPopulatesView(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	now := time.Now().UTC()
	store.put(models.Message{ID: uuid.New(), ConversationID: convo, Content: "hi", CreatedAt: now})
	store.put(models.Message{ID: uuid.New(), ConversationID: convo, Content: "hello", CreatedAt: now.Add(time.Second)})

	ms, _ := newTestMessageStream(t, store, convo, nil)

	got := ms.Snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Content != "hi" || got[1].Content != "hello" {
		t.Errorf("unexpected order: %v", got)
	}
}

func TestInsertEventRefetchesFullRecord(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	ms, tr := newTestMessageStream(t, store, convo, nil)

	full := models.Message{
		ID:             uuid.New(),
		ConversationID: convo,
		SenderName:     "Asha",
		Content:        "new message",
		CreatedAt:      time.Now().UTC(),
	}
	store.put(full)

	// The raw row image omits the denormalized sender name.
	raw := full
	raw.SenderName = ""
	tr.push(insertEvent(t, raw))

	waitFor(t, func() bool {
		m, ok := findMessage(ms, full.ID)
		return ok && m.SenderName == "Asha"
	}, "denormalized record never reached the view")
}

func TestDuplicateInsertSuppressed(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	ms, tr := newTestMessageStream(t, store, convo, nil)

	m := models.Message{ID: uuid.New(), ConversationID: convo, Content: "once", CreatedAt: time.Now().UTC()}
	store.put(m)

	tr.push(insertEvent(t, m))
	tr.push(insertEvent(t, m))

	waitFor(t, func() bool { _, ok := findMessage(ms, m.ID); return ok }, "insert never applied")
	time.Sleep(20 * time.Millisecond)

	if got := store.gets(); got != 1 {
		t.Errorf("duplicate insert triggered %d fetches, want 1", got)
	}
	if len(ms.Snapshot()) != 1 {
		t.Errorf("duplicate insert duplicated the entity")
	}
}

func TestInsertFetchFailureRollsBackTracker(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	ms, tr := newTestMessageStream(t, store, convo, nil)

	m := models.Message{ID: uuid.New(), ConversationID: convo, Content: "flaky", CreatedAt: time.Now().UTC()}
	store.put(m)
	// Exhaust the fetch retries so the speculative tracker mark must
	// be rolled back.
	store.mu.Lock()
	store.failGets = 10
	store.mu.Unlock()

	tr.push(insertEvent(t, m))
	waitFor(t, func() bool { return store.gets() >= 1 }, "fetch never attempted")
	time.Sleep(20 * time.Millisecond)

	if _, ok := findMessage(ms, m.ID); ok {
		t.Fatal("failed fetch still inserted the record")
	}

	// Redelivery must not be treated as a duplicate.
	store.mu.Lock()
	store.failGets = 0
	store.mu.Unlock()
	tr.push(insertEvent(t, m))

	waitFor(t, func() bool { _, ok := findMessage(ms, m.ID); return ok },
		"redelivery after rollback was suppressed")
}

func TestUpdateMergesDenormalizedFields(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	full := models.Message{
		ID:             uuid.New(),
		ConversationID: convo,
		SenderName:     "Asha",
		Content:        "original",
		CreatedAt:      time.Now().UTC(),
	}
	store.put(full)

	ms, tr := newTestMessageStream(t, store, convo, nil)
	waitFor(t, func() bool { _, ok := findMessage(ms, full.ID); return ok }, "initial load missing")

	edited := full
	edited.SenderName = "" // row image carries no joins
	edited.Content = "edited"
	tr.push(updateEvent(t, edited))

	waitFor(t, func() bool {
		m, ok := findMessage(ms, full.ID)
		return ok && m.Content == "edited"
	}, "update never applied")

	m, _ := findMessage(ms, full.ID)
	if m.SenderName != "Asha" {
		t.Errorf("update dropped denormalized sender name: %+v", m)
	}
}

func TestDeleteRemovesAndAllowsReinsert(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	m := models.Message{ID: uuid.New(), ConversationID: convo, Content: "gone", CreatedAt: time.Now().UTC()}
	store.put(m)

	ms, tr := newTestMessageStream(t, store, convo, nil)
	waitFor(t, func() bool { _, ok := findMessage(ms, m.ID); return ok }, "initial load missing")

	tr.push(realtime.ChangeEvent{Type: realtime.EventDelete, Table: "messages", OldID: m.ID.String()})
	waitFor(t, func() bool { _, ok := findMessage(ms, m.ID); return !ok }, "delete never applied")

	// Delete clears the tracker entry, so a re-insert of the same id
	// must flow through again.
	tr.push(insertEvent(t, m))
	waitFor(t, func() bool { _, ok := findMessage(ms, m.ID); return ok }, "reinsert after delete suppressed")
}

func TestPollingEngagesOnErrorStopsOnConnect(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	ms, _ := newTestMessageStream(t, store, convo, nil)

	var mu sync.Mutex
	loads := 0
	ms.opts.Load = func(ctx context.Context) ([]models.Message, error) {
		mu.Lock()
		loads++
		mu.Unlock()
		return nil, nil
	}

	// connecting then error must engage polling.
	ms.handleStatus(realtime.StatusConnecting, nil)
	ms.handleStatus(realtime.StatusError, errors.New("transport down"))
	if ms.State() != StateError {
		t.Fatalf("expected error state, got %s", ms.State())
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return loads >= 2
	}, "polling never invoked load")

	// Reconnecting must stop polling immediately.
	ms.handleStatus(realtime.StatusSubscribed, nil)
	if ms.State() != StateConnected {
		t.Fatalf("expected connected state, got %s", ms.State())
	}
	mu.Lock()
	settled := loads
	mu.Unlock()

	time.Sleep(10 * testCfg().PollInterval)
	mu.Lock()
	final := loads
	mu.Unlock()
	if final != settled {
		t.Errorf("polling kept running after reconnect: %d -> %d", settled, final)
	}
}

func TestSendDebouncesRapidCalls(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	ms, _ := newTestMessageStream(t, store, convo, nil)

	sender := uuid.New()
	if _, err := ms.Send(context.Background(), sender, "hello", ""); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if _, err := ms.Send(context.Background(), sender, "hello", ""); !errors.Is(err, ErrSendDebounced) {
		t.Fatalf("second rapid send returned %v, want ErrSendDebounced", err)
	}

	if got := store.inserts(); got != 1 {
		t.Errorf("expected exactly 1 outbound write, got %d", got)
	}
}

func TestSendRejectsEmptyAndOffline(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()

	online := false
	ms, _ := newTestMessageStream(t, store, convo, func() bool { return online })

	if _, err := ms.Send(context.Background(), uuid.New(), "   ", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("empty send returned %v, want ErrEmptyMessage", err)
	}
	if _, err := ms.Send(context.Background(), uuid.New(), "hi", ""); !errors.Is(err, ErrOffline) {
		t.Errorf("offline send returned %v, want ErrOffline", err)
	}
	if store.inserts() != 0 {
		t.Errorf("rejected sends still hit the store: %d", store.inserts())
	}
}

func TestSendOptimisticInsertAndEchoSuppression(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	ms, tr := newTestMessageStream(t, store, convo, nil)

	msg, err := ms.Send(context.Background(), uuid.New(), "hello", "")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// Optimistically visible before any push delivery.
	if _, ok := findMessage(ms, msg.ID); !ok {
		t.Fatal("sent message not optimistically inserted")
	}

	// The realtime echo must be collapsed, not refetched or doubled.
	tr.push(insertEvent(t, *msg))
	time.Sleep(20 * time.Millisecond)

	if got := store.gets(); got != 0 {
		t.Errorf("echo triggered %d record fetches, want 0", got)
	}
	count := 0
	for _, m := range ms.Snapshot() {
		if m.ID == msg.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("echo duplicated the message: %d copies", count)
	}
}

func TestSendRetriesTransientFailure(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	store.failInserts = 2

	ms, _ := newTestMessageStream(t, store, convo, nil)

	if _, err := ms.Send(context.Background(), uuid.New(), "persistent", ""); err != nil {
		t.Fatalf("send should survive transient failures: %v", err)
	}
	if got := store.inserts(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestStopDropsLateEvents(t *testing.T) {
	convo := uuid.New()
	store := newFakeMessageStore()
	ms, _ := newTestMessageStream(t, store, convo, nil)

	ms.Stop()

	// Direct application after stop must be a no-op.
	m := models.Message{ID: uuid.New(), ConversationID: convo, Content: "late", CreatedAt: time.Now().UTC()}
	store.put(m)
	ms.handleEvent(updateEvent(t, m))

	if len(ms.Snapshot()) != 0 {
		t.Error("stopped stream still applied an event")
	}
	if ms.State() != StateDisconnected {
		t.Errorf("expected disconnected after stop, got %s", ms.State())
	}
}

func findMessage(ms *MessageStream, id uuid.UUID) (models.Message, bool) {
	for _, m := range ms.Snapshot() {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}
