// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/eventsync"
	"github.com/troupehq/troupe/internal/models"
	"github.com/troupehq/troupe/internal/realtime"
)

type fakeStore struct {
	pingErr  error
	events   []models.Event
	messages []models.Message
	inserted []models.Message
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) UpcomingEventsByCity(ctx context.Context, city string, limit int) ([]models.Event, error) {
	if city == "" {
		return f.events, nil
	}
	var out []models.Event
	for _, e := range f.events {
		if e.City == city {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) MessagesByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	return f.messages, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, m *models.Message) error {
	f.inserted = append(f.inserted, *m)
	return nil
}

type fakeSync struct {
	calls int
	stats map[string]any
}

func (f *fakeSync) SyncEvents(ctx context.Context, cities []string) *eventsync.SyncStats {
	f.calls++
	return &eventsync.SyncStats{}
}

func (f *fakeSync) Statistics(ctx context.Context) map[string]any { return f.stats }

type fakeFeed struct {
	published []realtime.ChangeEvent
	scopes    []string
}

func (f *fakeFeed) PublishChange(ctx context.Context, table, scope string, ev realtime.ChangeEvent) error {
	ev.Table = table
	f.published = append(f.published, ev)
	f.scopes = append(f.scopes, scope)
	return nil
}

func newTestHandler(st *fakeStore, sy *fakeSync, feed *fakeFeed) *Handler {
	h := &Handler{sync: sy, hub: nil}
	h.events = st
	h.messages = st
	if feed != nil {
		h.feed = feed
	}
	return h
}

func testRouter(h *Handler) http.Handler {
	cfg := &config.ServerConfig{
		Addr:            ":0",
		CORSOrigins:     []string{"*"},
		RateLimit:       0,
		ShutdownTimeout: time.Second,
	}
	return NewRouter(cfg, h)
}

func TestHealthEndpoints(t *testing.T) {
	st := &fakeStore{}
	router := testRouter(newTestHandler(st, &fakeSync{}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}

	st.pingErr = errors.New("db down")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with dead db = %d", rec.Code)
	}
}

func TestEventsFiltersByCity(t *testing.T) {
	st := &fakeStore{events: []models.Event{
		{ID: uuid.New(), City: "Mumbai", Title: "Indie Night"},
		{ID: uuid.New(), City: "Delhi", Title: "Comedy Evening"},
	}}
	router := testRouter(newTestHandler(st, &fakeSync{}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events?city=Mumbai", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success || resp.Meta == nil || resp.Meta.Count != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestMessagesRejectsBadConversationID(t *testing.T) {
	router := testRouter(newTestHandler(&fakeStore{}, &fakeSync{}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/not-a-uuid/messages", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSendMessagePersistsAndPublishes(t *testing.T) {
	st := &fakeStore{}
	feed := &fakeFeed{}
	h := newTestHandler(st, &fakeSync{}, feed)

	convo := uuid.New()
	sender := uuid.New()
	body := strings.NewReader(`{"content":"  hello there  "}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+convo.String()+"/messages", body)
	req = req.WithContext(context.WithValue(req.Context(), userIDKey{}, sender.String()))

	rec := httptest.NewRecorder()
	testRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d messages", len(st.inserted))
	}
	if st.inserted[0].Content != "hello there" {
		t.Errorf("content not trimmed: %q", st.inserted[0].Content)
	}
	if st.inserted[0].SenderID != sender {
		t.Errorf("sender = %s", st.inserted[0].SenderID)
	}

	if len(feed.published) != 1 {
		t.Fatalf("published %d events", len(feed.published))
	}
	if feed.published[0].Type != realtime.EventInsert || feed.scopes[0] != convo.String() {
		t.Errorf("unexpected publish %+v scope %q", feed.published[0], feed.scopes[0])
	}
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeSync{}, nil)

	convo := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+convo.String()+"/messages",
		strings.NewReader(`{"content":"   "}`))
	req = req.WithContext(context.WithValue(req.Context(), userIDKey{}, uuid.NewString()))

	rec := httptest.NewRecorder()
	testRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSendMessageRequiresAuthenticatedSender(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeSync{}, nil)

	convo := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+convo.String()+"/messages",
		strings.NewReader(`{"content":"hi"}`))

	rec := httptest.NewRecorder()
	testRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSyncTriggerConflictsWhileRunning(t *testing.T) {
	sy := &fakeSync{}
	h := newTestHandler(&fakeStore{}, sy, nil)
	h.syncRunning.Store(true)

	rec := httptest.NewRecorder()
	testRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d", rec.Code)
	}
	if sy.calls != 0 {
		t.Errorf("sync started despite conflict")
	}
}

func TestSyncStats(t *testing.T) {
	sy := &fakeSync{stats: map[string]any{"last_run": "never"}}
	router := testRouter(newTestHandler(&fakeStore{}, sy, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "last_run") {
		t.Errorf("stats missing from body: %s", rec.Body.String())
	}
}
