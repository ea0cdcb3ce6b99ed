// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"

	"github.com/troupehq/troupe/internal/eventsync"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/models"
	"github.com/troupehq/troupe/internal/realtime"
	"github.com/troupehq/troupe/internal/store"
	"github.com/troupehq/troupe/internal/websocket"
)

// EventQuerier is the slice of the store the discovery endpoints use.
type EventQuerier interface {
	Ping(ctx context.Context) error
	UpcomingEventsByCity(ctx context.Context, city string, limit int) ([]models.Event, error)
}

// MessageStore is the slice of the store the messaging endpoints use.
type MessageStore interface {
	MessagesByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error)
	InsertMessage(ctx context.Context, m *models.Message) error
}

// SyncService triggers and reports on event synchronization.
type SyncService interface {
	SyncEvents(ctx context.Context, cities []string) *eventsync.SyncStats
	Statistics(ctx context.Context) map[string]any
}

// ChangePublisher emits change-feed events for server-side mutations.
type ChangePublisher interface {
	PublishChange(ctx context.Context, table, scope string, ev realtime.ChangeEvent) error
}

// Handler holds the HTTP endpoint implementations.
type Handler struct {
	events   EventQuerier
	messages MessageStore
	sync     SyncService
	feed     ChangePublisher
	hub      *websocket.Hub

	syncRunning atomic.Bool
}

// NewHandler wires the endpoints. feed may be nil when the change
// feed is disabled; mutations then skip publishing.
func NewHandler(db *store.DB, sync SyncService, feed ChangePublisher, hub *websocket.Hub) *Handler {
	return &Handler{events: db, messages: db, sync: sync, feed: feed, hub: hub}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, map[string]string{"status": "ok"}, 0)
}

// HealthReady reports readiness, checking the database.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.events.Ping(ctx); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "database unavailable")
		return
	}
	writeSuccess(w, r, map[string]string{"status": "ready"}, 0)
}

// Events lists upcoming discovery events, optionally filtered by city.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	limit := queryInt(r, "limit", 100)

	events, err := h.events.UpcomingEventsByCity(r.Context(), city, limit)
	if err != nil {
		logging.Error().Err(err).Str("city", city).Msg("listing events failed")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "query failed")
		return
	}
	writeSuccess(w, r, events, len(events))
}

// Messages lists messages for one conversation, oldest first.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid conversation id")
		return
	}

	msgs, err := h.messages.MessagesByConversation(r.Context(), conversationID, queryInt(r, "limit", 200))
	if err != nil {
		logging.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("listing messages failed")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "query failed")
		return
	}
	writeSuccess(w, r, msgs, len(msgs))
}

type sendMessageRequest struct {
	Content       string `json:"content"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// SendMessage persists a message and emits an insert on the change
// feed so subscribed clients see it in realtime.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid conversation id")
		return
	}

	senderID, err := uuid.Parse(UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "no authenticated sender")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "malformed body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "empty message")
		return
	}

	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        req.Content,
		AttachmentURL:  req.AttachmentURL,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.messages.InsertMessage(r.Context(), &msg); err != nil {
		logging.Error().Err(err).Msg("inserting message failed")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "write failed")
		return
	}

	if h.feed != nil {
		payload, _ := json.Marshal(msg)
		ev := realtime.ChangeEvent{Type: realtime.EventInsert, New: payload}
		if err := h.feed.PublishChange(r.Context(), "messages", conversationID.String(), ev); err != nil {
			// The row is committed; clients recover via polling or
			// the fallback reload.
			logging.Warn().Err(err).Msg("publishing message insert failed")
		}
	}

	writeSuccess(w, r, msg, 0)
}

// SyncTrigger starts a sync run in the background. Cities may be
// passed as a comma-separated query parameter; empty means all
// configured cities. Returns 409 while a run is in flight.
func (h *Handler) SyncTrigger(w http.ResponseWriter, r *http.Request) {
	var cities []string
	if raw := strings.TrimSpace(r.URL.Query().Get("cities")); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cities = append(cities, c)
			}
		}
	}

	if !h.syncRunning.CompareAndSwap(false, true) {
		writeError(w, r, http.StatusConflict, ErrCodeConflict, "sync already running")
		return
	}

	go func() {
		defer h.syncRunning.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		stats := h.sync.SyncEvents(ctx, cities)
		if h.hub != nil {
			h.hub.BroadcastSyncCompleted(stats.Inserted, stats.Updated, stats.Duration.Milliseconds())
		}
	}()

	writeJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: map[string]string{"status": "started"}})
}

// SyncStats reports statistics from the last sync run.
func (h *Handler) SyncStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, h.sync.Statistics(r.Context()), 0)
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS middleware; the
	// upgrade itself accepts any origin that got this far.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket upgrades the connection and attaches the client to the
// hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
