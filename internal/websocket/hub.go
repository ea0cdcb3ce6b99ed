// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/metrics"
)

// Message types for client communication.
const (
	MessageTypeEntityInsert  = "entity_insert"
	MessageTypeEntityUpdate  = "entity_update"
	MessageTypeEntityDelete  = "entity_delete"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeSyncCompleted = "sync_completed"
)

// Message is one frame sent to clients.
type Message struct {
	Type  string      `json:"type"`
	Table string      `json:"table,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages to
// them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub under supervision until ctx is canceled, then
// closes every client and returns ctx.Err().
//
// Selection is priority ordered so behavior stays predictable when
// several channels are ready at once: shutdown first, then client
// lifecycle events, then broadcasts.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// Priority 1: shutdown, non-blocking check.
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: lifecycle events, non-blocking check.
		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		// Priority 3: block until anything is ready.
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

// String names the service in supervisor logs.
func (h *Hub) String() string { return "websocket-hub" }

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebsocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebsocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	count := h.ClientCount()
	h.closeAllClients()

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

// broadcastToClients sends a message to every connected client in a
// stable order. Clients whose send buffer is full are dropped; a
// reader that slow will not catch up.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WebsocketDropped.Inc()
	}
	if len(toRemove) > 0 {
		metrics.WebsocketClients.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("dropped slow websocket clients")
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebsocketClients.Set(0)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastEntityChange fans one change-feed event out to all clients.
func (h *Hub) BroadcastEntityChange(messageType, table string, data interface{}) {
	message := Message{
		Type:  messageType,
		Table: table,
		Data:  data,
	}

	select {
	case h.broadcast <- message:
	default:
		metrics.WebsocketDropped.Inc()
		logging.Warn().Str("table", table).Msg("broadcast channel full, dropping entity message")
	}
}

// SyncCompletedData is the payload of a sync_completed message.
type SyncCompletedData struct {
	Timestamp      string `json:"timestamp"`
	EventsInserted int    `json:"events_inserted"`
	EventsUpdated  int    `json:"events_updated"`
	SyncDurationMs int64  `json:"sync_duration_ms"`
}

// BroadcastSyncCompleted notifies all clients that an event sync run
// has finished.
func (h *Hub) BroadcastSyncCompleted(inserted, updated int, durationMs int64) {
	data := SyncCompletedData{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		EventsInserted: inserted,
		EventsUpdated:  updated,
		SyncDurationMs: durationMs,
	}

	select {
	case h.broadcast <- Message{Type: MessageTypeSyncCompleted, Data: data}:
		logging.Info().Int("clients", h.ClientCount()).Int("inserted", inserted).Msg("broadcast sync_completed")
	default:
		metrics.WebsocketDropped.Inc()
		logging.Warn().Msg("broadcast channel full, dropping sync_completed message")
	}
}
