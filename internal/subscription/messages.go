// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package subscription

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/models"
	"github.com/troupehq/troupe/internal/realtime"
	"github.com/troupehq/troupe/internal/retry"
)

// MessageStore is the slice of the canonical store the message stream
// needs.
type MessageStore interface {
	MessagesByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	InsertMessage(ctx context.Context, m *models.Message) error
}

// OnlineFunc reports whether the network is believed to be up. Sends
// are rejected up front when it returns false.
type OnlineFunc func() bool

// ErrEmptyMessage rejects sends with neither content nor attachment.
var ErrEmptyMessage = errors.New("subscription: empty message")

// ErrSendDebounced rejects a send arriving inside the debounce window
// of the previous one.
var ErrSendDebounced = errors.New("subscription: send debounced")

// MessageStream is the live view of one conversation plus its send
// path.
type MessageStream struct {
	*Stream[models.Message]

	store          MessageStore
	conversationID uuid.UUID
	policy         retry.Policy
	online         OnlineFunc
	debounce       time.Duration
	reloadDelay    time.Duration

	sendMu   sync.Mutex
	lastSend time.Time
}

// NewMessageStream builds the stream for one conversation. online may
// be nil, in which case the network is assumed up.
func NewMessageStream(mgr *realtime.Manager, store MessageStore, cfg *config.RealtimeConfig, conversationID uuid.UUID, online OnlineFunc) *MessageStream {
	ms := &MessageStream{
		store:          store,
		conversationID: conversationID,
		policy:         mgr.RetryPolicy(),
		online:         online,
		debounce:       cfg.SendDebounce,
		reloadDelay:    time.Second,
	}
	ms.Stream = NewStream(Options[models.Message]{
		Manager: mgr,
		Key:     realtime.Key{Table: "messages", Scope: conversationID.String()},
		Load: func(ctx context.Context) ([]models.Message, error) {
			return store.MessagesByConversation(ctx, conversationID, 0)
		},
		// Raw insert notifications lack joined sender and reaction
		// data; refetch the denormalized record before caching.
		Fetch: func(ctx context.Context, id string) (models.Message, error) {
			mid, err := uuid.Parse(id)
			if err != nil {
				return models.Message{}, err
			}
			m, err := store.GetMessage(ctx, mid)
			if err != nil {
				return models.Message{}, err
			}
			return *m, nil
		},
		MergeUpdate:   mergeMessage,
		PollInterval:  cfg.PollInterval,
		DedupWindow:   cfg.DedupWindow,
		DedupCapacity: cfg.DedupCapacity,
	})
	return ms
}

// mergeMessage keeps denormalized sender fields the raw update row
// image does not carry.
func mergeMessage(existing, incoming models.Message) models.Message {
	if incoming.SenderName == "" {
		incoming.SenderName = existing.SenderName
	}
	if incoming.SenderAvatar == "" {
		incoming.SenderAvatar = existing.SenderAvatar
	}
	if incoming.Reactions == nil {
		incoming.Reactions = existing.Reactions
	}
	if incoming.ReadBy == nil {
		incoming.ReadBy = existing.ReadBy
	}
	return incoming
}

// Send writes a message, optimistically inserts it into the local
// view, and arms a delayed reload in case push delivery misses the
// echo. Rapid successive calls inside the debounce window are
// rejected without touching the network.
func (ms *MessageStream) Send(ctx context.Context, senderID uuid.UUID, content, attachmentURL string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && attachmentURL == "" {
		return nil, ErrEmptyMessage
	}

	ms.sendMu.Lock()
	if time.Since(ms.lastSend) < ms.debounce {
		ms.sendMu.Unlock()
		return nil, ErrSendDebounced
	}
	ms.lastSend = time.Now()
	ms.sendMu.Unlock()

	if ms.online != nil && !ms.online() {
		return nil, ErrOffline
	}

	msg := &models.Message{
		ID:             uuid.New(), // client-assigned identity keeps retries idempotent
		ConversationID: ms.conversationID,
		SenderID:       senderID,
		Content:        content,
		AttachmentURL:  attachmentURL,
		CreatedAt:      time.Now().UTC(),
	}

	err := retry.Do(ctx, ms.policy, func(ctx context.Context) error {
		return ms.store.InsertMessage(ctx, msg)
	}, nil)
	if err != nil {
		return nil, errors.New(UserMessage(err))
	}

	// Mark before inserting so the realtime echo is treated as a
	// duplicate; if the echo already won the race, skip the optimistic
	// insert since the cache holds the complete record.
	if ms.markLocal(msg.ID.String()) {
		ms.upsertLocal(*msg)
	}
	ms.scheduleReload(ms.reloadDelay)
	return msg, nil
}
