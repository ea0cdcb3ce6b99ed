// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package subscription

import (
	"context"
	"errors"
	"strings"
)

// UserMessage maps an internal error onto user-facing wording. Raw
// driver and transport errors never reach the consumer surface.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrOffline) {
		return "You appear to be offline. Check your connection and try again."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The request took too long. Please try again."
	}
	if errors.Is(err, context.Canceled) {
		return "The request was cancelled."
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return "The request took too long. Please try again."
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"),
		strings.Contains(msg, "broken pipe"), strings.Contains(msg, "refused"):
		return "Connection problem. Updates may be delayed."
	case strings.Contains(msg, "not found"):
		return "That item no longer exists."
	case strings.Contains(msg, "conflict"), strings.Contains(msg, "duplicate"):
		return "This change conflicted with another update. Please retry."
	default:
		return "Something went wrong. Please try again."
	}
}

// ErrOffline signals that the network is known to be down before any
// request is attempted.
var ErrOffline = errors.New("subscription: offline")
