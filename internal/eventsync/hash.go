// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package eventsync synchronizes external discovery events into the
// canonical store: per-city fetch from source platforms, validation,
// hash-based deduplication, batch upsert, and run statistics.
package eventsync

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/troupehq/troupe/internal/models"
)

// ExternalID derives the deterministic dedup key for a candidate: a
// hash of normalized title, date, city and platform. The same logical
// event recurring across sync runs (or listed twice by a platform)
// hashes to the same value and collides on the upsert conflict target.
func ExternalID(c models.EventCandidate) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(normalize(c.Title)))
	h.Write([]byte{0})
	h.Write([]byte(c.StartsAt.UTC().Format("2006-01-02")))
	h.Write([]byte{0})
	h.Write([]byte(normalize(c.City)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(c.Platform)))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// normalize collapses case and surrounding whitespace so cosmetic
// listing differences do not defeat deduplication.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
