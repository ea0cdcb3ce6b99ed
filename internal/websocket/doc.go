// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package websocket fans change-feed events out to browser clients.
// A single Hub owns the client set; the Bridge subscribes to the
// change feed through the connection manager and forwards entity
// events to the hub, which broadcasts them to every connected client.
package websocket
