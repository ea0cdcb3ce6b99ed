// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventbus

import (
	"testing"

	"github.com/troupehq/troupe/internal/realtime"
)

func TestSubjectFor(t *testing.T) {
	tr := &Transport{prefix: "changes"}

	tests := []struct {
		name string
		key  realtime.Key
		want string
	}{
		{"scoped", realtime.Key{Table: "messages", Scope: "convo-1"}, "changes.messages.convo-1"},
		{"all scope wildcards", realtime.Key{Table: "posts", Scope: "all"}, "changes.posts.*"},
		{"empty scope wildcards", realtime.Key{Table: "presence"}, "changes.presence.*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.SubjectFor(tt.key); got != tt.want {
				t.Errorf("SubjectFor(%+v) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestSplitListenURL(t *testing.T) {
	tests := []struct {
		raw      string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"nats://127.0.0.1:4222", "127.0.0.1", 4222, false},
		{"nats://localhost:14222", "localhost", 14222, false},
		{"nats://broker", "broker", 4222, false},
		{"nats://", "127.0.0.1", 4222, false},
		{"nats://host:notaport", "", 0, true},
	}

	for _, tt := range tests {
		host, port, err := splitListenURL(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("splitListenURL(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitListenURL(%q): %v", tt.raw, err)
			continue
		}
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("splitListenURL(%q) = %s:%d, want %s:%d", tt.raw, host, port, tt.wantHost, tt.wantPort)
		}
	}
}
