// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package store

import "strings"

// retryableKeywords matches transient failure modes in driver error
// text. Keyword matching is crude but the DuckDB driver does not
// expose structured error codes for these classes.
var retryableKeywords = []string{
	"connection",
	"timeout",
	"timed out",
	"deadlock",
	"lock",
	"serialization",
	"conflict",
	"broken pipe",
	"bad connection",
}

// IsRetryable reports whether err looks transient and worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range retryableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// ErrorClass buckets an error for metrics labels.
func ErrorClass(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock"):
		return "deadlock"
	case strings.Contains(msg, "serialization"), strings.Contains(msg, "conflict"):
		return "serialization"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "broken pipe"):
		return "connection"
	case strings.Contains(msg, "lock"):
		return "lock"
	default:
		return "terminal"
	}
}
