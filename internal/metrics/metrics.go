// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package metrics defines the Prometheus collectors instrumenting the
// realtime layer and the sync orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Realtime channel metrics

	ChannelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "troupe_realtime_channels_active",
			Help: "Number of live realtime channels in the connection manager",
		},
	)

	ChannelRefs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "troupe_realtime_channel_refs",
			Help: "Reference count per channel key",
		},
		[]string{"table"},
	)

	ChangeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_change_events_total",
			Help: "Change events processed by the subscription layer",
		},
		[]string{"table", "type"}, // type: insert, update, delete
	)

	ChangeEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_change_events_dropped_total",
			Help: "Change events dropped before application",
		},
		[]string{"table", "reason"}, // reason: malformed, duplicate, not_subscribed
	)

	DedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "troupe_dedup_hits_total",
			Help: "Duplicate change events suppressed by the tracker",
		},
	)

	PollingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_polling_fallback_engaged_total",
			Help: "Times a stream fell back to interval polling",
		},
		[]string{"table"},
	)

	// Sync orchestrator metrics

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_sync_runs_total",
			Help: "Sync orchestrator runs by outcome",
		},
		[]string{"outcome"}, // success, partial, failure
	)

	SyncEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_sync_events_total",
			Help: "External event candidates by platform, city and disposition",
		},
		[]string{"platform", "city", "disposition"}, // fetched, validated, invalid, inserted, updated, skipped
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "troupe_sync_duration_seconds",
			Help:    "Duration of full sync runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// Circuit breaker metrics

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "troupe_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"platform"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_breaker_requests_total",
			Help: "Requests through platform circuit breakers",
		},
		[]string{"platform", "result"}, // success, failure, rejected
	)

	// Store metrics

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "troupe_store_query_duration_seconds",
			Help:    "Duration of canonical store queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_store_retries_total",
			Help: "Retried store operations by error class",
		},
		[]string{"operation", "error_class"},
	)

	// Websocket metrics

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "troupe_websocket_clients",
			Help: "Connected websocket view consumers",
		},
	)

	WebsocketDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "troupe_websocket_dropped_total",
			Help: "Broadcast messages dropped due to slow consumers",
		},
	)

	// WAL metrics

	WALPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "troupe_wal_pending_entries",
			Help: "Change events journaled but not yet published",
		},
	)

	WALRepublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_wal_republished_total",
			Help: "WAL retry outcomes",
		},
		[]string{"outcome"}, // success, failure, expired, max_retried
	)
)
