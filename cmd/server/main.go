// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package main is the entry point for the Troupe realtime server.
//
// Troupe is the realtime backbone of a community and event platform:
// it owns the canonical DuckDB store, publishes row changes onto an
// embedded NATS JetStream change feed, synchronizes discovery events
// from external ticketing platforms, and fans updates out to websocket
// clients.
//
// Startup order:
//
//  1. Configuration via koanf (defaults, optional config file,
//     TROUPE_ environment variables)
//  2. Logging via the zerolog facade
//  3. DuckDB store and schema
//  4. Embedded NATS server (optional) and the JetStream change feed
//  5. Write-ahead log for outbound publishes (optional)
//  6. Event sync orchestrator and scheduler
//  7. Websocket hub plus change-feed bridge
//  8. HTTP server
//
// Everything long-running is supervised by a suture tree; SIGINT and
// SIGTERM cancel the root context for graceful shutdown.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/troupehq/troupe/internal/api"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/eventbus"
	"github.com/troupehq/troupe/internal/eventsync"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/realtime"
	"github.com/troupehq/troupe/internal/store"
	"github.com/troupehq/troupe/internal/supervisor"
	"github.com/troupehq/troupe/internal/wal"
	ws "github.com/troupehq/troupe/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("embedded_nats", cfg.NATS.EmbeddedServer).
		Bool("wal", cfg.WAL.Enabled).
		Bool("sync", cfg.Sync.Enabled).
		Msg("configuration loaded")
	if cfg.Server.JWTSecret == "" {
		logging.Warn().Msg("jwt secret empty, api authentication disabled")
	}

	db, err := store.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Change feed. The embedded server starts before the bus connects
	// to it.
	var embedded *eventbus.EmbeddedServer
	if cfg.NATS.EmbeddedServer {
		embedded, err = eventbus.NewEmbeddedServer(&cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to start embedded nats server")
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("error stopping embedded nats server")
			}
		}()
	}

	bus, err := eventbus.NewBus(&cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect change feed")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing change feed")
		}
	}()

	manager := realtime.NewManager(&cfg.Realtime, eventbus.NewTransport(bus))
	defer manager.Close()

	var journal *wal.Journal
	if cfg.WAL.Enabled {
		journal, err = wal.Open(&cfg.WAL)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to open write-ahead log")
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logging.Error().Err(err).Msg("error closing write-ahead log")
			}
		}()
	}
	feed := eventbus.NewFeed(bus, journalOrNil(journal))

	// Event synchronization from external platforms.
	aggregator := eventsync.NewAggregator(&cfg.Sync)
	orchestrator := eventsync.NewOrchestrator(&cfg.Sync, aggregator, db)

	hub := ws.NewHub()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if journal != nil {
		tree.AddDataService(wal.NewRetrier(journal, &cfg.WAL, feed.Publish))
	}
	tree.AddRealtimeService(hub)
	tree.AddRealtimeService(ws.NewBridge(hub, manager, nil))
	if cfg.Sync.Enabled {
		tree.AddRealtimeService(eventsync.NewScheduler(&cfg.Sync, orchestrator))
	}

	handler := api.NewHandler(db, orchestrator, feed, hub)
	tree.AddAPIService(api.NewServer(&cfg.Server, api.NewRouter(&cfg.Server, handler)))

	// Shutdown on SIGINT or SIGTERM.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	logging.Info().Str("addr", cfg.Server.Addr).Msg("troupe starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree exited")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}
	logging.Info().Msg("troupe stopped")
}

// journalOrNil avoids handing the feed a typed nil interface value.
func journalOrNil(j *wal.Journal) eventbus.Journal {
	if j == nil {
		return nil
	}
	return j
}
