// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/middleware"
)

// NewRouter assembles the HTTP surface.
func NewRouter(cfg *config.ServerConfig, handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics sit outside auth and rate limiting so probes
	// and scrapers never get throttled out.
	r.Get("/healthz", handler.HealthLive)
	r.Get("/readyz", handler.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
		}
		r.Use(Authenticate(cfg.JWTSecret))

		r.Get("/events", handler.Events)
		r.Get("/conversations/{conversationID}/messages", handler.Messages)
		r.Post("/conversations/{conversationID}/messages", handler.SendMessage)
		r.Post("/sync", handler.SyncTrigger)
		r.Get("/sync/stats", handler.SyncStats)
		r.Get("/ws", handler.WebSocket)
	})

	return r
}

// Server runs the HTTP listener under supervision.
type Server struct {
	cfg     *config.ServerConfig
	handler http.Handler
}

// NewServer wraps the router for the supervisor tree.
func NewServer(cfg *config.ServerConfig, handler http.Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// Serve blocks until ctx is canceled, then shuts the listener down
// within the configured grace period.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error().Err(err).Msg("http shutdown failed")
	}
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *Server) String() string { return "http-server" }
