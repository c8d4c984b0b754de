// Hearthsync - Offline-First Sync Engine for the Hearth Family Organizer
// Copyright 2026 Hearth Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthapp/hearthsync

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthapp/hearthsync/internal/logging"
	"github.com/hearthapp/hearthsync/internal/metrics"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// UIOrigin is the allowed CORS origin.
	UIOrigin string

	// RateLimit is the per-IP request ceiling per minute.
	RateLimit int
}

// NewRouter builds the chi router for the local daemon API.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 300
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.UIOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))

		r.Post("/expenses", h.CreateExpense)
		r.Post("/todos", h.CreateTodo)
		r.Patch("/todos/{id}/completed", h.ToggleTodo)
		r.Post("/sync", h.TriggerSync)
		r.Get("/state", h.State)
		r.Get("/status", h.Status)
		r.Get("/ws", h.WebSocket)
	})

	return r
}

// requestLogging logs each request and records it in the API metrics.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())

		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", elapsed).
			Msg("Request handled")
	})
}
