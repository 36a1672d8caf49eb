// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/useqring/qring/internal/auth"
	"github.com/useqring/qring/internal/middleware"
)

// Routes assembles the full route tree.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	rateReqs := h.cfg.Security.RateLimitReqs
	rateWindow := h.cfg.Security.RateLimitWindow
	if rateReqs <= 0 {
		rateReqs = 100
	}
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}

	// Health gets a permissive limit so monitoring never trips it.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/", h.Health)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rateReqs, rateWindow))
		r.Post("/token", h.AuthToken)
	})

	// Resolution is the one unauthenticated domain endpoint: the QR
	// token itself is the credential being presented.
	r.With(
		httprate.LimitByIP(rateReqs, rateWindow),
		middleware.PrometheusMetrics,
	).Post("/api/v1/qr/{id}/resolve", h.ResolveToken)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rateReqs, rateWindow))
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.Compression)
		r.Use(h.jwt.Authenticate)

		r.Route("/qr", func(r chi.Router) {
			r.With(requireHomeowner).Post("/", h.IssueToken)
			r.With(requireHomeowner).Delete("/", h.RevokeAllTokens)
			r.With(requireHomeowner).Get("/{id}", h.GetToken)
			r.With(requireHomeowner).Delete("/{id}", h.RevokeToken)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/{id}", h.GetSession)
			r.With(requireHomeowner).Post("/{id}/decision", h.DecideSession)
			r.With(requireHomeowner).Post("/{id}/entry", h.RecordEntry)
			r.With(requireHomeowner).Post("/{id}/exit", h.RecordExit)
			r.Post("/{id}/cancel", h.CancelSession)
			r.Get("/{id}/messages", h.SessionMessages)
		})

		r.Get("/rtc/config", h.RTCConfig)
		r.With(requireHomeowner).Get("/audit", h.AuditEvents)
	})

	// The signaling channel authenticates via token query parameter;
	// everything else about it is WebSocket, not REST.
	r.With(h.jwt.Authenticate).Get("/ws", h.WebSocket)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func requireHomeowner(next http.Handler) http.Handler {
	return auth.RequireRole(auth.RoleHomeowner, next)
}
