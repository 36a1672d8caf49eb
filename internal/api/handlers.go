// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/useqring/qring/internal/audit"
	"github.com/useqring/qring/internal/auth"
	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/database"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/session"
	"github.com/useqring/qring/internal/signaling"
	"github.com/useqring/qring/internal/token"
)

// Handler owns the HTTP endpoints and their collaborators.
type Handler struct {
	cfg      *config.Config
	db       *database.DB
	tokens   *token.Store
	sessions *session.Manager
	dir      *token.StaticDirectory
	jwt      *auth.Manager
	hub      *signaling.Hub
	signal   *signaling.Router
	audits   audit.Store

	startedAt time.Time
}

// NewHandler wires the endpoint dependencies together.
func NewHandler(
	cfg *config.Config,
	db *database.DB,
	tokens *token.Store,
	sessions *session.Manager,
	dir *token.StaticDirectory,
	jwtManager *auth.Manager,
	hub *signaling.Hub,
	signalRouter *signaling.Router,
	audits audit.Store,
) *Handler {
	return &Handler{
		cfg:       cfg,
		db:        db,
		tokens:    tokens,
		sessions:  sessions,
		dir:       dir,
		jwt:       jwtManager,
		hub:       hub,
		signal:    signalRouter,
		audits:    audits,
		startedAt: time.Now(),
	}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady reports readiness: the database must answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.db.Ping(r.Context()); err != nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "database unreachable")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}

// Health reports overall status plus a few live gauges.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	status := "healthy"
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	rw.Success(map[string]interface{}{
		"status":         status,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"connections":    h.hub.ClientCount(),
	})
}

// RTCConfig hands clients the ICE server list. The payload is opaque
// to the core; it is configuration passed through verbatim.
func (h *Handler) RTCConfig(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"ice_servers": h.cfg.ICE.Servers,
	})
}

// AuthToken mints a session token for an endpoint. In a full
// deployment this sits behind the platform's login; here it is the
// issuing slice the engine owns.
func (h *Handler) AuthToken(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req AuthTokenRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}

	signed, err := h.jwt.Generate(req.EndpointID, req.Role)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to mint session token")
		rw.InternalError("could not mint token")
		return
	}

	rw.Created(map[string]interface{}{
		"token":      signed,
		"expires_in": int64(h.cfg.Security.SessionTimeout.Seconds()),
	})
}

// upgrader is shared by all WebSocket handshakes.
func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts origins from the CORS allow list.
// Requests without an Origin header come from non-browser clients and
// pass; their credential is the session token, not the origin.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("WebSocket rejected from unauthorized origin")
	return false
}

// WebSocket joins the caller to its session's room and upgrades the
// connection to the signaling channel. Membership is established
// before the upgrade so a refused join is an ordinary HTTP error.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		rw.Unauthorized("authentication required")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		rw.BadRequest("session_id query parameter is required")
		return
	}

	if _, err := h.signal.Join(r.Context(), sessionID, claims.EndpointID); err != nil {
		respondDomainError(rw, err)
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The handshake failed mid-join; undo the membership.
		h.signal.Disconnect(claims.EndpointID)
		logging.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := signaling.NewClient(h.hub, h.signal, conn, claims.EndpointID, h.cfg.Signaling.SendQueueSize)
	h.hub.Register <- client
	client.Start()
}
