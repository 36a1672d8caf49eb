// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/useqring/qring/internal/audit"
	"github.com/useqring/qring/internal/auth"
	"github.com/useqring/qring/internal/models"
	"github.com/useqring/qring/internal/session"
)

// CreateSession opens an access request against a door covered by a
// previously resolved token.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req CreateSessionRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}

	tok, err := h.tokens.Get(r.Context(), req.TokenID)
	if err != nil {
		respondDomainError(rw, err)
		return
	}

	homeownerID := ""
	if h.dir != nil {
		homeownerID = h.dir.Homeowner(tok.Scope.PropertyID, req.DoorID)
	}
	if homeownerID == "" {
		homeownerID = req.HomeownerID
	}
	if homeownerID == "" {
		rw.BadRequest("no homeowner known for this door")
		return
	}

	s, err := h.sessions.CreateFromToken(r.Context(), session.CreateRequest{
		Resolved:        &models.ResolvedScope{TokenID: tok.ID, Scope: tok.Scope},
		DoorID:          req.DoorID,
		HomeownerID:     homeownerID,
		VisitorIdentity: req.VisitorName,
	})
	if err != nil {
		respondDomainError(rw, err)
		return
	}
	rw.Created(s)
}

// GetSession returns a session's current state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(rw, err)
		return
	}
	rw.Success(s)
}

// DecideSession records the homeowner's approve/reject. Exactly one
// decision wins; a second attempt conflicts.
func (h *Handler) DecideSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req DecisionRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	s, err := h.sessions.Decide(r.Context(), chi.URLParam(r, "id"), claims.EndpointID, req.Approve, req.Reason)
	if err != nil {
		respondDomainError(rw, err)
		return
	}
	rw.Success(s)
}

// RecordEntry marks the visitor's physical entry.
func (h *Handler) RecordEntry(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	claims := auth.ClaimsFromContext(r.Context())

	s, err := h.sessions.RecordEntry(r.Context(), chi.URLParam(r, "id"), claims.EndpointID)
	if err != nil {
		respondDomainError(rw, err)
		return
	}
	rw.Success(s)
}

// RecordExit marks the visitor's exit, completing the session.
func (h *Handler) RecordExit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	claims := auth.ClaimsFromContext(r.Context())

	s, err := h.sessions.RecordExit(r.Context(), chi.URLParam(r, "id"), claims.EndpointID)
	if err != nil {
		respondDomainError(rw, err)
		return
	}
	rw.Success(s)
}

// CancelSession withdraws a pending or approved session.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req CancelRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	s, err := h.sessions.Cancel(r.Context(), chi.URLParam(r, "id"), claims.EndpointID, req.Reason)
	if err != nil {
		respondDomainError(rw, err)
		return
	}
	rw.Success(s)
}

// SessionMessages lists the durably stored chat lines of a session.
func (h *Handler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	sessionID := chi.URLParam(r, "id")

	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		respondDomainError(rw, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.db.ListChatMessages(r.Context(), sessionID, limit)
	if err != nil {
		rw.InternalError("could not load messages")
		return
	}
	rw.Success(map[string]interface{}{
		"session_id": sessionID,
		"messages":   msgs,
		"count":      len(msgs),
	})
}

// AuditEvents queries the audit trail, homeowner-gated.
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter := audit.DefaultQueryFilter()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := q.Get("type"); v != "" {
		filter.Types = []audit.EventType{audit.EventType(v)}
	}
	if v := q.Get("actor_id"); v != "" {
		filter.ActorID = v
	}
	if v := q.Get("since"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = &ts
		}
	}

	events, err := h.audits.Query(r.Context(), filter)
	if err != nil {
		rw.InternalError("could not query audit trail")
		return
	}
	total, err := h.audits.Count(r.Context(), filter)
	if err != nil {
		rw.InternalError("could not count audit trail")
		return
	}
	rw.Success(map[string]interface{}{
		"events": events,
		"count":  len(events),
		"total":  total,
	})
}
