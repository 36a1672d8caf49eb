// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/useqring/qring/internal/auth"
	"github.com/useqring/qring/internal/models"
)

// IssueToken mints a QR token for the authenticated homeowner.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req IssueTokenRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	scope := models.Scope{
		PropertyID: req.PropertyID,
		DoorIDs:    req.DoorIDs,
		Mode:       req.Mode,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		MaxUses:    req.MaxUses,
	}

	tok, err := h.tokens.Issue(r.Context(), claims.EndpointID, scope)
	if err != nil {
		respondDomainError(rw, err)
		return
	}
	rw.Created(tok)
}

// ResolveToken validates and consumes one use of a scanned token. The
// response carries the resolved scope plus a fresh visitor credential
// for the follow-up session and signaling calls.
func (h *Handler) ResolveToken(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tokenID := chi.URLParam(r, "id")

	resolved, err := h.tokens.Resolve(r.Context(), tokenID)
	if err != nil {
		respondDomainError(rw, err)
		return
	}

	visitorID := "visitor:" + uuid.NewString()
	credential, err := h.jwt.Generate(visitorID, auth.RoleVisitor)
	if err != nil {
		rw.InternalError("could not mint visitor credential")
		return
	}

	rw.Success(map[string]interface{}{
		"scope":         resolved,
		"endpoint_id":   visitorID,
		"session_token": credential,
	})
}

// RevokeToken withdraws a token. Only its issuer may do so.
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	claims := auth.ClaimsFromContext(r.Context())

	if err := h.tokens.Revoke(r.Context(), chi.URLParam(r, "id"), claims.EndpointID); err != nil {
		respondDomainError(rw, err)
		return
	}
	rw.NoContent()
}

// RevokeAllTokens withdraws every revocable token the caller issued,
// e.g. when a property changes hands.
func (h *Handler) RevokeAllTokens(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	claims := auth.ClaimsFromContext(r.Context())

	n, err := h.tokens.RevokeAllForIssuer(r.Context(), claims.EndpointID)
	if err != nil {
		respondDomainError(rw, err)
		return
	}
	rw.Success(map[string]interface{}{"revoked": n})
}

// GetToken returns a token's current state to its issuer.
func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	claims := auth.ClaimsFromContext(r.Context())

	tok, err := h.tokens.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(rw, err)
		return
	}
	if tok.IssuerID != claims.EndpointID {
		rw.Forbidden("token belongs to another issuer")
		return
	}
	rw.Success(tok)
}
