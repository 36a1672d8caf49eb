// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/useqring/qring/internal/validation"
)

// IssueTokenRequest is the body of POST /api/v1/qr.
type IssueTokenRequest struct {
	PropertyID string    `json:"property_id" validate:"required"`
	DoorIDs    []string  `json:"door_ids" validate:"required,min=1,dive,required"`
	Mode       string    `json:"mode" validate:"required,oneof=direct selectable"`
	ValidFrom  time.Time `json:"valid_from" validate:"required"`
	ValidUntil time.Time `json:"valid_until" validate:"required"`
	MaxUses    int       `json:"max_uses" validate:"required,gte=1"`
}

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	TokenID     string `json:"token_id" validate:"required"`
	DoorID      string `json:"door_id" validate:"required"`
	VisitorName string `json:"visitor_name" validate:"required,min=1,max=128"`

	// HomeownerID is a fallback for deployments without a configured
	// door directory.
	HomeownerID string `json:"homeowner_id" validate:"omitempty"`
}

// DecisionRequest is the body of POST /api/v1/sessions/{id}/decision.
type DecisionRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason" validate:"omitempty,max=512"`
}

// CancelRequest is the body of POST /api/v1/sessions/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=512"`
}

// AuthTokenRequest is the body of POST /api/v1/auth/token.
type AuthTokenRequest struct {
	EndpointID string `json:"endpoint_id" validate:"required"`
	Role       string `json:"role" validate:"required,oneof=visitor homeowner"`
}

// decodeAndValidate decodes the JSON body into dst and validates it.
// On failure the response has already been written.
func decodeAndValidate(rw *ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		rw.BadRequest("invalid JSON body")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidation, apiErr.Message, apiErr.Details)
		return false
	}
	return true
}
