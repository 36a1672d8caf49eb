// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package api

import (
	"errors"
	"net/http"

	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/room"
	"github.com/useqring/qring/internal/session"
	"github.com/useqring/qring/internal/token"
)

// respondDomainError maps component sentinel errors onto status codes
// and API error codes. Anything unmapped is an internal error; the
// details stay in the log, not the response.
func respondDomainError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrNotFound),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, room.ErrNotFound):
		rw.Error(http.StatusNotFound, ErrCodeNotFound, "resource not found")

	case errors.Is(err, token.ErrAlreadyConsumed):
		rw.Error(http.StatusConflict, ErrCodeTokenConsumed, "token has already been used")
	case errors.Is(err, token.ErrExpired):
		rw.Error(http.StatusGone, ErrCodeTokenExpired, "token validity window has passed")
	case errors.Is(err, token.ErrRevoked):
		rw.Error(http.StatusGone, ErrCodeTokenRevoked, "token was revoked by its issuer")
	case errors.Is(err, token.ErrNotYetValid):
		rw.Error(http.StatusForbidden, ErrCodeTokenNotYetValid, "token validity window has not opened")
	case errors.Is(err, token.ErrInvalidScope):
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeInvalidScope, "token scope is invalid", err.Error())

	case errors.Is(err, token.ErrNotAuthorized),
		errors.Is(err, session.ErrNotAuthorized):
		rw.Forbidden("actor is not allowed to perform this operation")

	case errors.Is(err, session.ErrAlreadyDecided):
		rw.Error(http.StatusConflict, ErrCodeAlreadyDecided, "session has already been decided")
	case errors.Is(err, session.ErrNotApproved):
		rw.Error(http.StatusConflict, ErrCodeNotApproved, "session is not approved for entry")
	case errors.Is(err, session.ErrInvalidTransition):
		rw.Error(http.StatusConflict, ErrCodeInvalidTransition, "session state does not allow this operation")
	case errors.Is(err, session.ErrDoorNotInScope):
		rw.Error(http.StatusBadRequest, ErrCodeDoorNotInScope, "requested door is not covered by the token")

	case errors.Is(err, room.ErrFull):
		rw.Error(http.StatusConflict, ErrCodeRoomFull, "room already has two participants")
	case errors.Is(err, room.ErrSessionNotActive):
		rw.Error(http.StatusConflict, ErrCodeSessionNotActive, "session does not admit a signaling room")

	default:
		logging.Error().Err(err).Msg("Unhandled domain error")
		rw.InternalError("internal error")
	}
}
