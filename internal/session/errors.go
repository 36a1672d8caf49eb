// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package session

import "errors"

var (
	// ErrNotFound indicates the session ID does not exist.
	ErrNotFound = errors.New("session: not found")

	// ErrAlreadyDecided indicates the session left the requested
	// state before this decision arrived. Exactly one decision wins.
	ErrAlreadyDecided = errors.New("session: already decided")

	// ErrNotApproved indicates entry was attempted without a standing
	// approval.
	ErrNotApproved = errors.New("session: not approved")

	// ErrNotAuthorized indicates the actor is not the homeowner the
	// session is addressed to.
	ErrNotAuthorized = errors.New("session: not authorized")

	// ErrInvalidTransition indicates the requested transition is not
	// reachable from the session's current state.
	ErrInvalidTransition = errors.New("session: invalid transition")
)
