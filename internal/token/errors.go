// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package token

import "errors"

// Resolution and revocation failures. API handlers map these onto
// response codes; everything else surfacing from the store is an
// internal error.
var (
	// ErrNotFound indicates the token ID does not exist.
	ErrNotFound = errors.New("token: not found")

	// ErrAlreadyConsumed indicates the token's uses are exhausted.
	// Consumption is irreversible.
	ErrAlreadyConsumed = errors.New("token: already consumed")

	// ErrExpired indicates the validity window has passed.
	ErrExpired = errors.New("token: expired")

	// ErrNotYetValid indicates the validity window has not opened.
	// The token stays active; a later resolve may succeed.
	ErrNotYetValid = errors.New("token: not yet valid")

	// ErrRevoked indicates the issuer withdrew the token.
	ErrRevoked = errors.New("token: revoked")

	// ErrNotAuthorized indicates the actor does not own the token.
	ErrNotAuthorized = errors.New("token: not authorized")

	// ErrInvalidScope indicates an issue request with an unusable scope.
	ErrInvalidScope = errors.New("token: invalid scope")
)
