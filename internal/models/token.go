// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package models defines the persisted and wire-level types shared across
// the access-session and signaling packages.
package models

import "time"

// TokenState is the lifecycle state of a QR token.
// Transitions are monotonic: once consumed, revoked or expired a token
// never returns to active.
type TokenState string

const (
	TokenStateActive   TokenState = "active"
	TokenStateConsumed TokenState = "consumed"
	TokenStateRevoked  TokenState = "revoked"
	TokenStateExpired  TokenState = "expired"
)

// DoorOption describes one door reachable through a token's scope, resolved
// at resolve time together with its home and homeowner.
type DoorOption struct {
	DoorID        string `json:"door_id"`
	DoorName      string `json:"door_name"`
	HomeID        string `json:"home_id"`
	HomeName      string `json:"home_name,omitempty"`
	HomeownerID   string `json:"homeowner_id"`
	HomeownerName string `json:"homeowner_name,omitempty"`
}

// Scope is the access descriptor carried by a QR token.
type Scope struct {
	PropertyID string    `json:"property_id"`
	DoorIDs    []string  `json:"door_ids"`
	Mode       string    `json:"mode"` // direct or selectable
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
	MaxUses    int       `json:"max_uses"`
}

// QRToken is an opaque, time- and use-bounded credential encoding an
// access scope. Owned by the issuing account.
type QRToken struct {
	ID            string     `json:"id"`
	IssuerID      string     `json:"issuer_id"`
	Scope         Scope      `json:"scope"`
	State         TokenState `json:"state"`
	RemainingUses int        `json:"remaining_uses"`
	CreatedAt     time.Time  `json:"created_at"`
	ConsumedAt    *time.Time `json:"consumed_at,omitempty"`
}

// SingleUse reports whether the token is consumed by its first resolution.
func (t *QRToken) SingleUse() bool {
	return t.Scope.MaxUses == 1
}

// ResolvedScope is the payload returned to a visitor on successful
// resolution: the raw scope plus the door options materialized for it.
type ResolvedScope struct {
	TokenID string       `json:"token_id"`
	Scope   Scope        `json:"scope"`
	Doors   []DoorOption `json:"doors"`
}
