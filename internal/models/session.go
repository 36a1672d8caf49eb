// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package models

import "time"

// SessionState is the lifecycle state of a visitor session.
type SessionState string

const (
	SessionStateRequested SessionState = "requested"
	SessionStateApproved  SessionState = "approved"
	SessionStateRejected  SessionState = "rejected"
	SessionStateActive    SessionState = "active"
	SessionStateCompleted SessionState = "completed"
	SessionStateCancelled SessionState = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionStateRejected, SessionStateCompleted, SessionStateCancelled:
		return true
	}
	return false
}

// VisitorSession is the lifecycle record of one visitor's access request and
// physical presence. Retained indefinitely for audit; never hard-deleted.
// QRTokenID is a weak reference: the token may be revoked independently.
type VisitorSession struct {
	ID              string       `json:"id"`
	QRTokenID       string       `json:"qr_token_id"`
	PropertyID      string       `json:"property_id"`
	DoorID          string       `json:"door_id"`
	HomeownerID     string       `json:"homeowner_id"`
	VisitorIdentity string       `json:"visitor_identity"`
	State           SessionState `json:"state"`
	RequestedAt     time.Time    `json:"requested_at"`
	DecidedAt       *time.Time   `json:"decided_at,omitempty"`
	EnteredAt       *time.Time   `json:"entered_at,omitempty"`
	ExitedAt        *time.Time   `json:"exited_at,omitempty"`
}

// ChatMessage is a chat line exchanged inside a session's room. Delivery to
// the live room happens regardless of persistence outcome; PersistedAt is
// set only on a confirmed durable write. ClientNonce deduplicates retried
// persistence attempts.
type ChatMessage struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	SenderID    string     `json:"sender_id"`
	Body        string     `json:"body"`
	ClientNonce string     `json:"client_nonce"`
	DeliveredAt time.Time  `json:"delivered_at"`
	PersistedAt *time.Time `json:"persisted_at,omitempty"`
}
