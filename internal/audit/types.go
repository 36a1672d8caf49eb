// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package audit records the lifecycle trail of tokens and visitor
// sessions for compliance review. Every state transition produces one
// event; events are written asynchronously so audit persistence never
// blocks the hot path.
package audit

import (
	"context"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	// Token lifecycle events
	EventTypeTokenIssued   EventType = "token.issued"
	EventTypeTokenResolved EventType = "token.resolved"
	EventTypeTokenRevoked  EventType = "token.revoked"
	EventTypeTokenExpired  EventType = "token.expired"
	EventTypeTokenRejected EventType = "token.rejected"

	// Visitor session lifecycle events
	EventTypeSessionRequested EventType = "session.requested"
	EventTypeSessionApproved  EventType = "session.approved"
	EventTypeSessionRejected  EventType = "session.rejected"
	EventTypeSessionEntered   EventType = "session.entered"
	EventTypeSessionExited    EventType = "session.exited"
	EventTypeSessionCancelled EventType = "session.cancelled"

	// Signaling events
	EventTypeRoomCreated EventType = "signaling.room_created"
	EventTypeRoomClosed  EventType = "signaling.room_closed"
	EventTypePeerTimeout EventType = "signaling.peer_timeout"

	// Chat persistence events
	EventTypeChatPersistFailed EventType = "chat.persist_failed"
)

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event represents a single recorded lifecycle transition.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// ActorID identifies who performed the action (homeowner,
	// visitor, or "system" for timeouts and sweeps).
	ActorID string `json:"actor_id"`

	// TargetType names the kind of object acted on (token, session, room).
	TargetType string `json:"target_type"`

	// TargetID identifies the object acted on.
	TargetID string `json:"target_id"`

	// Outcome indicates success or failure.
	Outcome Outcome `json:"outcome"`

	// Detail provides human-readable context, such as a rejection
	// reason or the terminal token state a resolve hit.
	Detail string `json:"detail,omitempty"`
}

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	Save(ctx context.Context, event *Event) error

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Delete removes events older than the retention cutoff.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	// Types filters by event types.
	Types []EventType `json:"types,omitempty"`

	// Outcomes filters by outcome.
	Outcomes []Outcome `json:"outcomes,omitempty"`

	// ActorID filters by actor.
	ActorID string `json:"actor_id,omitempty"`

	// TargetType filters by target type.
	TargetType string `json:"target_type,omitempty"`

	// TargetID filters by target ID.
	TargetID string `json:"target_id,omitempty"`

	// StartTime is the beginning of the time range.
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is the end of the time range.
	EndTime *time.Time `json:"end_time,omitempty"`

	// Limit is the maximum number of results.
	Limit int `json:"limit,omitempty"`

	// Offset for pagination.
	Offset int `json:"offset,omitempty"`
}

// DefaultQueryFilter returns a sensible default filter.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{Limit: 100}
}
