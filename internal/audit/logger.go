// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/useqring/qring/internal/logging"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `json:"enabled"`

	// RetentionDays is how long to keep audit events.
	RetentionDays int `json:"retention_days"`

	// CleanupInterval is how often to run retention cleanup.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
	}
}

// Logger writes audit events to a Store through a buffered channel so
// callers never block on persistence. A full buffer drops the event
// with a warning rather than stalling the caller.
type Logger struct {
	config    *Config
	store     Store
	eventChan chan *Event
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLogger creates a new audit logger and starts its writer.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

// asyncWriter processes events from the buffer.
func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			// Drain remaining events
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

// writeEvent persists an event to the store.
func (l *Logger) writeEvent(event *Event) {
	if l.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.Save(ctx, event); err != nil {
		logging.Error().Err(err).
			Str("event_type", string(event.Type)).
			Msg("Failed to save audit event")
	}
}

// Log records an audit event.
func (l *Logger) Log(event *Event) {
	if !l.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case l.eventChan <- event:
	default:
		logging.Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("Audit event buffer full, dropping event")
	}
}

// Close shuts down the logger, draining buffered events.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	return nil
}

// RunCleanup runs the retention cleanup loop until the context is
// cancelled. Blocks; run it under a supervisor.
func (l *Logger) RunCleanup(ctx context.Context) error {
	interval := l.config.CleanupInterval
	retention := l.config.RetentionDays

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retention)
			count, err := l.store.Delete(ctx, cutoff)
			if err != nil {
				logging.Error().Err(err).Msg("Audit cleanup error")
			} else if count > 0 {
				logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
			}
		}
	}
}

// Query retrieves events matching the filter.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// Count returns the number of events matching the filter.
func (l *Logger) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return l.store.Count(ctx, filter)
}

// Helper methods for common lifecycle events

// TokenIssued records a new token grant.
func (l *Logger) TokenIssued(issuerID, tokenID string) {
	l.Log(&Event{
		Type:       EventTypeTokenIssued,
		ActorID:    issuerID,
		TargetType: "token",
		TargetID:   tokenID,
		Outcome:    OutcomeSuccess,
	})
}

// TokenResolved records a resolve attempt. A failed attempt carries the
// terminal state or validity problem the resolve ran into.
func (l *Logger) TokenResolved(tokenID string, ok bool, detail string) {
	outcome := OutcomeSuccess
	eventType := EventTypeTokenResolved
	if !ok {
		outcome = OutcomeFailure
		eventType = EventTypeTokenRejected
	}
	l.Log(&Event{
		Type:       eventType,
		ActorID:    "visitor",
		TargetType: "token",
		TargetID:   tokenID,
		Outcome:    outcome,
		Detail:     detail,
	})
}

// TokenRevoked records an issuer revocation.
func (l *Logger) TokenRevoked(issuerID, tokenID string) {
	l.Log(&Event{
		Type:       EventTypeTokenRevoked,
		ActorID:    issuerID,
		TargetType: "token",
		TargetID:   tokenID,
		Outcome:    OutcomeSuccess,
	})
}

// TokenExpired records a lazy expiry observed during resolve.
func (l *Logger) TokenExpired(tokenID string) {
	l.Log(&Event{
		Type:       EventTypeTokenExpired,
		ActorID:    "system",
		TargetType: "token",
		TargetID:   tokenID,
		Outcome:    OutcomeSuccess,
	})
}

// SessionRequested records a new visitor session.
func (l *Logger) SessionRequested(visitorID, sessionID string) {
	l.Log(&Event{
		Type:       EventTypeSessionRequested,
		ActorID:    visitorID,
		TargetType: "session",
		TargetID:   sessionID,
		Outcome:    OutcomeSuccess,
	})
}

// SessionDecided records an approve or reject decision.
func (l *Logger) SessionDecided(homeownerID, sessionID string, approved bool, reason string) {
	eventType := EventTypeSessionApproved
	if !approved {
		eventType = EventTypeSessionRejected
	}
	l.Log(&Event{
		Type:       eventType,
		ActorID:    homeownerID,
		TargetType: "session",
		TargetID:   sessionID,
		Outcome:    OutcomeSuccess,
		Detail:     reason,
	})
}

// SessionEntered records physical entry.
func (l *Logger) SessionEntered(actorID, sessionID string) {
	l.Log(&Event{
		Type:       EventTypeSessionEntered,
		ActorID:    actorID,
		TargetType: "session",
		TargetID:   sessionID,
		Outcome:    OutcomeSuccess,
	})
}

// SessionExited records physical exit and session completion.
func (l *Logger) SessionExited(actorID, sessionID string) {
	l.Log(&Event{
		Type:       EventTypeSessionExited,
		ActorID:    actorID,
		TargetType: "session",
		TargetID:   sessionID,
		Outcome:    OutcomeSuccess,
	})
}

// SessionCancelled records a cancellation before entry.
func (l *Logger) SessionCancelled(actorID, sessionID, reason string) {
	l.Log(&Event{
		Type:       EventTypeSessionCancelled,
		ActorID:    actorID,
		TargetType: "session",
		TargetID:   sessionID,
		Outcome:    OutcomeSuccess,
		Detail:     reason,
	})
}

// PeerTimeout records a signaling room torn down because the second
// peer never arrived.
func (l *Logger) PeerTimeout(roomID string) {
	l.Log(&Event{
		Type:       EventTypePeerTimeout,
		ActorID:    "system",
		TargetType: "room",
		TargetID:   roomID,
		Outcome:    OutcomeFailure,
	})
}

// ChatPersistFailed records a chat message that exhausted its
// persistence retries.
func (l *Logger) ChatPersistFailed(sessionID, clientNonce string, attempts int) {
	l.Log(&Event{
		Type:       EventTypeChatPersistFailed,
		ActorID:    "system",
		TargetType: "session",
		TargetID:   sessionID,
		Outcome:    OutcomeFailure,
		Detail:     fmt.Sprintf("nonce=%s attempts=%d", clientNonce, attempts),
	})
}
