// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package session manages the visitor session lifecycle: a request
// created from a resolved token, a single homeowner decision, and the
// entry/exit bracket. Transitions are enforced by conditional updates
// in storage so concurrent actors cannot double-decide or re-enter.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/useqring/qring/internal/audit"
	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/database"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/metrics"
	"github.com/useqring/qring/internal/models"
)

// ErrDoorNotInScope indicates the requested door is not covered by the
// resolved token scope.
var ErrDoorNotInScope = errors.New("session: door not in token scope")

// Manager coordinates visitor session transitions.
type Manager struct {
	db    *database.DB
	cfg   *config.SessionConfig
	audit *audit.Logger
}

// NewManager creates a session manager.
func NewManager(db *database.DB, cfg *config.SessionConfig, auditLog *audit.Logger) *Manager {
	return &Manager{db: db, cfg: cfg, audit: auditLog}
}

// CreateRequest carries the inputs for a new visitor session.
type CreateRequest struct {
	Resolved        *models.ResolvedScope
	DoorID          string
	HomeownerID     string
	VisitorIdentity string
}

// CreateFromToken opens a session in the requested state for a door the
// resolved scope covers.
func (m *Manager) CreateFromToken(ctx context.Context, req CreateRequest) (*models.VisitorSession, error) {
	if !doorInScope(req.Resolved, req.DoorID) {
		return nil, ErrDoorNotInScope
	}

	s := &models.VisitorSession{
		ID:              uuid.NewString(),
		QRTokenID:       req.Resolved.TokenID,
		PropertyID:      req.Resolved.Scope.PropertyID,
		DoorID:          req.DoorID,
		HomeownerID:     req.HomeownerID,
		VisitorIdentity: req.VisitorIdentity,
		State:           models.SessionStateRequested,
		RequestedAt:     time.Now().UTC(),
	}

	if err := m.db.InsertSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if m.audit != nil {
		m.audit.SessionRequested(req.VisitorIdentity, s.ID)
	}
	metrics.RecordSessionTransition(string(models.SessionStateRequested))
	logging.Info().
		Str("session_id", s.ID).
		Str("door_id", s.DoorID).
		Str("homeowner_id", s.HomeownerID).
		Msg("Visitor session requested")

	return s, nil
}

func doorInScope(resolved *models.ResolvedScope, doorID string) bool {
	if resolved == nil {
		return false
	}
	for _, id := range resolved.Scope.DoorIDs {
		if id == doorID {
			return true
		}
	}
	return false
}

// Get returns a session by ID, applying the opportunistic decision
// timeout: an undecided session older than the configured window is
// cancelled on observation rather than by a background sweeper.
func (m *Manager) Get(ctx context.Context, id string) (*models.VisitorSession, error) {
	s, err := m.db.GetSession(ctx, id)
	if errors.Is(err, database.ErrNoRow) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if m.timedOut(s) {
		now := time.Now().UTC()
		if ok, cErr := m.db.CancelSession(ctx, id, now); cErr == nil && ok {
			s.State = models.SessionStateCancelled
			s.DecidedAt = &now
			if m.audit != nil {
				m.audit.SessionCancelled("system", id, "decision timeout")
			}
			logging.Info().Str("session_id", id).Msg("Session cancelled by decision timeout")
		}
	}

	return s, nil
}

// timedOut reports whether an undecided session exceeded the decision
// window. A zero window disables the timeout.
func (m *Manager) timedOut(s *models.VisitorSession) bool {
	if m.cfg == nil || m.cfg.DecisionTimeout <= 0 {
		return false
	}
	return s.State == models.SessionStateRequested &&
		time.Since(s.RequestedAt) > m.cfg.DecisionTimeout
}

// Decide records the homeowner's approve or reject decision. Exactly
// one decision is accepted; a second attempt in either direction
// returns ErrAlreadyDecided regardless of what the first one chose.
func (m *Manager) Decide(ctx context.Context, id, actorID string, approve bool, reason string) (*models.VisitorSession, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.HomeownerID != actorID {
		return nil, ErrNotAuthorized
	}

	target := models.SessionStateApproved
	if !approve {
		target = models.SessionStateRejected
	}

	now := time.Now().UTC()
	ok, err := m.db.DecideSession(ctx, id, target, now)
	if err != nil {
		return nil, fmt.Errorf("decide session: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyDecided
	}

	s.State = target
	s.DecidedAt = &now

	if m.audit != nil {
		m.audit.SessionDecided(actorID, id, approve, reason)
	}
	metrics.RecordSessionTransition(string(target))
	metrics.RecordSessionDecision(s.RequestedAt, now)
	logging.Info().
		Str("session_id", id).
		Bool("approved", approve).
		Msg("Session decided")

	return s, nil
}

// RecordEntry marks physical entry. Active is reachable only from
// approved; entry through any other state is refused.
func (m *Manager) RecordEntry(ctx context.Context, id, actorID string) (*models.VisitorSession, error) {
	now := time.Now().UTC()
	ok, err := m.db.EnterSession(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("record entry: %w", err)
	}
	if !ok {
		s, gErr := m.Get(ctx, id)
		if gErr != nil {
			return nil, gErr
		}
		switch s.State {
		case models.SessionStateActive, models.SessionStateCompleted:
			return nil, ErrInvalidTransition
		default:
			return nil, ErrNotApproved
		}
	}

	if m.audit != nil {
		m.audit.SessionEntered(actorID, id)
	}
	metrics.RecordSessionTransition(string(models.SessionStateActive))
	logging.Info().Str("session_id", id).Msg("Visitor entered")
	return m.Get(ctx, id)
}

// RecordExit marks physical exit and completes the session.
func (m *Manager) RecordExit(ctx context.Context, id, actorID string) (*models.VisitorSession, error) {
	now := time.Now().UTC()
	ok, err := m.db.ExitSession(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("record exit: %w", err)
	}
	if !ok {
		if _, gErr := m.Get(ctx, id); gErr != nil {
			return nil, gErr
		}
		return nil, ErrInvalidTransition
	}

	if m.audit != nil {
		m.audit.SessionExited(actorID, id)
	}
	metrics.RecordSessionTransition(string(models.SessionStateCompleted))
	logging.Info().Str("session_id", id).Msg("Visitor exited, session completed")
	return m.Get(ctx, id)
}

// Cancel withdraws a session before entry. Allowed from requested or
// approved; anything later or terminal is refused.
func (m *Manager) Cancel(ctx context.Context, id, actorID, reason string) (*models.VisitorSession, error) {
	now := time.Now().UTC()
	ok, err := m.db.CancelSession(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}
	if !ok {
		if _, gErr := m.Get(ctx, id); gErr != nil {
			return nil, gErr
		}
		return nil, ErrInvalidTransition
	}

	if m.audit != nil {
		m.audit.SessionCancelled(actorID, id, reason)
	}
	metrics.RecordSessionTransition(string(models.SessionStateCancelled))
	logging.Info().Str("session_id", id).Str("reason", reason).Msg("Session cancelled")
	return m.Get(ctx, id)
}
