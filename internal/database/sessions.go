// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/useqring/qring/internal/models"
)

// InsertSession persists a newly requested visitor session.
func (db *DB) InsertSession(ctx context.Context, s *models.VisitorSession) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO visitor_sessions
			(id, qr_token_id, property_id, door_id, homeowner_id, visitor_identity, state, requested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.QRTokenID, s.PropertyID, s.DoorID, s.HomeownerID,
		s.VisitorIdentity, string(s.State), s.RequestedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads a session by ID.
func (db *DB) GetSession(ctx context.Context, id string) (*models.VisitorSession, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, qr_token_id, property_id, door_id, homeowner_id, visitor_identity,
		        state, requested_at, decided_at, entered_at, exited_at
		 FROM visitor_sessions WHERE id = ?`, id)

	var (
		s                            models.VisitorSession
		state                        string
		decidedAt, enteredAt, exited sql.NullTime
	)
	err := row.Scan(&s.ID, &s.QRTokenID, &s.PropertyID, &s.DoorID, &s.HomeownerID,
		&s.VisitorIdentity, &state, &s.RequestedAt, &decidedAt, &enteredAt, &exited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	s.State = models.SessionState(state)
	if decidedAt.Valid {
		ts := decidedAt.Time
		s.DecidedAt = &ts
	}
	if enteredAt.Valid {
		ts := enteredAt.Time
		s.EnteredAt = &ts
	}
	if exited.Valid {
		ts := exited.Time
		s.ExitedAt = &ts
	}
	return &s, nil
}

// DecideSession atomically records the one permitted decision for a session
// in the requested state. Decided reports whether this call won the race;
// a false result with a nil error means the session was no longer in the
// requested state.
func (db *DB) DecideSession(ctx context.Context, id string, to models.SessionState, now time.Time) (bool, error) {
	if to != models.SessionStateApproved && to != models.SessionStateRejected {
		return false, fmt.Errorf("decide session: invalid target state %q", to)
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE visitor_sessions SET state = ?, decided_at = ?
		 WHERE id = ? AND state = 'requested'`,
		string(to), now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("decide session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide session: %w", err)
	}
	return n == 1, nil
}

// EnterSession transitions approved -> active, setting entered_at exactly
// once. Entered reports whether this call performed the transition.
func (db *DB) EnterSession(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE visitor_sessions SET state = 'active', entered_at = ?
		 WHERE id = ? AND state = 'approved' AND entered_at IS NULL`,
		now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("enter session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enter session: %w", err)
	}
	return n == 1, nil
}

// ExitSession transitions active -> completed, setting exited_at exactly once.
func (db *DB) ExitSession(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE visitor_sessions SET state = 'completed', exited_at = ?
		 WHERE id = ? AND state = 'active' AND exited_at IS NULL`,
		now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("exit session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("exit session: %w", err)
	}
	return n == 1, nil
}

// CancelSession transitions requested|approved -> cancelled. Used both for
// explicit cancellation and for the opportunistic decision-timeout policy.
func (db *DB) CancelSession(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE visitor_sessions SET state = 'cancelled', decided_at = COALESCE(decided_at, ?)
		 WHERE id = ? AND state IN ('requested', 'approved')`,
		now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("cancel session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel session: %w", err)
	}
	return n == 1, nil
}
