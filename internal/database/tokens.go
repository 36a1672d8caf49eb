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
	"strings"
	"time"

	"github.com/useqring/qring/internal/models"
)

// ErrNoRow is returned by lookups when the record does not exist. Callers
// translate it into their component-level not-found error.
var ErrNoRow = errors.New("database: no such row")

// InsertToken persists a freshly issued token.
func (db *DB) InsertToken(ctx context.Context, t *models.QRToken) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO qr_tokens
			(id, issuer_id, property_id, doors_csv, mode, valid_from, valid_until,
			 max_uses, remaining_uses, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.IssuerID, t.Scope.PropertyID, strings.Join(t.Scope.DoorIDs, ","),
		t.Scope.Mode, t.Scope.ValidFrom.UTC(), t.Scope.ValidUntil.UTC(),
		t.Scope.MaxUses, t.RemainingUses, string(t.State), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetToken loads a token by ID.
func (db *DB) GetToken(ctx context.Context, id string) (*models.QRToken, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, issuer_id, property_id, doors_csv, mode, valid_from, valid_until,
		        max_uses, remaining_uses, state, created_at, consumed_at
		 FROM qr_tokens WHERE id = ?`, id)

	var (
		t          models.QRToken
		doorsCSV   string
		state      string
		consumedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.IssuerID, &t.Scope.PropertyID, &doorsCSV, &t.Scope.Mode,
		&t.Scope.ValidFrom, &t.Scope.ValidUntil, &t.Scope.MaxUses, &t.RemainingUses,
		&state, &t.CreatedAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	t.State = models.TokenState(state)
	t.Scope.DoorIDs = splitCSV(doorsCSV)
	if consumedAt.Valid {
		ts := consumedAt.Time
		t.ConsumedAt = &ts
	}
	return &t, nil
}

// ConsumeToken atomically spends one use of an active token. The UPDATE is
// the compare-and-swap: of N concurrent resolvers of a single-use token
// exactly one observes rowsAffected == 1. Consumed is reported true when
// this call performed the spend.
func (db *DB) ConsumeToken(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE qr_tokens
		 SET remaining_uses = remaining_uses - 1,
		     state = CASE WHEN remaining_uses <= 1 THEN 'consumed' ELSE state END,
		     consumed_at = CASE WHEN remaining_uses <= 1 THEN ? ELSE consumed_at END
		 WHERE id = ? AND state = 'active' AND remaining_uses > 0`,
		now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	return n == 1, nil
}

// ExpireToken transitions an active token to expired. Used by the lazy
// expiry check at resolve time; idempotent when the token already left
// the active state.
func (db *DB) ExpireToken(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE qr_tokens SET state = 'expired' WHERE id = ? AND state = 'active'`, id)
	if err != nil {
		return fmt.Errorf("expire token: %w", err)
	}
	return nil
}

// RevokeToken marks a token administratively dead. Allowed from active or
// expired; a consumed token is irreversible ground truth and is not
// touched. Revoked is reported true when this call changed the row.
func (db *DB) RevokeToken(ctx context.Context, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE qr_tokens SET state = 'revoked' WHERE id = ? AND state IN ('active', 'expired')`, id)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return n == 1, nil
}

// RevokeAllForIssuer revokes every non-terminal token owned by the issuer.
// Returns the number of tokens revoked.
func (db *DB) RevokeAllForIssuer(ctx context.Context, issuerID string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE qr_tokens SET state = 'revoked'
		 WHERE issuer_id = ? AND state IN ('active', 'expired')`, issuerID)
	if err != nil {
		return 0, fmt.Errorf("revoke tokens for issuer: %w", err)
	}
	return res.RowsAffected()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
