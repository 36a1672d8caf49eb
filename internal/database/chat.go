// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/useqring/qring/internal/models"
)

// InsertChatMessage durably writes a chat message. The UNIQUE(session_id,
// client_nonce) constraint with ON CONFLICT DO NOTHING makes retried
// persistence attempts idempotent: a conflicting retry is a success from
// the caller's point of view because the original write already landed.
func (db *DB) InsertChatMessage(ctx context.Context, m *models.ChatMessage, persistedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, sender_id, body, client_nonce, delivered_at, persisted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, client_nonce) DO NOTHING`,
		m.ID, m.SessionID, m.SenderID, m.Body, m.ClientNonce,
		m.DeliveredAt.UTC(), persistedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns the persisted messages of a session in delivery
// order, newest last.
func (db *DB) ListChatMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, session_id, sender_id, body, client_nonce, delivered_at, persisted_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY delivered_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.ChatMessage
	for rows.Next() {
		var (
			m           models.ChatMessage
			persistedAt time.Time
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Body,
			&m.ClientNonce, &m.DeliveredAt, &persistedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.PersistedAt = &persistedAt
		out = append(out, m)
	}
	return out, rows.Err()
}
