// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package database provides the relational store for QR tokens, visitor
// sessions, chat messages and audit events. Rooms and in-flight signaling
// state are deliberately never persisted here: a process restart drops
// active rooms and clients renegotiate.
//
// State transitions that must race safely (token consumption, session
// decisions) are expressed as conditional UPDATEs so the storage layer is
// the compare-and-swap arbiter. No lock is held across I/O.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/logging"
)

// DB wraps the SQLite connection and provides data access methods.
type DB struct {
	conn *sql.DB
}

// New opens the database, applies connection pragmas and initializes the
// schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpen
	if maxOpen <= 0 {
		maxOpen = 1
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{conn: conn}
	if err := db.migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("database ready")
	return db, nil
}

// NewMemory opens an in-memory database for tests.
func NewMemory() (*DB, error) {
	conn, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, err
	}
	// A single connection keeps the in-memory database alive and serializes
	// access the same way the WAL file store does.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
// Conn exposes the underlying connection pool for components that manage
// their own statements, such as the audit store.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive. Used by the readiness probe.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. All columns are defined in the initial
// CREATE TABLE statements; the schema is append-only across releases.
func (db *DB) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS qr_tokens (
			id             TEXT PRIMARY KEY,
			issuer_id      TEXT NOT NULL,
			property_id    TEXT NOT NULL,
			doors_csv      TEXT NOT NULL DEFAULT '',
			mode           TEXT NOT NULL DEFAULT 'direct',
			valid_from     TIMESTAMP NOT NULL,
			valid_until    TIMESTAMP NOT NULL,
			max_uses       INTEGER NOT NULL DEFAULT 1,
			remaining_uses INTEGER NOT NULL DEFAULT 1,
			state          TEXT NOT NULL DEFAULT 'active',
			created_at     TIMESTAMP NOT NULL,
			consumed_at    TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_qr_tokens_issuer ON qr_tokens(issuer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_qr_tokens_state ON qr_tokens(state)`,

		`CREATE TABLE IF NOT EXISTS visitor_sessions (
			id               TEXT PRIMARY KEY,
			qr_token_id      TEXT NOT NULL,
			property_id      TEXT NOT NULL,
			door_id          TEXT NOT NULL DEFAULT '',
			homeowner_id     TEXT NOT NULL,
			visitor_identity TEXT NOT NULL DEFAULT 'Visitor',
			state            TEXT NOT NULL DEFAULT 'requested',
			requested_at     TIMESTAMP NOT NULL,
			decided_at       TIMESTAMP,
			entered_at       TIMESTAMP,
			exited_at        TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_token ON visitor_sessions(qr_token_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_homeowner ON visitor_sessions(homeowner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_state ON visitor_sessions(state)`,

		`CREATE TABLE IF NOT EXISTS chat_messages (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			sender_id    TEXT NOT NULL,
			body         TEXT NOT NULL,
			client_nonce TEXT NOT NULL,
			delivered_at TIMESTAMP NOT NULL,
			persisted_at TIMESTAMP NOT NULL,
			UNIQUE(session_id, client_nonce)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id)`,

		`CREATE TABLE IF NOT EXISTS audit_events (
			id          TEXT PRIMARY KEY,
			event_type  TEXT NOT NULL,
			actor_id    TEXT NOT NULL DEFAULT '',
			target_type TEXT NOT NULL DEFAULT '',
			target_id   TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL DEFAULT 'success',
			detail      TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_events(target_type, target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at)`,
	}

	for _, q := range queries {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
