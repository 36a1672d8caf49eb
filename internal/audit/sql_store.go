// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLStore implements Store backed by the shared SQLite database.
// Events survive restarts and are queryable alongside the session and
// token tables they describe.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates an audit store over an existing connection pool.
// The audit_events table is created by the database migration.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Save persists an audit event.
func (s *SQLStore) Save(ctx context.Context, event *Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, event_type, actor_id, target_type, target_id, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.ActorID, event.TargetType,
		event.TargetID, string(event.Outcome), event.Detail, event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save audit event: %w", err)
	}
	return nil
}

// Query retrieves events matching the filter, newest first.
func (s *SQLStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	where, args := buildWhere(&filter)

	query := "SELECT id, event_type, actor_id, target_type, target_id, outcome, detail, created_at FROM audit_events" +
		where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType, outcome string
		if err := rows.Scan(&e.ID, &eventType, &e.ActorID, &e.TargetType,
			&e.TargetID, &outcome, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = EventType(eventType)
		e.Outcome = Outcome(outcome)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of events matching the filter.
func (s *SQLStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	where, args := buildWhere(&filter)

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}

// Delete removes events older than the given time.
func (s *SQLStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE created_at < ?", olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	return res.RowsAffected()
}

// buildWhere constructs the WHERE clause and arguments for a filter.
func buildWhere(filter *QueryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Outcomes) > 0 {
		placeholders := make([]string, len(filter.Outcomes))
		for i, o := range filter.Outcomes {
			placeholders[i] = "?"
			args = append(args, string(o))
		}
		conds = append(conds, "outcome IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.TargetType != "" {
		conds = append(conds, "target_type = ?")
		args = append(args, filter.TargetType)
	}
	if filter.TargetID != "" {
		conds = append(conds, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if filter.StartTime != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.EndTime.UTC())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
