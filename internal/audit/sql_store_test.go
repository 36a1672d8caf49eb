// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/useqring/qring/internal/database"
)

func setupSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db.Conn())
}

func TestSQLStoreRoundTrip(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	event := &Event{
		ID:         "e-1",
		Timestamp:  now,
		Type:       EventTypeSessionApproved,
		ActorID:    "owner-1",
		TargetType: "session",
		TargetID:   "s-1",
		Outcome:    OutcomeSuccess,
		Detail:     "front door",
	}
	if err := store.Save(ctx, event); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Query(ctx, QueryFilter{TargetID: "s-1", Limit: 10})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Type != EventTypeSessionApproved || got[0].Detail != "front door" {
		t.Errorf("got %+v, want approved/front door", got[0])
	}
}

func TestSQLStoreFilterAndRetention(t *testing.T) {
	store := setupSQLStore(t)
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour).UTC()
	_ = store.Save(ctx, &Event{ID: "e-old", Timestamp: old, Type: EventTypeTokenIssued, ActorID: "owner-1", Outcome: OutcomeSuccess})
	_ = store.Save(ctx, &Event{ID: "e-new", Timestamp: time.Now().UTC(), Type: EventTypeTokenRevoked, ActorID: "owner-1", Outcome: OutcomeSuccess})

	count, err := store.Count(ctx, QueryFilter{ActorID: "owner-1"})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	deleted, err := store.Delete(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	got, _ := store.Query(ctx, QueryFilter{Limit: 10})
	if len(got) != 1 || got[0].ID != "e-new" {
		t.Errorf("remaining = %+v, want only e-new", got)
	}
}
