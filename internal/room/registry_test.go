// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package room

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// fakeSessions serves session states from a map.
type fakeSessions struct {
	states map[string]models.SessionState
}

func (f *fakeSessions) Get(_ context.Context, id string) (*models.VisitorSession, error) {
	state, ok := f.states[id]
	if !ok {
		return nil, errors.New("session: not found")
	}
	return &models.VisitorSession{ID: id, State: state}, nil
}

func newTestRegistry(states map[string]models.SessionState) *Registry {
	return NewRegistry(&fakeSessions{states: states}, 0)
}

func TestJoinCreatesRoom(t *testing.T) {
	reg := newTestRegistry(map[string]models.SessionState{"s-1": models.SessionStateApproved})
	ctx := context.Background()

	r, err := reg.Join(ctx, "s-1", "visitor-1")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !r.Has("visitor-1") {
		t.Error("joined endpoint not a member")
	}
	if reg.Len() != 1 {
		t.Errorf("rooms = %d, want 1", reg.Len())
	}
}

func TestJoinThirdParticipantRejected(t *testing.T) {
	reg := newTestRegistry(map[string]models.SessionState{"s-1": models.SessionStateApproved})
	ctx := context.Background()

	if _, err := reg.Join(ctx, "s-1", "visitor-1"); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if _, err := reg.Join(ctx, "s-1", "owner-1"); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if _, err := reg.Join(ctx, "s-1", "intruder"); !errors.Is(err, ErrFull) {
		t.Errorf("third join err = %v, want ErrFull", err)
	}

	// Existing members are unaffected
	r, _ := reg.Get("s-1")
	if len(r.Participants()) != 2 {
		t.Errorf("participants = %d, want 2", len(r.Participants()))
	}
}

func TestJoinIdempotentForMember(t *testing.T) {
	reg := newTestRegistry(map[string]models.SessionState{"s-1": models.SessionStateApproved})
	ctx := context.Background()

	_, _ = reg.Join(ctx, "s-1", "visitor-1")
	r, err := reg.Join(ctx, "s-1", "visitor-1")
	if err != nil {
		t.Fatalf("re-join failed: %v", err)
	}
	if len(r.Participants()) != 1 {
		t.Errorf("participants = %d, want 1 after re-join", len(r.Participants()))
	}
}

func TestJoinTerminalSessionRejected(t *testing.T) {
	reg := newTestRegistry(map[string]models.SessionState{
		"s-done": models.SessionStateCompleted,
		"s-rej":  models.SessionStateRejected,
	})
	ctx := context.Background()

	for _, id := range []string{"s-done", "s-rej"} {
		if _, err := reg.Join(ctx, id, "visitor-1"); !errors.Is(err, ErrSessionNotActive) {
			t.Errorf("join %s err = %v, want ErrSessionNotActive", id, err)
		}
	}
}

func TestOneMembershipPerEndpoint(t *testing.T) {
	reg := newTestRegistry(map[string]models.SessionState{
		"s-1": models.SessionStateApproved,
		"s-2": models.SessionStateApproved,
	})
	ctx := context.Background()

	_, _ = reg.Join(ctx, "s-1", "visitor-1")
	_, _ = reg.Join(ctx, "s-2", "visitor-1")

	if r, ok := reg.RoomFor("visitor-1"); !ok || r.ID != "s-2" {
		t.Errorf("RoomFor = %v/%v, want room s-2", r, ok)
	}
	// The vacated room was the only-member room, so it is gone
	if _, err := reg.Get("s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old room err = %v, want ErrNotFound", err)
	}
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	reg := newTestRegistry(map[string]models.SessionState{"s-1": models.SessionStateApproved})
	ctx := context.Background()

	_, _ = reg.Join(ctx, "s-1", "visitor-1")
	_, _ = reg.Join(ctx, "s-1", "owner-1")

	empty, err := reg.Leave("s-1", "visitor-1")
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if empty {
		t.Error("room reported empty with one participant remaining")
	}

	empty, err = reg.Leave("s-1", "owner-1")
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if !empty {
		t.Error("room not destroyed after both left")
	}
	if reg.Len() != 0 {
		t.Errorf("rooms = %d, want 0", reg.Len())
	}
}

func TestCloseFiresCallback(t *testing.T) {
	reg := newTestRegistry(map[string]models.SessionState{"s-1": models.SessionStateApproved})
	ctx := context.Background()

	var gotRoom, gotReason string
	reg.OnClose(func(roomID, reason string) {
		gotRoom, gotReason = roomID, reason
	})

	_, _ = reg.Join(ctx, "s-1", "visitor-1")
	reg.Close("s-1", "peer timeout")

	if gotRoom != "s-1" || gotReason != "peer timeout" {
		t.Errorf("callback got (%s, %s), want (s-1, peer timeout)", gotRoom, gotReason)
	}
	if _, ok := reg.RoomFor("visitor-1"); ok {
		t.Error("endpoint still bound after room close")
	}
}

func TestIdleRoomReaped(t *testing.T) {
	reg := NewRegistry(&fakeSessions{states: map[string]models.SessionState{
		"s-1": models.SessionStateApproved,
		"s-2": models.SessionStateApproved,
	}}, 10*time.Millisecond)
	ctx := context.Background()

	_, _ = reg.Join(ctx, "s-1", "visitor-1")
	time.Sleep(20 * time.Millisecond)

	// The reap happens on the next registry access
	_, _ = reg.Join(ctx, "s-2", "owner-1")
	if _, err := reg.Get("s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("idle room err = %v, want ErrNotFound", err)
	}

	// Touch defers the reap
	r, _ := reg.Get("s-2")
	time.Sleep(8 * time.Millisecond)
	r.Touch()
	time.Sleep(5 * time.Millisecond)
	if _, err := reg.Get("s-2"); err != nil {
		t.Errorf("touched room reaped: %v", err)
	}
}
