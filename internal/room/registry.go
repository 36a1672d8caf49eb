// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package room tracks the in-memory signaling rooms. A room exists for
// exactly one visitor session and holds at most two participants: the
// visitor and the homeowner endpoint. Rooms are ephemeral; nothing
// here is persisted, and idle rooms are reaped opportunistically on
// access rather than by a background sweeper.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/models"
)

const maxParticipants = 2

var (
	// ErrNotFound indicates no room exists for the given ID.
	ErrNotFound = errors.New("room: not found")

	// ErrFull indicates the room already has two participants.
	ErrFull = errors.New("room: full")

	// ErrSessionNotActive indicates the backing session is terminal,
	// so no room may be opened for it.
	ErrSessionNotActive = errors.New("room: session not active")
)

// SessionChecker reports the current state of a visitor session.
// Satisfied by the session manager.
type SessionChecker interface {
	Get(ctx context.Context, id string) (*models.VisitorSession, error)
}

// Room is one signaling room. The mutex serializes membership changes;
// message relay takes the same lock through the registry so a join and
// a relay cannot interleave mid-membership-change.
type Room struct {
	ID        string
	SessionID string
	CreatedAt time.Time

	mu           sync.Mutex
	participants map[string]time.Time // endpointID -> joined at
	lastActive   time.Time
	closed       bool
}

// Participants returns the current member endpoint IDs.
func (r *Room) Participants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether the endpoint is a member.
func (r *Room) Has(endpointID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[endpointID]
	return ok
}

// Peer returns the other participant, if present.
func (r *Room) Peer(endpointID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.participants {
		if id != endpointID {
			return id, true
		}
	}
	return "", false
}

// Touch records activity, deferring the inactivity reap.
func (r *Room) Touch() {
	r.mu.Lock()
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *Room) idleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActive
}

// Registry owns the room set and the one-membership-per-endpoint
// invariant.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*Room // roomID -> room; roomID == sessionID
	byEndpoint map[string]string

	sessions   SessionChecker
	inactivity time.Duration

	// onClose, when set, is called outside the registry lock after a
	// room is removed. The signaling layer uses it to notify peers.
	onClose func(roomID, reason string)
}

// NewRegistry creates a registry. inactivity bounds how long a silent
// room survives; zero disables the bound.
func NewRegistry(sessions SessionChecker, inactivity time.Duration) *Registry {
	return &Registry{
		rooms:      make(map[string]*Room),
		byEndpoint: make(map[string]string),
		sessions:   sessions,
		inactivity: inactivity,
	}
}

// OnClose registers the teardown callback. Must be set before use.
func (g *Registry) OnClose(fn func(roomID, reason string)) {
	g.mu.Lock()
	g.onClose = fn
	g.mu.Unlock()
}

// Join adds an endpoint to the room for a session, creating the room on
// first join. Joining is idempotent for a current member. An endpoint
// holds at most one membership: joining a new room leaves the old one.
func (g *Registry) Join(ctx context.Context, sessionID, endpointID string) (*Room, error) {
	if g.sessions != nil {
		s, err := g.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s.State.Terminal() {
			return nil, ErrSessionNotActive
		}
	}

	var closedRoom string

	g.mu.Lock()
	g.reapLocked()

	// Implicit leave of any previous membership
	if prev, ok := g.byEndpoint[endpointID]; ok && prev != sessionID {
		if empty := g.leaveLocked(prev, endpointID); empty {
			closedRoom = prev
		}
	}

	r, ok := g.rooms[sessionID]
	if !ok {
		r = &Room{
			ID:           sessionID,
			SessionID:    sessionID,
			CreatedAt:    time.Now(),
			participants: make(map[string]time.Time, maxParticipants),
			lastActive:   time.Now(),
		}
		g.rooms[sessionID] = r
		logging.Debug().Str("room_id", sessionID).Msg("Room created")
	}

	r.mu.Lock()
	if _, member := r.participants[endpointID]; !member {
		if len(r.participants) >= maxParticipants {
			r.mu.Unlock()
			g.mu.Unlock()
			g.fireClose(closedRoom, "both participants left")
			return nil, ErrFull
		}
		r.participants[endpointID] = time.Now()
	}
	r.lastActive = time.Now()
	r.mu.Unlock()

	g.byEndpoint[endpointID] = sessionID
	g.mu.Unlock()

	g.fireClose(closedRoom, "both participants left")

	logging.Debug().
		Str("room_id", sessionID).
		Str("endpoint_id", endpointID).
		Msg("Endpoint joined room")
	return r, nil
}

// Leave removes an endpoint from a room. The room is destroyed when the
// last participant leaves; the boolean reports that destruction.
func (g *Registry) Leave(roomID, endpointID string) (bool, error) {
	g.mu.Lock()
	if _, ok := g.rooms[roomID]; !ok {
		g.mu.Unlock()
		return false, ErrNotFound
	}
	empty := g.leaveLocked(roomID, endpointID)
	g.mu.Unlock()

	if empty {
		g.fireClose(roomID, "both participants left")
	}
	return empty, nil
}

// leaveLocked removes a membership and destroys the room if it is now
// empty. Caller holds the registry lock.
func (g *Registry) leaveLocked(roomID, endpointID string) bool {
	r, ok := g.rooms[roomID]
	if !ok {
		return false
	}
	r.mu.Lock()
	delete(r.participants, endpointID)
	remaining := len(r.participants)
	r.mu.Unlock()

	if g.byEndpoint[endpointID] == roomID {
		delete(g.byEndpoint, endpointID)
	}

	if remaining == 0 {
		delete(g.rooms, roomID)
		logging.Debug().Str("room_id", roomID).Msg("Room destroyed")
		return true
	}
	return false
}

// Get returns a live room.
func (g *Registry) Get(roomID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reapLocked()
	r, ok := g.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// RoomFor returns the room an endpoint currently belongs to.
func (g *Registry) RoomFor(endpointID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.byEndpoint[endpointID]
	if !ok {
		return nil, false
	}
	r, ok := g.rooms[id]
	return r, ok
}

// Close tears a room down regardless of membership, e.g. on peer
// timeout or session termination.
func (g *Registry) Close(roomID, reason string) {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if ok {
		r.mu.Lock()
		for id := range r.participants {
			if g.byEndpoint[id] == roomID {
				delete(g.byEndpoint, id)
			}
		}
		r.participants = make(map[string]time.Time)
		r.closed = true
		r.mu.Unlock()
		delete(g.rooms, roomID)
	}
	g.mu.Unlock()

	if ok {
		logging.Debug().Str("room_id", roomID).Str("reason", reason).Msg("Room closed")
		g.fireClose(roomID, reason)
	}
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// reapLocked removes rooms idle past the inactivity bound. Caller
// holds the registry lock; close callbacks for reaped rooms fire from
// a goroutine to avoid calling out under the lock.
func (g *Registry) reapLocked() {
	if g.inactivity <= 0 {
		return
	}
	cutoff := time.Now().Add(-g.inactivity)
	for id, r := range g.rooms {
		if r.idleSince().After(cutoff) {
			continue
		}
		r.mu.Lock()
		for ep := range r.participants {
			if g.byEndpoint[ep] == id {
				delete(g.byEndpoint, ep)
			}
		}
		r.mu.Unlock()
		delete(g.rooms, id)
		logging.Debug().Str("room_id", id).Msg("Idle room reaped")
		if g.onClose != nil {
			go g.onClose(id, "inactivity")
		}
	}
}

// fireClose invokes the close callback outside the registry lock.
func (g *Registry) fireClose(roomID, reason string) {
	if roomID == "" {
		return
	}
	g.mu.Lock()
	fn := g.onClose
	g.mu.Unlock()
	if fn != nil {
		fn(roomID, reason)
	}
}
