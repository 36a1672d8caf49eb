// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/useqring/qring/internal/audit"
	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/fanout"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/metrics"
	"github.com/useqring/qring/internal/models"
	"github.com/useqring/qring/internal/room"
)

// Deliverer sends an envelope to a locally connected endpoint.
// Satisfied by the Hub.
type Deliverer interface {
	Send(endpointID string, env *models.Envelope) bool
}

// ChatPersister accepts a chat message for durable storage. done is
// called once with the final outcome after retries are exhausted or
// the write succeeds. Satisfied by the chatlog service.
type ChatPersister interface {
	Persist(msg *models.ChatMessage, done func(error))
}

// roomState is the relay bookkeeping for one live room.
type roomState struct {
	seq         map[string]uint64 // sender -> highest sequence relayed
	buffer      []*models.Envelope
	remotePeers map[string]struct{} // participants living on other instances
	joinTimer   *time.Timer
	cancelSub   context.CancelFunc
}

// Router enforces relay policy: membership, per-sender ordering, the
// pre-peer buffer, the join timeout, and bye teardown. It never drops
// a connection over a bad message; at worst the message itself is
// refused.
type Router struct {
	cfg       *config.SignalingConfig
	rooms     *room.Registry
	deliver   Deliverer
	backplane fanout.Adapter
	chat      ChatPersister
	audit     *audit.Logger

	mu     sync.Mutex
	states map[string]*roomState

	// base context for per-room backplane subscriptions
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRouter creates a router. backplane and chat may be nil; the
// router then relays in-process only and reports chat persistence as
// unavailable.
func NewRouter(cfg *config.SignalingConfig, rooms *room.Registry, deliver Deliverer, backplane fanout.Adapter, chat ChatPersister, auditLog *audit.Logger) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:       cfg,
		rooms:     rooms,
		deliver:   deliver,
		backplane: backplane,
		chat:      chat,
		audit:     auditLog,
		states:    make(map[string]*roomState),
		ctx:       ctx,
		cancel:    cancel,
	}
	rooms.OnClose(r.onRoomClose)
	return r
}

// Close stops all backplane subscriptions.
func (r *Router) Close() {
	r.cancel()
}

// Join adds an endpoint to a session's room and arms the join timeout
// when it is the first one in.
func (r *Router) Join(ctx context.Context, sessionID, endpointID string) (*room.Room, error) {
	rm, err := r.rooms.Join(ctx, sessionID, endpointID)
	if err != nil {
		return nil, err
	}

	participants := rm.Participants()

	r.mu.Lock()
	st, fresh := r.ensureStateLocked(rm.ID)
	var subCtx context.Context
	if fresh && r.backplane != nil {
		var cancel context.CancelFunc
		subCtx, cancel = context.WithCancel(r.ctx)
		st.cancelSub = cancel
	}

	if len(participants)+len(st.remotePeers) < 2 {
		r.armJoinTimerLocked(st, rm.ID)
	} else if st.joinTimer != nil {
		st.joinTimer.Stop()
		st.joinTimer = nil
	}

	var flush []*models.Envelope
	if len(participants) == 2 {
		flush = st.buffer
		st.buffer = nil
	}
	r.mu.Unlock()

	metrics.ActiveRooms.Set(float64(r.rooms.Len()))

	// Attach to the backplane before announcing the join, so the remote
	// side's answer to the announcement cannot slip past us.
	if subCtx != nil {
		r.subscribeRemote(subCtx, rm.ID)
	}

	if len(participants) == 2 {
		r.notifyPeerPresence(rm, endpointID, models.KindPeerJoined)
		for _, env := range flush {
			r.deliver.Send(endpointID, env)
		}
	}

	r.publishPresence(rm.ID, endpointID, models.KindPeerJoined)

	return rm, nil
}

// ensureStateLocked returns the room's relay state, creating it on
// first access. Caller holds r.mu.
func (r *Router) ensureStateLocked(roomID string) (*roomState, bool) {
	if st, ok := r.states[roomID]; ok {
		return st, false
	}
	st := &roomState{seq: make(map[string]uint64)}
	r.states[roomID] = st
	return st, true
}

// armJoinTimerLocked starts the peer-wait countdown for a room holding
// a single participant. Caller holds r.mu.
func (r *Router) armJoinTimerLocked(st *roomState, roomID string) {
	if r.cfg.JoinTimeout <= 0 || st.joinTimer != nil {
		return
	}
	st.joinTimer = time.AfterFunc(r.cfg.JoinTimeout, func() {
		r.peerTimeout(roomID)
	})
}

// peerTimeout fires when the second participant never arrived, on this
// instance or any other: the lone participant is told, and the room is
// torn down.
func (r *Router) peerTimeout(roomID string) {
	rm, err := r.rooms.Get(roomID)
	if err != nil || len(rm.Participants()) >= 2 {
		return
	}

	r.mu.Lock()
	st, ok := r.states[roomID]
	if ok && len(st.remotePeers) > 0 {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	for _, id := range rm.Participants() {
		r.deliver.Send(id, &models.Envelope{
			RoomID:   roomID,
			SenderID: serverSender,
			Kind:     models.KindPeerTimeout,
		})
	}

	metrics.RecordPeerTimeout()
	if r.audit != nil {
		r.audit.PeerTimeout(roomID)
	}
	logging.Info().Str("room_id", roomID).Msg("Peer never joined, tearing room down")

	r.rooms.Close(roomID, "peer timeout")
}

// serverSender marks envelopes originated by the server itself.
const serverSender = "server"

// notifyPeerPresence tells the other participants about a join/leave.
func (r *Router) notifyPeerPresence(rm *room.Room, subjectID string, kind models.Kind) {
	payload, _ := json.Marshal(map[string]string{"endpoint_id": subjectID})
	for _, id := range rm.Participants() {
		if id == subjectID {
			continue
		}
		r.deliver.Send(id, &models.Envelope{
			RoomID:   rm.ID,
			SenderID: serverSender,
			Kind:     kind,
			Payload:  payload,
		})
	}
}

// HandleInbound applies relay policy to one client message.
func (r *Router) HandleInbound(env *models.Envelope) error {
	rm, err := r.rooms.Get(env.RoomID)
	if err != nil {
		return ErrRoomNotFound
	}
	if !rm.Has(env.SenderID) {
		return ErrNotAParticipant
	}

	// Bye ends the conversation regardless of sequence position.
	if env.Kind == models.KindBye {
		r.relayToPeer(rm, env)
		r.publishRemote(env)
		metrics.RecordRelayedMessage(string(env.Kind))
		r.rooms.Close(env.RoomID, "bye")
		return nil
	}

	if !r.advanceSequence(env) {
		metrics.RecordStaleDrop()
		return ErrStaleMessage
	}

	rm.Touch()
	metrics.RecordRelayedMessage(string(env.Kind))

	if env.Kind == models.KindChat {
		r.handleChat(env)
	}

	delivered := r.relayToPeer(rm, env)
	if !delivered && env.Kind.Bufferable() {
		r.bufferForPeer(env)
	}

	r.publishRemote(env)
	return nil
}

// advanceSequence enforces strictly increasing per-sender sequences.
// Returns false for stale or duplicate numbers.
func (r *Router) advanceSequence(env *models.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, _ := r.ensureStateLocked(env.RoomID)
	if env.Sequence <= st.seq[env.SenderID] {
		return false
	}
	st.seq[env.SenderID] = env.Sequence
	return true
}

// relayToPeer delivers an envelope to the sender's peer if one is
// present and locally connected.
func (r *Router) relayToPeer(rm *room.Room, env *models.Envelope) bool {
	peer, ok := rm.Peer(env.SenderID)
	if !ok {
		return false
	}
	return r.deliver.Send(peer, env)
}

// bufferForPeer holds a negotiation message for the peer that has not
// joined yet. The buffer is bounded; the oldest entry is dropped on
// overflow so the freshest candidates survive.
func (r *Router) bufferForPeer(env *models.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, _ := r.ensureStateLocked(env.RoomID)
	limit := r.cfg.BufferSize
	if limit <= 0 {
		limit = 64
	}
	if len(st.buffer) >= limit {
		st.buffer = st.buffer[1:]
		metrics.RecordBufferDrop()
	}
	st.buffer = append(st.buffer, env)
}

// publishRemote hands the envelope to the backplane. Failures degrade
// to in-process relay: the local peer already has the message.
func (r *Router) publishRemote(env *models.Envelope) {
	if r.backplane == nil {
		return
	}
	timeout := r.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()
	if err := r.backplane.Publish(ctx, env); err != nil {
		if errors.Is(err, fanout.ErrBackplaneUnavailable) {
			logging.Warn().Str("room_id", env.RoomID).Msg("Backplane unavailable, relaying in-process only")
			return
		}
		logging.Error().Err(err).Str("room_id", env.RoomID).Msg("Backplane publish failed")
	}
}

// subscribeRemote attaches the room to the backplane and feeds remote
// envelopes into local delivery for the lifetime of the room.
func (r *Router) subscribeRemote(ctx context.Context, roomID string) {
	ch, err := r.backplane.Subscribe(ctx, roomID)
	if err != nil {
		logging.Warn().Err(err).Str("room_id", roomID).Msg("Backplane subscribe failed")
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-ch:
				if !ok {
					return
				}
				r.deliverRemote(&env)
			}
		}
	}()
}

// deliverRemote relays a remote envelope to local participants other
// than its sender. A remote bye also closes the local room view.
// Presence envelopes never reach clients directly; they feed the
// remote roster, which decides the join timeout.
func (r *Router) deliverRemote(env *models.Envelope) {
	switch env.Kind {
	case models.KindPeerJoined:
		if rm, err := r.rooms.Get(env.RoomID); err == nil {
			r.observeRemotePeer(rm, env.SenderID)
		}
		return
	case models.KindPeerLeft:
		r.remotePeerLeft(env.RoomID, env.SenderID)
		return
	}

	rm, err := r.rooms.Get(env.RoomID)
	if err != nil {
		return
	}

	// Any envelope from a remote participant proves the peer exists,
	// even when its announcement was lost.
	if env.SenderID != serverSender {
		r.observeRemotePeer(rm, env.SenderID)
	}

	for _, id := range rm.Participants() {
		if id == env.SenderID {
			continue
		}
		r.deliver.Send(id, env)
	}

	if env.Kind == models.KindBye {
		r.rooms.Close(env.RoomID, "remote bye")
	}
}

// publishPresence announces a local join or leave to other instances.
// The wall-clock sequence keeps each announcement distinct on the
// backplane, whose redelivery identity is (room, sender, sequence).
func (r *Router) publishPresence(roomID, endpointID string, kind models.Kind) {
	if r.backplane == nil {
		return
	}
	r.publishRemote(&models.Envelope{
		RoomID:   roomID,
		SenderID: endpointID,
		Kind:     kind,
		Sequence: uint64(time.Now().UnixNano()),
	})
}

// observeRemotePeer handles first sight of a participant living on
// another instance: the join timer is disarmed, local participants get
// a peer-joined, and their own presence is announced back so the remote
// instance disarms its timer too. Repeat sightings are no-ops, which is
// what terminates the mutual announcements.
func (r *Router) observeRemotePeer(rm *room.Room, endpointID string) {
	if !r.noteRemotePeer(rm.ID, endpointID) {
		return
	}
	r.notifyPeerPresence(rm, endpointID, models.KindPeerJoined)
	for _, id := range rm.Participants() {
		r.publishPresence(rm.ID, id, models.KindPeerJoined)
	}
}

// noteRemotePeer records a remote participant and stops the join
// countdown. Returns false when the peer was already known or the room
// has no local state.
func (r *Router) noteRemotePeer(roomID, endpointID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[roomID]
	if !ok {
		return false
	}
	if _, seen := st.remotePeers[endpointID]; seen {
		return false
	}
	if st.remotePeers == nil {
		st.remotePeers = make(map[string]struct{})
	}
	st.remotePeers[endpointID] = struct{}{}
	if st.joinTimer != nil {
		st.joinTimer.Stop()
		st.joinTimer = nil
	}
	return true
}

// remotePeerLeft mirrors a disconnect that happened on another
// instance: local participants are told, and the room is torn down the
// same way a local leave tears it down.
func (r *Router) remotePeerLeft(roomID, endpointID string) {
	rm, err := r.rooms.Get(roomID)
	if err != nil {
		return
	}

	r.mu.Lock()
	if st, ok := r.states[roomID]; ok {
		delete(st.remotePeers, endpointID)
	}
	r.mu.Unlock()

	r.notifyPeerPresence(rm, endpointID, models.KindPeerLeft)
	r.rooms.Close(roomID, "remote peer left")
}

// handleChat hands a chat message to durable storage and reports the
// outcome back to the sender. Delivery to the peer happens regardless;
// this path only concerns durability.
func (r *Router) handleChat(env *models.Envelope) {
	var payload models.ChatPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		logging.Warn().Err(err).Str("room_id", env.RoomID).Msg("Undecodable chat payload")
		return
	}

	sender := env.SenderID
	roomID := env.RoomID

	if r.chat == nil {
		r.sendChatStatus(roomID, sender, payload.ClientNonce, false, "persistence unavailable")
		return
	}

	msg := &models.ChatMessage{
		ID:          uuid.NewString(),
		SessionID:   roomID,
		SenderID:    sender,
		Body:        payload.Body,
		ClientNonce: payload.ClientNonce,
		DeliveredAt: time.Now().UTC(),
	}

	r.chat.Persist(msg, func(err error) {
		if err != nil {
			r.sendChatStatus(roomID, sender, payload.ClientNonce, false, "storage failed")
			return
		}
		r.sendChatStatus(roomID, sender, payload.ClientNonce, true, "")
	})
}

// sendChatStatus tells the sending client whether its message became
// durable.
func (r *Router) sendChatStatus(roomID, endpointID, nonce string, persisted bool, detail string) {
	payload, _ := json.Marshal(models.ChatStatusPayload{
		ClientNonce: nonce,
		Persisted:   persisted,
		Detail:      detail,
	})
	r.deliver.Send(endpointID, &models.Envelope{
		RoomID:   roomID,
		SenderID: serverSender,
		Kind:     models.KindChatStatus,
		Payload:  payload,
	})
}

// Disconnect treats a dropped connection as an implicit bye: the peer
// is told, and the room is torn down.
func (r *Router) Disconnect(endpointID string) {
	rm, ok := r.rooms.RoomFor(endpointID)
	if !ok {
		return
	}

	r.notifyPeerPresence(rm, endpointID, models.KindPeerLeft)
	r.publishPresence(rm.ID, endpointID, models.KindPeerLeft)
	logging.Info().
		Str("room_id", rm.ID).
		Str("endpoint_id", endpointID).
		Msg("Endpoint disconnected, closing room")
	r.rooms.Close(rm.ID, "peer disconnected")
}

// onRoomClose drops the relay state when the registry destroys a room.
func (r *Router) onRoomClose(roomID, reason string) {
	r.mu.Lock()
	st, ok := r.states[roomID]
	if ok {
		if st.joinTimer != nil {
			st.joinTimer.Stop()
		}
		if st.cancelSub != nil {
			st.cancelSub()
		}
		delete(r.states, roomID)
	}
	r.mu.Unlock()

	metrics.ActiveRooms.Set(float64(r.rooms.Len()))
	if ok {
		logging.Debug().Str("room_id", roomID).Str("reason", reason).Msg("Relay state released")
	}
}
