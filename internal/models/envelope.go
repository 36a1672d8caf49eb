// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package models

import "github.com/goccy/go-json"

// Kind identifies the type of a realtime message.
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindIceCandidate Kind = "ice-candidate"
	KindBye          Kind = "bye"
	KindChat         Kind = "chat"

	// Server-originated kinds, delivered on the same channel.
	KindPeerJoined  Kind = "peer-joined"
	KindPeerLeft    Kind = "peer-left"
	KindPeerTimeout Kind = "peer-timeout"
	KindChatStatus  Kind = "chat-status"
	KindControl     Kind = "control"
)

// Signaling reports whether the kind takes part in WebRTC negotiation.
func (k Kind) Signaling() bool {
	switch k {
	case KindOffer, KindAnswer, KindIceCandidate, KindBye:
		return true
	}
	return false
}

// Bufferable reports whether a message of this kind may be held for a peer
// that has not joined yet. Offers and ICE candidates are buffered so the
// initiator can start negotiating before the callee connects; answers and
// byes are meaningless without a live peer.
func (k Kind) Bufferable() bool {
	return k == KindOffer || k == KindIceCandidate
}

// Envelope is the wire format of every message on the signaling channel.
// Payload is an opaque SDP/ICE/chat blob the server relays untouched.
// Sequence is monotonic per sender within a room.
type Envelope struct {
	RoomID   string          `json:"room_id"`
	SenderID string          `json:"sender_id"`
	Kind     Kind            `json:"kind"`
	Sequence uint64          `json:"sequence"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ChatPayload is the decoded payload of a chat envelope.
type ChatPayload struct {
	Body        string `json:"body"`
	ClientNonce string `json:"client_nonce"`
	DisplayName string `json:"display_name,omitempty"`
}

// ChatStatusPayload informs the sending client about the durability outcome
// of a chat message. Delivery already happened; this is a storage signal.
type ChatStatusPayload struct {
	ClientNonce string `json:"client_nonce"`
	Persisted   bool   `json:"persisted"`
	Detail      string `json:"detail,omitempty"`
}
