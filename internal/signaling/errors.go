// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package signaling

import "errors"

var (
	// ErrRoomNotFound indicates the room no longer exists.
	ErrRoomNotFound = errors.New("signaling: room not found")

	// ErrNotAParticipant indicates the sender is not a member of the
	// room it is addressing.
	ErrNotAParticipant = errors.New("signaling: not a participant")

	// ErrStaleMessage indicates a sequence at or below the sender's
	// high-water mark. The message is dropped; the connection and the
	// rest of the stream are unaffected.
	ErrStaleMessage = errors.New("signaling: stale message")

	// ErrPeerTimeout indicates the second participant never joined
	// within the join window. The room is torn down.
	ErrPeerTimeout = errors.New("signaling: peer timeout")
)
