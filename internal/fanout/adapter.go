// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package fanout moves signaling envelopes between instances so two
// participants of the same room can signal through different servers.
// The NATS JetStream adapter is the production backplane; the local bus
// serves single-instance deployments and is the degradation target when
// the backplane is unavailable. The relay path never blocks on the
// backplane: a failed publish affects only remote participants.
package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/useqring/qring/internal/models"
)

// metaInstanceID marks each published message with the origin process
// so subscribers can skip their own echoes.
const metaInstanceID = "instance_id"

// ErrBackplaneUnavailable indicates the cross-instance publish could
// not be attempted or completed. Local delivery is unaffected; callers
// log and continue.
var ErrBackplaneUnavailable = errors.New("fanout: backplane unavailable")

// Adapter is the cross-instance fan-out transport.
type Adapter interface {
	// Publish sends an envelope to all other instances hosting the
	// room. Returns ErrBackplaneUnavailable when the transport is
	// down; the caller's local relay has already happened.
	Publish(ctx context.Context, env *models.Envelope) error

	// Subscribe returns the stream of remote envelopes for one room.
	// The channel closes when ctx is cancelled. Envelopes published by
	// this instance are filtered out, as are redeliveries already seen
	// within the dedup window.
	Subscribe(ctx context.Context, roomID string) (<-chan models.Envelope, error)

	// InstanceID identifies this process on the backplane.
	InstanceID() string

	// Close releases the transport.
	Close() error
}

// envelopeKey is the identity of an envelope for deduplication. A
// redelivered envelope carries the same (room, sender, sequence) triple.
func envelopeKey(env *models.Envelope) string {
	return fmt.Sprintf("%s:%s:%d", env.RoomID, env.SenderID, env.Sequence)
}
