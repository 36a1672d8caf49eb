// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package fanout

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/models"
)

// LocalBus is the in-process fan-out used when no backplane is
// configured. It carries envelopes between subscribers of this process
// only, which is exactly the reach a single-instance deployment needs.
type LocalBus struct {
	pubsub     *gochannel.GoChannel
	instanceID string
	prefix     string
}

// NewLocalBus creates an in-process bus.
func NewLocalBus(subjectPrefix string) *LocalBus {
	return &LocalBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newWatermillLogger()),
		instanceID: uuid.NewString(),
		prefix:     subjectPrefix,
	}
}

// InstanceID identifies this process.
func (b *LocalBus) InstanceID() string {
	return b.instanceID
}

func (b *LocalBus) topic(roomID string) string {
	return b.prefix + "." + roomID
}

// Publish sends an envelope to in-process subscribers of the room.
func (b *LocalBus) Publish(ctx context.Context, env *models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(envelopeKey(env), data)
	msg.Metadata.Set(metaInstanceID, b.instanceID)

	if err := b.pubsub.Publish(b.topic(env.RoomID), msg); err != nil {
		return fmt.Errorf("%w: %v", ErrBackplaneUnavailable, err)
	}
	return nil
}

// Subscribe returns the stream of envelopes for one room. Own-instance
// echoes are skipped like on every other adapter: the publisher's local
// relay already delivered those, so forwarding them again would hand
// each participant a second copy.
func (b *LocalBus) Subscribe(ctx context.Context, roomID string) (<-chan models.Envelope, error) {
	msgs, err := b.pubsub.Subscribe(ctx, b.topic(roomID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackplaneUnavailable, err)
	}

	out := make(chan models.Envelope, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			if msg.Metadata.Get(metaInstanceID) == b.instanceID {
				msg.Ack()
				continue
			}

			var env models.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				logging.Warn().Err(err).Str("msg_id", msg.UUID).Msg("Dropping undecodable envelope")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down, closing all subscriber channels.
func (b *LocalBus) Close() error {
	return b.pubsub.Close()
}
