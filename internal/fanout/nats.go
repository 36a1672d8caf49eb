// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/metrics"
	"github.com/useqring/qring/internal/models"
)

const embeddedReadyTimeout = 10 * time.Second

// NATSAdapter is the JetStream-backed fan-out. Envelopes are published
// to one subject per room under the configured prefix; the stream's
// duplicate window plus a subscriber-side dedup window defend against
// redelivery. A circuit breaker keeps a dead backplane from slowing
// the relay path down to connection timeouts.
type NATSAdapter struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	breaker    *gobreaker.CircuitBreaker[any]
	dedup      *dedupWindow
	instanceID string
	cfg        *config.NATSConfig
	embedded   *natsserver.Server
	wmLogger   watermill.LoggerAdapter
}

// NewNATSAdapter connects the JetStream backplane, starting an
// embedded server first when configured.
func NewNATSAdapter(cfg *config.NATSConfig) (*NATSAdapter, error) {
	a := &NATSAdapter{
		breaker:    newPublishBreaker(),
		dedup:      newDedupWindow(cfg.DedupWindow),
		instanceID: uuid.NewString(),
		cfg:        cfg,
		wmLogger:   newWatermillLogger(),
	}

	url := cfg.URL
	if cfg.EmbeddedServer {
		srv, err := startEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		a.embedded = srv
		url = srv.ClientURL()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Error().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, a.wmLogger)
	if err != nil {
		a.shutdownEmbedded()
		return nil, fmt.Errorf("create backplane publisher: %w", err)
	}
	a.publisher = pub

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.DeliverNew(),
			},
		},
	}, a.wmLogger)
	if err != nil {
		_ = pub.Close()
		a.shutdownEmbedded()
		return nil, fmt.Errorf("create backplane subscriber: %w", err)
	}
	a.subscriber = sub

	logging.Info().
		Str("url", url).
		Bool("embedded", cfg.EmbeddedServer).
		Str("instance_id", a.instanceID).
		Msg("Fan-out backplane connected")

	return a, nil
}

// startEmbeddedServer runs a NATS server with JetStream inside this
// process, for deployments that want cross-instance readiness without
// operating a separate broker.
func startEmbeddedServer(cfg *config.NATSConfig) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		JetStream: true,
		StoreDir:  cfg.StoreDir,
		Port:      -1, // random port, reached via ClientURL
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(embeddedReadyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready after %s", embeddedReadyTimeout)
	}
	logging.Info().Str("url", srv.ClientURL()).Msg("Embedded NATS server started")
	return srv, nil
}

// newPublishBreaker trips after consecutive publish failures so the
// relay path fails fast while the backplane is down.
func newPublishBreaker() *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "fanout-publish",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Fan-out circuit breaker state change")
		},
	})
}

// InstanceID identifies this process on the backplane.
func (a *NATSAdapter) InstanceID() string {
	return a.instanceID
}

func (a *NATSAdapter) topic(roomID string) string {
	return a.cfg.SubjectPrefix + "." + roomID
}

// Publish sends an envelope to the room's subject. The envelope key
// doubles as the JetStream message ID, so the broker's duplicate
// window drops publish retries.
func (a *NATSAdapter) Publish(ctx context.Context, env *models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(envelopeKey(env), data)
	msg.Metadata.Set(metaInstanceID, a.instanceID)
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)

	_, err = a.breaker.Execute(func() (any, error) {
		return nil, a.publisher.Publish(a.topic(env.RoomID), msg)
	})
	if err != nil {
		metrics.RecordFanOutError()
		return fmt.Errorf("%w: %v", ErrBackplaneUnavailable, err)
	}
	metrics.RecordFanOutPublish()
	return nil
}

// Subscribe consumes the room's subject, skipping own-instance echoes
// and redeliveries within the dedup window.
func (a *NATSAdapter) Subscribe(ctx context.Context, roomID string) (<-chan models.Envelope, error) {
	msgs, err := a.subscriber.Subscribe(ctx, a.topic(roomID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackplaneUnavailable, err)
	}

	out := make(chan models.Envelope, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			if msg.Metadata.Get(metaInstanceID) == a.instanceID {
				msg.Ack()
				continue
			}

			var env models.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				logging.Warn().Err(err).Str("msg_id", msg.UUID).Msg("Dropping undecodable envelope")
				msg.Ack()
				continue
			}

			if a.dedup.observe(envelopeKey(&env)) {
				metrics.RecordFanOutDedup()
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

// Close releases the transport and stops the embedded server if one
// was started.
func (a *NATSAdapter) Close() error {
	var firstErr error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if a.subscriber != nil {
		if err := a.subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.shutdownEmbedded()
	return firstErr
}

func (a *NATSAdapter) shutdownEmbedded() {
	if a.embedded != nil {
		a.embedded.Shutdown()
		a.embedded.WaitForShutdown()
	}
}
