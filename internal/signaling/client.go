// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // SDP offers stay well under this
)

// Client is one endpoint's WebSocket connection. Inbound envelopes go
// to the router; outbound envelopes arrive on the send queue from the
// hub. Closing the connection counts as an implicit bye for whatever
// room the endpoint occupies.
type Client struct {
	endpointID string
	hub        *Hub
	router     *Router
	conn       *websocket.Conn
	send       chan *models.Envelope
	closeOnce  sync.Once
}

// NewClient wraps an upgraded connection for an endpoint.
func NewClient(hub *Hub, router *Router, conn *websocket.Conn, endpointID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Client{
		endpointID: endpointID,
		hub:        hub,
		router:     router,
		conn:       conn,
		send:       make(chan *models.Envelope, sendQueueSize),
	}
}

// EndpointID returns the endpoint this connection authenticated as.
func (c *Client) EndpointID() string {
	return c.endpointID
}

// close shuts the underlying connection, unblocking both pumps.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// readPump pumps envelopes from the connection to the router.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("Failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("endpoint_id", c.endpointID).Msg("Unexpected websocket close")
			}
			break
		}

		env.SenderID = c.endpointID
		if err := c.router.HandleInbound(&env); err != nil {
			// Stale drops are part of normal operation; everything
			// else is reported but never fatal to the connection.
			if !errors.Is(err, ErrStaleMessage) {
				logging.Warn().Err(err).
					Str("endpoint_id", c.endpointID).
					Str("room_id", env.RoomID).
					Str("kind", string(env.Kind)).
					Msg("Inbound message refused")
			}
		}
	}
}

// writePump pumps envelopes from the send queue to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(env); err != nil {
				logging.Error().Err(err).Str("endpoint_id", c.endpointID).Msg("Failed to write envelope")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
