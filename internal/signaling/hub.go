// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package signaling relays WebRTC negotiation and chat messages
// between the two participants of a room. Transport is WebSocket; the
// hub tracks live connections, the router enforces relay policy, and
// the fan-out adapter extends delivery across instances.
package signaling

import (
	"context"
	"sync"

	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/metrics"
	"github.com/useqring/qring/internal/models"
)

// Hub maintains the set of live connections keyed by endpoint ID and
// delivers envelopes to them. Lifecycle events flow through channels
// so connection handlers never touch hub state directly.
type Hub struct {
	clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// onDisconnect, when set, is invoked after a client is removed.
	// The router uses it to issue the implicit bye.
	onDisconnect func(endpointID string)
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// OnDisconnect registers the disconnect hook. Must be set before the
// hub runs.
func (h *Hub) OnDisconnect(fn func(endpointID string)) {
	h.onDisconnect = fn
}

// RunWithContext runs the hub until the context is cancelled. Designed
// for suture supervision; on shutdown every client is closed so the
// supervisor can restart the hub without orphaned connections.
//
// Lifecycle events take priority over shutdown re-checks so a client
// that disconnected before cancellation is always processed.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown check (non-blocking)
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: lifecycle events, blocking alongside shutdown
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.register(client)

		case client := <-h.Unregister:
			h.unregister(client)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	// A reconnecting endpoint replaces its old connection
	if old, ok := h.clients[client.endpointID]; ok && old != client {
		close(old.send)
	}
	h.clients[client.endpointID] = client
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
	logging.Info().
		Str("endpoint_id", client.endpointID).
		Int("total_clients", total).
		Msg("Signaling client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	removed := false
	if current, ok := h.clients[client.endpointID]; ok && current == client {
		delete(h.clients, client.endpointID)
		close(client.send)
		removed = true
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !removed {
		return
	}

	metrics.ActiveConnections.Set(float64(total))
	logging.Info().
		Str("endpoint_id", client.endpointID).
		Int("total_clients", total).
		Msg("Signaling client disconnected")

	if h.onDisconnect != nil {
		h.onDisconnect(client.endpointID)
	}
}

// shutdown closes every client. Context cancellation is expected
// behavior, so this logs at info without an error field.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	count := len(h.clients)
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	metrics.ActiveConnections.Set(0)
	logging.Info().
		Str("component", "signaling-hub").
		Str("reason", ctx.Err().Error()).
		Int("clients_closed", count).
		Msg("Signaling hub stopped")
}

// Send delivers an envelope to one endpoint. A full send queue drops
// the connection: a client that cannot drain its queue is effectively
// gone, and its disconnect handling will clean up after it.
func (h *Hub) Send(endpointID string, env *models.Envelope) bool {
	h.mu.RLock()
	client, ok := h.clients[endpointID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case client.send <- env:
		return true
	default:
		logging.Warn().
			Str("endpoint_id", endpointID).
			Msg("Send queue full, dropping connection")
		client.close()
		return false
	}
}

// Connected reports whether the endpoint has a live connection.
func (h *Hub) Connected(endpointID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[endpointID]
	return ok
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
