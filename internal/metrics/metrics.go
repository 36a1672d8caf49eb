// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package metrics exposes Prometheus instrumentation for the token,
// session, signaling and fan-out paths.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Token lifecycle
	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qring_tokens_issued_total",
			Help: "Total number of QR tokens issued",
		},
	)

	TokenResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qring_token_resolutions_total",
			Help: "Total number of token resolve attempts by outcome",
		},
		[]string{"outcome"}, // "resolved", "consumed", "expired", "revoked", "not_found", "not_yet_valid"
	)

	// Session lifecycle
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qring_session_transitions_total",
			Help: "Total number of visitor session state transitions",
		},
		[]string{"to_state"},
	)

	SessionDecisionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qring_session_decision_seconds",
			Help:    "Time from session request to homeowner decision",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	// Signaling
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qring_signaling_rooms",
			Help: "Current number of live signaling rooms",
		},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qring_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	RelayedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qring_relayed_messages_total",
			Help: "Total number of relayed signaling messages by kind",
		},
		[]string{"kind"},
	)

	StaleMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qring_stale_messages_dropped_total",
			Help: "Total number of messages dropped for stale or duplicate sequence",
		},
	)

	BufferedMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qring_buffered_messages_dropped_total",
			Help: "Total number of pre-peer buffered messages dropped on overflow",
		},
	)

	PeerTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qring_peer_timeouts_total",
			Help: "Total number of rooms torn down because the peer never joined",
		},
	)

	// Fan-out backplane
	FanOutPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qring_fanout_published_total",
			Help: "Total number of envelopes published to the backplane",
		},
	)

	FanOutErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qring_fanout_errors_total",
			Help: "Total number of backplane publish failures",
		},
	)

	FanOutDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qring_fanout_deduplicated_total",
			Help: "Total number of redelivered envelopes dropped by the dedup window",
		},
	)

	// Chat persistence
	ChatPersistAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qring_chat_persist_attempts_total",
			Help: "Total number of chat persistence attempts by outcome",
		},
		[]string{"outcome"}, // "ok", "retry", "failed"
	)

	ChatPersistLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qring_chat_persist_seconds",
			Help:    "Time from chat delivery to durable write",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qring_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qring_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordTokenIssued increments the issued-token counter.
func RecordTokenIssued() {
	TokensIssued.Inc()
}

// RecordTokenResolution records a resolve attempt outcome.
func RecordTokenResolution(outcome string) {
	TokenResolutions.WithLabelValues(outcome).Inc()
}

// RecordSessionTransition records a session state change.
func RecordSessionTransition(toState string) {
	SessionTransitions.WithLabelValues(toState).Inc()
}

// RecordSessionDecision records the request-to-decision latency.
func RecordSessionDecision(requestedAt, decidedAt time.Time) {
	SessionDecisionLatency.Observe(decidedAt.Sub(requestedAt).Seconds())
}

// RecordRelayedMessage records one relayed signaling message.
func RecordRelayedMessage(kind string) {
	RelayedMessages.WithLabelValues(kind).Inc()
}

// RecordStaleDrop records a silently dropped stale message.
func RecordStaleDrop() {
	StaleMessagesDropped.Inc()
}

// RecordBufferDrop records an overflow drop from a pre-peer buffer.
func RecordBufferDrop() {
	BufferedMessagesDropped.Inc()
}

// RecordPeerTimeout records a join-timeout teardown.
func RecordPeerTimeout() {
	PeerTimeouts.Inc()
}

// RecordFanOutPublish records a successful backplane publish.
func RecordFanOutPublish() {
	FanOutPublished.Inc()
}

// RecordFanOutError records a backplane publish failure.
func RecordFanOutError() {
	FanOutErrors.Inc()
}

// RecordFanOutDedup records a redelivery dropped by the dedup window.
func RecordFanOutDedup() {
	FanOutDeduplicated.Inc()
}

// RecordChatPersist records one chat persistence attempt outcome.
func RecordChatPersist(outcome string) {
	ChatPersistAttempts.WithLabelValues(outcome).Inc()
}

// RecordChatPersistLatency records delivery-to-durability latency.
func RecordChatPersistLatency(deliveredAt, persistedAt time.Time) {
	ChatPersistLatency.Observe(persistedAt.Sub(deliveredAt).Seconds())
}

// RecordAPIRequest records an HTTP request with its latency.
func RecordAPIRequest(method, endpoint, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
