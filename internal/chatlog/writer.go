// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package chatlog makes delivered chat messages durable. Writes happen
// off the relay path on a background worker with bounded retries, so a
// slow or broken database never delays message delivery. The caller
// learns the durability outcome through a completion callback.
package chatlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/useqring/qring/internal/audit"
	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/metrics"
	"github.com/useqring/qring/internal/models"
)

// ErrQueueFull reports that the persistence queue cannot accept more
// work. Delivery is unaffected; only durability is declined.
var ErrQueueFull = errors.New("chatlog: persistence queue full")

// ErrStopped reports that the writer is no longer running.
var ErrStopped = errors.New("chatlog: writer stopped")

// ErrRetriesExhausted reports that every write attempt failed. It wraps
// the last storage error so callers can branch on the outcome without
// string-matching driver errors.
var ErrRetriesExhausted = errors.New("chatlog: retries exhausted")

// Store is the durable backend for chat messages. Satisfied by
// *database.DB, whose nonce constraint makes retried inserts
// idempotent.
type Store interface {
	InsertChatMessage(ctx context.Context, m *models.ChatMessage, persistedAt time.Time) error
}

// job pairs a message with its completion callback.
type job struct {
	msg  *models.ChatMessage
	done func(error)
}

// Writer is the background persistence worker. It implements
// suture.Service via Serve and the signaling router's ChatPersister
// via Persist.
type Writer struct {
	store Store
	cfg   *config.ChatConfig
	audit *audit.Logger

	jobs chan job

	mu      sync.Mutex
	stopped bool
}

// NewWriter creates a writer. auditLog may be nil.
func NewWriter(store Store, cfg *config.ChatConfig, auditLog *audit.Logger) *Writer {
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 256
	}
	return &Writer{
		store: store,
		cfg:   cfg,
		audit: auditLog,
		jobs:  make(chan job, queue),
	}
}

// Persist enqueues a message for durable storage. done is called
// exactly once, possibly on the worker goroutine, with nil on success
// or the final error after retries are exhausted. A full queue fails
// immediately rather than blocking the relay path.
func (w *Writer) Persist(msg *models.ChatMessage, done func(error)) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		done(ErrStopped)
		return
	}
	w.mu.Unlock()

	select {
	case w.jobs <- job{msg: msg, done: done}:
	default:
		metrics.RecordChatPersist("rejected")
		logging.Warn().
			Str("session_id", msg.SessionID).
			Msg("Chat persistence queue full, declining durability")
		done(ErrQueueFull)
	}
}

// String identifies the service in suture's log messages.
func (w *Writer) String() string {
	return "chatlog-writer"
}

// Serve runs the worker until the context is cancelled, then drains
// whatever is already queued. Designed for suture supervision.
func (w *Writer) Serve(ctx context.Context) error {
	logging.Info().
		Int("queue_size", cap(w.jobs)).
		Int("max_retries", w.cfg.MaxRetries).
		Msg("Chat log writer started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			logging.Info().Msg("Chat log writer stopped")
			return ctx.Err()
		case j := <-w.jobs:
			w.process(ctx, j)
		}
	}
}

// drain rejects queued work during shutdown so no callback is lost.
func (w *Writer) drain() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	for {
		select {
		case j := <-w.jobs:
			j.done(ErrStopped)
		default:
			return
		}
	}
}

// process attempts the durable write with exponential backoff. The
// nonce constraint in the store makes a retry after an ambiguous
// failure safe.
func (w *Writer) process(ctx context.Context, j job) {
	var lastErr error
	attempts := w.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if !w.sleep(ctx, w.backoff(attempt)) {
				j.done(ErrStopped)
				return
			}
		}

		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.store.InsertChatMessage(writeCtx, j.msg, time.Now().UTC())
		cancel()
		if err == nil {
			metrics.RecordChatPersist("success")
			metrics.RecordChatPersistLatency(j.msg.DeliveredAt, time.Now().UTC())
			j.done(nil)
			return
		}
		lastErr = err
		logging.Warn().Err(err).
			Str("session_id", j.msg.SessionID).
			Int("attempt", attempt+1).
			Msg("Chat persistence attempt failed")
	}

	metrics.RecordChatPersist("failure")
	if w.audit != nil {
		w.audit.ChatPersistFailed(j.msg.SessionID, j.msg.ClientNonce, attempts)
	}
	logging.Error().Err(lastErr).
		Str("session_id", j.msg.SessionID).
		Msg("Chat message not persisted, retries exhausted")
	j.done(fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr))
}

// backoff doubles per attempt from the configured base, capped.
func (w *Writer) backoff(attempt int) time.Duration {
	base := w.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << (attempt - 1)
	if limit := w.cfg.BackoffCap; limit > 0 && d > limit {
		d = limit
	}
	return d
}

// sleep waits for d unless the context ends first.
func (w *Writer) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
