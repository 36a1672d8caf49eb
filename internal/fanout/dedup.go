// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package fanout

import "sync"

// dedupWindow remembers recently seen envelope keys so at-least-once
// redelivery from the backplane does not reach clients twice. Bounded
// FIFO: the oldest key is forgotten when the window is full, which is
// safe because redelivery happens close to first delivery.
type dedupWindow struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func newDedupWindow(limit int) *dedupWindow {
	if limit <= 0 {
		limit = 1024
	}
	return &dedupWindow{
		seen:  make(map[string]struct{}, limit),
		order: make([]string, 0, limit),
		limit: limit,
	}
}

// observe records a key and reports whether it was already present.
func (w *dedupWindow) observe(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[key]; dup {
		return true
	}

	if len(w.order) >= w.limit {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}

	w.seen[key] = struct{}{}
	w.order = append(w.order, key)
	return false
}
