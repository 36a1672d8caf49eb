// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package middleware holds the HTTP middleware shared by every route:
// request identity, metrics instrumentation and response compression.
package middleware

import (
	"net/http"

	"github.com/useqring/qring/internal/logging"
)

// RequestID assigns each request a unique ID, honoring one supplied by
// an upstream proxy, and exposes it in the response header and request
// context so logs and error responses can reference it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from a request's context.
func GetRequestID(r *http.Request) string {
	return logging.RequestIDFromContext(r.Context())
}
