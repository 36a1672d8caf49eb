// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func testManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(&config.SecurityConfig{
		JWTSecret:      "test-secret-0123456789-0123456789",
		SessionTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(&config.SecurityConfig{}); err == nil {
		t.Error("empty secret accepted")
	}
}

func TestGenerateAndValidate(t *testing.T) {
	m := testManager(t, time.Hour)

	token, err := m.Generate("visitor-1", RoleVisitor)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.EndpointID != "visitor-1" || claims.Role != RoleVisitor {
		t.Errorf("claims = %s/%s, want visitor-1/visitor", claims.EndpointID, claims.Role)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	m := testManager(t, -time.Minute)
	token, err := m.Generate("visitor-1", RoleVisitor)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := m.Validate(token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	issuer := testManager(t, time.Hour)
	verifier, err := NewManager(&config.SecurityConfig{
		JWTSecret:      "a-different-secret-entirely-xxxxx",
		SessionTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, _ := issuer.Generate("visitor-1", RoleVisitor)
	if _, err := verifier.Validate(token); err == nil {
		t.Error("token signed with another secret accepted")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	m := testManager(t, time.Hour)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := m.Validate(tok); err == nil {
			t.Errorf("Validate(%q) accepted", tok)
		}
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	m := testManager(t, time.Hour)
	token, _ := m.Generate("owner-1", RoleHomeowner)

	var seen *Claims
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromContext(r.Context())
	}))

	t.Run("bearer header", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if seen == nil || seen.EndpointID != "owner-1" {
			t.Errorf("claims = %+v, want owner-1", seen)
		}
	})

	t.Run("query parameter fallback", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || seen == nil {
			t.Errorf("status = %d, claims = %+v", rec.Code, seen)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("mangled token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestRequireRole(t *testing.T) {
	m := testManager(t, time.Hour)
	visitorToken, _ := m.Generate("visitor-1", RoleVisitor)

	handler := m.Authenticate(RequireRole(RoleHomeowner, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-1/decision", nil)
	req.Header.Set("Authorization", "Bearer "+visitorToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for visitor on homeowner route", rec.Code)
	}
}
