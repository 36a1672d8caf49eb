// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/useqring/qring/internal/audit"
	"github.com/useqring/qring/internal/auth"
	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/database"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/room"
	"github.com/useqring/qring/internal/session"
	"github.com/useqring/qring/internal/signaling"
	"github.com/useqring/qring/internal/token"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

type testEnv struct {
	cfg      *config.Config
	db       *database.DB
	handler  *Handler
	server   *httptest.Server
	jwt      *auth.Manager
	sessions *session.Manager
	hub      *signaling.Hub
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080, Timeout: 30 * time.Second},
		Signaling: config.SignalingConfig{
			JoinTimeout:       30 * time.Second,
			InactivityTimeout: 5 * time.Minute,
			BufferSize:        16,
			SendQueueSize:     32,
		},
		ICE: config.ICEConfig{
			Servers: []config.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
		},
		Directory: config.DirectoryConfig{
			Doors: []config.DoorEntry{{
				PropertyID:  "prop-1",
				DoorID:      "door-front",
				DoorName:    "Front Door",
				HomeID:      "home-1",
				HomeownerID: "owner-1",
			}},
		},
		Security: config.SecurityConfig{
			JWTSecret:       "integration-test-secret-0123456789",
			SessionTimeout:  time.Hour,
			RateLimitReqs:   10000,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testConfig()
	db, err := database.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	auditStore := audit.NewMemoryStore(1000)
	auditLog := audit.NewLogger(auditStore, &audit.Config{Enabled: true, BufferSize: 64})
	t.Cleanup(func() { _ = auditLog.Close() })

	dir := token.NewStaticDirectory(cfg.Directory)
	tokens := token.NewStore(db, dir, auditLog)
	sessions := session.NewManager(db, &cfg.Session, auditLog)

	jwtManager, err := auth.NewManager(&cfg.Security)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	hub := signaling.NewHub()
	rooms := room.NewRegistry(sessions, cfg.Signaling.InactivityTimeout)
	signalRouter := signaling.NewRouter(&cfg.Signaling, rooms, hub, nil, nil, auditLog)
	t.Cleanup(signalRouter.Close)
	hub.OnDisconnect(signalRouter.Disconnect)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.RunWithContext(ctx) }()
	t.Cleanup(cancel)

	handler := NewHandler(cfg, db, tokens, sessions, dir, jwtManager, hub, signalRouter, auditStore)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return &testEnv{
		cfg:      cfg,
		db:       db,
		handler:  handler,
		server:   server,
		jwt:      jwtManager,
		sessions: sessions,
		hub:      hub,
	}
}

func (e *testEnv) bearerFor(t *testing.T, endpointID, role string) string {
	t.Helper()
	tok, err := e.jwt.Generate(endpointID, role)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return tok
}

// do performs a request and decodes the envelope.
func (e *testEnv) do(t *testing.T, method, path, bearer string, body interface{}) (int, *APIResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	var envelope APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp.StatusCode, &envelope
}

func validIssueBody() map[string]interface{} {
	now := time.Now().UTC()
	return map[string]interface{}{
		"property_id": "prop-1",
		"door_ids":    []string{"door-front"},
		"mode":        "direct",
		"valid_from":  now.Add(-time.Minute).Format(time.RFC3339),
		"valid_until": now.Add(time.Hour).Format(time.RFC3339),
		"max_uses":    1,
	}
}

func dataField(t *testing.T, envelope *APIResponse, key string) interface{} {
	t.Helper()
	data, ok := envelope.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Data = %T, want object", envelope.Data)
	}
	return data[key]
}

func TestIssueRequiresHomeowner(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/v1/qr", "", validIssueBody())
	if status != http.StatusUnauthorized {
		t.Errorf("unauthenticated issue status = %d, want 401", status)
	}

	visitor := env.bearerFor(t, "visitor:v1", auth.RoleVisitor)
	status, _ = env.do(t, http.MethodPost, "/api/v1/qr", visitor, validIssueBody())
	if status != http.StatusForbidden {
		t.Errorf("visitor issue status = %d, want 403", status)
	}
}

func TestIssueValidation(t *testing.T) {
	env := newTestEnv(t)
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)

	body := validIssueBody()
	body["mode"] = "sideways"
	status, envelope := env.do(t, http.MethodPost, "/api/v1/qr", owner, body)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeValidation {
		t.Errorf("error = %+v, want VALIDATION_ERROR", envelope.Error)
	}
}

func TestIssueResolveRevokeFlow(t *testing.T) {
	env := newTestEnv(t)
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)

	status, envelope := env.do(t, http.MethodPost, "/api/v1/qr", owner, validIssueBody())
	if status != http.StatusCreated {
		t.Fatalf("issue status = %d: %+v", status, envelope.Error)
	}
	tokenID, _ := dataField(t, envelope, "id").(string)
	if tokenID == "" {
		t.Fatal("issued token has no id")
	}

	// Resolution needs no credential: the QR token is the credential
	status, envelope = env.do(t, http.MethodPost, "/api/v1/qr/"+tokenID+"/resolve", "", nil)
	if status != http.StatusOK {
		t.Fatalf("resolve status = %d: %+v", status, envelope.Error)
	}
	if tok, _ := dataField(t, envelope, "session_token").(string); tok == "" {
		t.Error("resolve response missing visitor credential")
	}

	// Single use: second scan conflicts
	status, envelope = env.do(t, http.MethodPost, "/api/v1/qr/"+tokenID+"/resolve", "", nil)
	if status != http.StatusConflict || envelope.Error.Code != ErrCodeTokenConsumed {
		t.Errorf("second resolve = %d/%v, want 409 TOKEN_CONSUMED", status, envelope.Error)
	}
}

func TestRevokeThenResolve(t *testing.T) {
	env := newTestEnv(t)
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)

	_, envelope := env.do(t, http.MethodPost, "/api/v1/qr", owner, validIssueBody())
	tokenID, _ := dataField(t, envelope, "id").(string)

	status, _ := env.do(t, http.MethodDelete, "/api/v1/qr/"+tokenID, owner, nil)
	if status != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want 204", status)
	}

	status, envelope = env.do(t, http.MethodPost, "/api/v1/qr/"+tokenID+"/resolve", "", nil)
	if status != http.StatusGone || envelope.Error.Code != ErrCodeTokenRevoked {
		t.Errorf("resolve revoked = %d/%v, want 410 TOKEN_REVOKED", status, envelope.Error)
	}
}

func TestRevokeByOtherIssuer(t *testing.T) {
	env := newTestEnv(t)
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)
	other := env.bearerFor(t, "owner-2", auth.RoleHomeowner)

	_, envelope := env.do(t, http.MethodPost, "/api/v1/qr", owner, validIssueBody())
	tokenID, _ := dataField(t, envelope, "id").(string)

	status, envelope := env.do(t, http.MethodDelete, "/api/v1/qr/"+tokenID, other, nil)
	if status != http.StatusForbidden {
		t.Errorf("foreign revoke = %d/%v, want 403", status, envelope.Error)
	}
}

func TestRevokeAllTokens(t *testing.T) {
	env := newTestEnv(t)
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)

	var ids []string
	for i := 0; i < 3; i++ {
		_, envelope := env.do(t, http.MethodPost, "/api/v1/qr", owner, validIssueBody())
		id, _ := dataField(t, envelope, "id").(string)
		ids = append(ids, id)
	}

	status, envelope := env.do(t, http.MethodDelete, "/api/v1/qr", owner, nil)
	if status != http.StatusOK {
		t.Fatalf("bulk revoke status = %d: %+v", status, envelope.Error)
	}
	if revoked, _ := dataField(t, envelope, "revoked").(float64); revoked != 3 {
		t.Errorf("revoked = %v, want 3", revoked)
	}

	status, envelope = env.do(t, http.MethodPost, "/api/v1/qr/"+ids[0]+"/resolve", "", nil)
	if status != http.StatusGone || envelope.Error.Code != ErrCodeTokenRevoked {
		t.Errorf("resolve after bulk revoke = %d/%v, want 410 TOKEN_REVOKED", status, envelope.Error)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	status, envelope := env.do(t, http.MethodPost, "/api/v1/qr/nonexistent/resolve", "", nil)
	if status != http.StatusNotFound || envelope.Error.Code != ErrCodeNotFound {
		t.Errorf("status = %d/%v, want 404 NOT_FOUND", status, envelope.Error)
	}
}

// sessionFlow drives issue → resolve → create and returns session ID
// plus the visitor credential.
func sessionFlow(t *testing.T, env *testEnv) (string, string) {
	t.Helper()
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)

	_, envelope := env.do(t, http.MethodPost, "/api/v1/qr", owner, validIssueBody())
	tokenID, _ := dataField(t, envelope, "id").(string)

	_, envelope = env.do(t, http.MethodPost, "/api/v1/qr/"+tokenID+"/resolve", "", nil)
	visitorCred, _ := dataField(t, envelope, "session_token").(string)

	status, envelope := env.do(t, http.MethodPost, "/api/v1/sessions", visitorCred, map[string]interface{}{
		"token_id":     tokenID,
		"door_id":      "door-front",
		"visitor_name": "Courier",
	})
	if status != http.StatusCreated {
		t.Fatalf("create session status = %d: %+v", status, envelope.Error)
	}
	sessionID, _ := dataField(t, envelope, "id").(string)
	return sessionID, visitorCred
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)
	sessionID, visitorCred := sessionFlow(t, env)

	// Homeowner approves
	status, envelope := env.do(t, http.MethodPost,
		"/api/v1/sessions/"+sessionID+"/decision", owner,
		map[string]interface{}{"approve": true})
	if status != http.StatusOK {
		t.Fatalf("decision status = %d: %+v", status, envelope.Error)
	}
	if state, _ := dataField(t, envelope, "state").(string); state != "approved" {
		t.Errorf("state = %q, want approved", state)
	}

	// A second decision conflicts
	status, envelope = env.do(t, http.MethodPost,
		"/api/v1/sessions/"+sessionID+"/decision", owner,
		map[string]interface{}{"approve": false})
	if status != http.StatusConflict || envelope.Error.Code != ErrCodeAlreadyDecided {
		t.Errorf("re-decision = %d/%v, want 409 ALREADY_DECIDED", status, envelope.Error)
	}

	// Entry then exit
	status, envelope = env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/entry", owner, nil)
	if status != http.StatusOK {
		t.Fatalf("entry status = %d: %+v", status, envelope.Error)
	}
	status, envelope = env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/exit", owner, nil)
	if status != http.StatusOK {
		t.Fatalf("exit status = %d: %+v", status, envelope.Error)
	}
	if state, _ := dataField(t, envelope, "state").(string); state != "completed" {
		t.Errorf("state = %q, want completed", state)
	}

	// The visitor can read the terminal state
	status, envelope = env.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID, visitorCred, nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d: %+v", status, envelope.Error)
	}
}

func TestEntryWithoutApproval(t *testing.T) {
	env := newTestEnv(t)
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)
	sessionID, _ := sessionFlow(t, env)

	status, envelope := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/entry", owner, nil)
	if status != http.StatusConflict || envelope.Error.Code != ErrCodeNotApproved {
		t.Errorf("entry from requested = %d/%v, want 409 NOT_APPROVED", status, envelope.Error)
	}
}

func TestCancelSessionOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	sessionID, visitorCred := sessionFlow(t, env)

	status, envelope := env.do(t, http.MethodPost,
		"/api/v1/sessions/"+sessionID+"/cancel", visitorCred,
		map[string]interface{}{"reason": "wrong house"})
	if status != http.StatusOK {
		t.Fatalf("cancel status = %d: %+v", status, envelope.Error)
	}
	if state, _ := dataField(t, envelope, "state").(string); state != "cancelled" {
		t.Errorf("state = %q, want cancelled", state)
	}
}

func TestCreateSessionDoorOutOfScope(t *testing.T) {
	env := newTestEnv(t)
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)

	_, envelope := env.do(t, http.MethodPost, "/api/v1/qr", owner, validIssueBody())
	tokenID, _ := dataField(t, envelope, "id").(string)
	_, envelope = env.do(t, http.MethodPost, "/api/v1/qr/"+tokenID+"/resolve", "", nil)
	visitorCred, _ := dataField(t, envelope, "session_token").(string)

	status, envelope := env.do(t, http.MethodPost, "/api/v1/sessions", visitorCred, map[string]interface{}{
		"token_id":     tokenID,
		"door_id":      "door-garage",
		"visitor_name": "Courier",
		"homeowner_id": "owner-1",
	})
	if status != http.StatusBadRequest || envelope.Error.Code != ErrCodeDoorNotInScope {
		t.Errorf("out-of-scope door = %d/%v, want 400 DOOR_NOT_IN_SCOPE", status, envelope.Error)
	}
}

func TestRTCConfig(t *testing.T) {
	env := newTestEnv(t)
	visitor := env.bearerFor(t, "visitor:v1", auth.RoleVisitor)

	status, envelope := env.do(t, http.MethodGet, "/api/v1/rtc/config", visitor, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	servers, ok := dataField(t, envelope, "ice_servers").([]interface{})
	if !ok || len(servers) != 1 {
		t.Errorf("ice_servers = %v, want one entry", dataField(t, envelope, "ice_servers"))
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready"} {
		status, _ := env.do(t, http.MethodGet, path, "", nil)
		if status != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, status)
		}
	}
}

func TestAuditEndpoint(t *testing.T) {
	env := newTestEnv(t)
	owner := env.bearerFor(t, "owner-1", auth.RoleHomeowner)

	_, _ = env.do(t, http.MethodPost, "/api/v1/qr", owner, validIssueBody())

	// The audit writer is async; poll until the event lands
	deadline := time.Now().Add(2 * time.Second)
	for {
		status, envelope := env.do(t, http.MethodGet, "/api/v1/audit?type=token.issued", owner, nil)
		if status != http.StatusOK {
			t.Fatalf("audit status = %d", status)
		}
		if count, _ := dataField(t, envelope, "count").(float64); count >= 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("token.issued event never appeared in the audit trail")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAuthTokenEndpoint(t *testing.T) {
	env := newTestEnv(t)
	status, envelope := env.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]interface{}{
		"endpoint_id": "owner-1",
		"role":        "homeowner",
	})
	if status != http.StatusCreated {
		t.Fatalf("status = %d: %+v", status, envelope.Error)
	}
	minted, _ := dataField(t, envelope, "token").(string)
	if minted == "" {
		t.Fatal("no token in response")
	}
	if _, err := env.jwt.Validate(minted); err != nil {
		t.Errorf("minted token failed validation: %v", err)
	}
}

func TestSessionMessagesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	sessionID, visitorCred := sessionFlow(t, env)

	status, envelope := env.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID+"/messages", visitorCred, nil)
	if status != http.StatusOK {
		t.Fatalf("messages status = %d: %+v", status, envelope.Error)
	}
	if count, _ := dataField(t, envelope, "count").(float64); count != 0 {
		t.Errorf("count = %v, want 0 for fresh session", count)
	}
}
