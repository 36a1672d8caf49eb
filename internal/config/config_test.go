// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"nats enabled without url", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.URL = ""
			c.NATS.EmbeddedServer = false
		}},
		{"zero join timeout", func(c *Config) { c.Signaling.JoinTimeout = 0 }},
		{"zero inactivity timeout", func(c *Config) { c.Signaling.InactivityTimeout = 0 }},
		{"zero buffer size", func(c *Config) { c.Signaling.BufferSize = 0 }},
		{"negative decision timeout", func(c *Config) { c.Session.DecisionTimeout = -time.Second }},
		{"negative chat retries", func(c *Config) { c.Chat.MaxRetries = -1 }},
		{"zero chat backoff", func(c *Config) { c.Chat.RetryBackoff = 0 }},
		{"backoff cap below backoff", func(c *Config) {
			c.Chat.RetryBackoff = time.Second
			c.Chat.BackoffCap = time.Millisecond
		}},
		{"production without jwt secret", func(c *Config) {
			c.Server.Environment = "production"
			c.Security.JWTSecret = ""
		}},
		{"ice server without urls", func(c *Config) {
			c.ICE.Servers = append(c.ICE.Servers, ICEServer{})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"HTTP_PORT", "server.port"},
		{"NATS_URL", "nats.url"},
		{"NATS_EMBEDDED", "nats.embedded_server"},
		{"SIGNALING_JOIN_TIMEOUT", "signaling.join_timeout"},
		{"SESSION_DECISION_TIMEOUT", "session.decision_timeout"},
		{"CHAT_MAX_RETRIES", "chat.max_retries"},
		{"JWT_SECRET", "security.jwt_secret"},
		{"LOG_LEVEL", "logging.level"},
		{"RANDOM_UNRELATED_VAR", ""},
		{"PATH", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("SIGNALING_JOIN_TIMEOUT", "45s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Signaling.JoinTimeout != 45*time.Second {
		t.Errorf("JoinTimeout = %v, want 45s", cfg.Signaling.JoinTimeout)
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v, want two trimmed origins", cfg.Security.CORSOrigins)
	}
}
