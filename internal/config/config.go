// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package config provides layered configuration for Qring using koanf.
//
// Configuration is resolved in order of increasing priority:
//  1. Struct defaults (defaultConfig)
//  2. YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables (QRING_* and legacy flat names)
//
// All lifecycle timeouts of the access/signaling core live here. None of
// the state machines hardwire a duration.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	NATS      NATSConfig      `koanf:"nats"`
	Signaling SignalingConfig `koanf:"signaling"`
	Session   SessionConfig   `koanf:"session"`
	Chat      ChatConfig      `koanf:"chat"`
	ICE       ICEConfig       `koanf:"ice"`
	Directory DirectoryConfig `koanf:"directory"`
	Security  SecurityConfig  `koanf:"security"`
	Audit     AuditConfig     `koanf:"audit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds the relational store settings.
// QR tokens, visitor sessions, chat messages and audit events are the only
// persisted state; rooms and in-flight signaling are process-resident.
type DatabaseConfig struct {
	Path        string        `koanf:"path"`
	BusyTimeout time.Duration `koanf:"busy_timeout"`
	MaxOpen     int           `koanf:"max_open"`
}

// NATSConfig holds the cross-instance backplane settings.
// When Enabled is false the fan-out adapter degrades to in-process relay
// only, which is sufficient for single-instance deployments.
type NATSConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	SubjectPrefix  string        `koanf:"subject_prefix"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	DedupWindow    int           `koanf:"dedup_window"`
}

// SignalingConfig holds room and relay policy.
type SignalingConfig struct {
	// JoinTimeout bounds how long a lone participant waits for a peer
	// before the room is torn down with a peer-timeout notification.
	JoinTimeout time.Duration `koanf:"join_timeout"`

	// InactivityTimeout bounds idle room lifetime. Checked opportunistically
	// on access, not by a dedicated timer.
	InactivityTimeout time.Duration `koanf:"inactivity_timeout"`

	// BufferSize bounds the per-room queue of signaling messages held while
	// the second participant has not yet joined. Oldest dropped on overflow.
	BufferSize int `koanf:"buffer_size"`

	// SendQueueSize bounds each connection's outbound queue.
	SendQueueSize int `koanf:"send_queue_size"`

	// PublishTimeout bounds one backplane publish on the relay path.
	// Local delivery has already happened when the publish starts.
	PublishTimeout time.Duration `koanf:"publish_timeout"`
}

// SessionConfig holds visitor session policy.
type SessionConfig struct {
	// DecisionTimeout auto-cancels sessions left undecided for this long.
	// Zero disables auto-cancellation.
	DecisionTimeout time.Duration `koanf:"decision_timeout"`
}

// ChatConfig holds durable message log policy.
type ChatConfig struct {
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	BackoffCap   time.Duration `koanf:"backoff_cap"`
	QueueSize    int           `koanf:"queue_size"`
}

// ICEServer describes one STUN/TURN endpoint handed to connecting clients.
// The core never terminates media; TURN is an external relay.
type ICEServer struct {
	URLs       []string `koanf:"urls" json:"urls"`
	Username   string   `koanf:"username" json:"username,omitempty"`
	Credential string   `koanf:"credential" json:"credential,omitempty"`
}

// ICEConfig is the ICE server list supplied to clients as opaque configuration.
type ICEConfig struct {
	Servers []ICEServer `koanf:"servers"`
}

// DoorEntry names one door, its home and its homeowner for resolve-time
// display. Door and property management proper belong to the
// surrounding platform; this static directory covers standalone
// deployments.
type DoorEntry struct {
	PropertyID    string `koanf:"property_id" json:"property_id"`
	DoorID        string `koanf:"door_id" json:"door_id"`
	DoorName      string `koanf:"door_name" json:"door_name"`
	HomeID        string `koanf:"home_id" json:"home_id"`
	HomeName      string `koanf:"home_name" json:"home_name"`
	HomeownerID   string `koanf:"homeowner_id" json:"homeowner_id"`
	HomeownerName string `koanf:"homeowner_name" json:"homeowner_name"`
}

// DirectoryConfig lists the doors known to this deployment.
type DirectoryConfig struct {
	Doors []DoorEntry `koanf:"doors"`
}

// SecurityConfig holds session-token and rate limit settings.
type SecurityConfig struct {
	JWTSecret       string        `koanf:"jwt_secret"`
	SessionTimeout  time.Duration `koanf:"session_timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// AuditConfig holds audit trail policy.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	RetentionDays   int           `koanf:"retention_days"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	BufferSize      int           `koanf:"buffer_size"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return errors.New("nats.url is required when nats is enabled without an embedded server")
	}
	if c.Signaling.JoinTimeout <= 0 {
		return errors.New("signaling.join_timeout must be positive")
	}
	if c.Signaling.InactivityTimeout <= 0 {
		return errors.New("signaling.inactivity_timeout must be positive")
	}
	if c.Signaling.BufferSize <= 0 {
		return errors.New("signaling.buffer_size must be positive")
	}
	if c.Session.DecisionTimeout < 0 {
		return errors.New("session.decision_timeout must not be negative")
	}
	if c.Chat.MaxRetries < 0 {
		return errors.New("chat.max_retries must not be negative")
	}
	if c.Chat.RetryBackoff <= 0 {
		return errors.New("chat.retry_backoff must be positive")
	}
	if c.Chat.BackoffCap < c.Chat.RetryBackoff {
		return errors.New("chat.backoff_cap must be >= chat.retry_backoff")
	}
	if c.Security.JWTSecret == "" && c.Server.Environment == "production" {
		return errors.New("security.jwt_secret is required in production")
	}
	for i, srv := range c.ICE.Servers {
		if len(srv.URLs) == 0 {
			return fmt.Errorf("ice.servers[%d].urls must not be empty", i)
		}
	}
	return nil
}
