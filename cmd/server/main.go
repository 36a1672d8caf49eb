// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package main is the entry point for the Qring server.
//
// Qring issues single-use QR access tokens, runs the visitor-session
// state machine, and relays WebRTC signaling plus chat between a
// visitor at the door and the homeowner. Components start in order:
// configuration, database, audit trail, domain stores, the signaling
// hub and router, the durable chat log, and finally the HTTP API — all
// long-running pieces supervised by a suture tree.
//
// Configuration is loaded via koanf with layered sources (highest
// priority wins): environment variables with the QRING_ prefix, an
// optional YAML config file, and built-in defaults. The only setting
// without a usable default is security.jwt_secret, which must be
// provided before the server will start.
//
// Cross-instance fan-out over NATS JetStream is optional; with
// nats.enabled=false a single instance relays in-process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/useqring/qring/internal/api"
	"github.com/useqring/qring/internal/audit"
	"github.com/useqring/qring/internal/auth"
	"github.com/useqring/qring/internal/chatlog"
	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/database"
	"github.com/useqring/qring/internal/fanout"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/room"
	"github.com/useqring/qring/internal/session"
	"github.com/useqring/qring/internal/signaling"
	"github.com/useqring/qring/internal/supervisor"
	"github.com/useqring/qring/internal/supervisor/services"
	"github.com/useqring/qring/internal/token"
)

// Build-time metadata, injected via -ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("environment", cfg.Server.Environment).
		Msg("Starting Qring")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}()

	auditStore := audit.NewSQLStore(db.Conn())
	auditLogger := audit.NewLogger(auditStore, &audit.Config{
		Enabled:         cfg.Audit.Enabled,
		RetentionDays:   cfg.Audit.RetentionDays,
		CleanupInterval: cfg.Audit.CleanupInterval,
		BufferSize:      cfg.Audit.BufferSize,
	})
	defer func() {
		if err := auditLogger.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close audit logger")
		}
	}()

	directory := token.NewStaticDirectory(cfg.Directory)
	tokens := token.NewStore(db, directory, auditLogger)
	sessions := session.NewManager(db, &cfg.Session, auditLogger)
	rooms := room.NewRegistry(sessions, cfg.Signaling.InactivityTimeout)

	backplane, err := newBackplane(cfg)
	if err != nil {
		return fmt.Errorf("start fan-out backplane: %w", err)
	}
	defer func() {
		if err := backplane.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close fan-out backplane")
		}
	}()

	chatWriter := chatlog.NewWriter(db, &cfg.Chat, auditLogger)

	hub := signaling.NewHub()
	signalRouter := signaling.NewRouter(&cfg.Signaling, rooms, hub, backplane, chatWriter, auditLogger)
	defer signalRouter.Close()
	hub.OnDisconnect(signalRouter.Disconnect)

	jwtManager, err := auth.NewManager(&cfg.Security)
	if err != nil {
		return fmt.Errorf("configure authentication: %w", err)
	}

	handler := api.NewHandler(cfg, db, tokens, sessions, directory, jwtManager, hub, signalRouter, auditStore)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.Slog(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}

	tree.AddDurabilityService(chatWriter)
	if cfg.Audit.Enabled && cfg.Audit.CleanupInterval > 0 {
		tree.AddDurabilityService(services.NewRetentionService(auditLogger))
	}
	tree.AddRealtimeService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.Timeout))

	logging.Info().
		Str("addr", httpServer.Addr).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Qring listening")

	err = tree.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor tree failed: %w", err)
	}

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}

	logging.Info().Msg("Qring stopped")
	return nil
}

// newBackplane picks the cross-instance fan-out implementation. With
// NATS disabled the in-process bus serves a single instance.
func newBackplane(cfg *config.Config) (fanout.Adapter, error) {
	if !cfg.NATS.Enabled {
		return fanout.NewLocalBus(cfg.NATS.SubjectPrefix), nil
	}
	return fanout.NewNATSAdapter(&cfg.NATS)
}
