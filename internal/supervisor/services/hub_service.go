// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package services

import "context"

// HubRunner matches the signaling hub's run loop.
type HubRunner interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the signaling hub under supervision. If the hub's
// event loop ever exits unexpectedly, suture restarts it; connected
// clients reconnect and rejoin their rooms.
type HubService struct {
	hub HubRunner
}

// NewHubService wraps the signaling hub as a supervised service.
func NewHubService(hub HubRunner) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String identifies the service in suture's log messages.
func (s *HubService) String() string {
	return "signaling-hub"
}
