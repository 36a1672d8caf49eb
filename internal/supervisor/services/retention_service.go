// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package services

import "context"

// CleanupRunner matches the audit logger's retention loop.
type CleanupRunner interface {
	RunCleanup(ctx context.Context) error
}

// RetentionService runs audit retention cleanup under supervision.
type RetentionService struct {
	runner CleanupRunner
}

// NewRetentionService wraps the audit retention loop as a supervised
// service.
func NewRetentionService(runner CleanupRunner) *RetentionService {
	return &RetentionService{runner: runner}
}

// Serve implements suture.Service.
func (s *RetentionService) Serve(ctx context.Context) error {
	return s.runner.RunCleanup(ctx)
}

// String identifies the service in suture's log messages.
func (s *RetentionService) String() string {
	return "audit-retention"
}
