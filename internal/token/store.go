// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package token implements the QR token store: opaque, time- and
// use-bounded credentials that visitors resolve into an access scope.
// Consumption uses a conditional update so a single-use token resolves
// for exactly one caller under concurrency.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/useqring/qring/internal/audit"
	"github.com/useqring/qring/internal/database"
	"github.com/useqring/qring/internal/logging"
	"github.com/useqring/qring/internal/metrics"
	"github.com/useqring/qring/internal/models"
)

// Directory resolves door identifiers into the descriptors a visitor
// needs to pick a door: door name, home and homeowner.
type Directory interface {
	Doors(ctx context.Context, propertyID string, doorIDs []string) ([]models.DoorOption, error)
}

// Store manages the token lifecycle against the database.
type Store struct {
	db    *database.DB
	dir   Directory
	audit *audit.Logger
}

// NewStore creates a token store. dir may be nil, in which case
// resolved scopes carry door IDs without display descriptors.
func NewStore(db *database.DB, dir Directory, auditLog *audit.Logger) *Store {
	return &Store{db: db, dir: dir, audit: auditLog}
}

// Issue mints a new token for the given issuer and scope.
func (s *Store) Issue(ctx context.Context, issuerID string, scope models.Scope) (*models.QRToken, error) {
	if err := validateScope(&scope); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tok := &models.QRToken{
		ID:            uuid.NewString(),
		IssuerID:      issuerID,
		Scope:         scope,
		State:         models.TokenStateActive,
		RemainingUses: scope.MaxUses,
		CreatedAt:     now,
	}

	if err := s.db.InsertToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	if s.audit != nil {
		s.audit.TokenIssued(issuerID, tok.ID)
	}
	metrics.RecordTokenIssued()
	logging.Info().
		Str("token_id", tok.ID).
		Str("issuer_id", issuerID).
		Str("mode", scope.Mode).
		Int("max_uses", scope.MaxUses).
		Msg("Token issued")

	return tok, nil
}

// validateScope rejects scopes that could never resolve.
func validateScope(scope *models.Scope) error {
	if scope.PropertyID == "" {
		return fmt.Errorf("%w: missing property", ErrInvalidScope)
	}
	if len(scope.DoorIDs) == 0 {
		return fmt.Errorf("%w: no doors", ErrInvalidScope)
	}
	if scope.Mode != "direct" && scope.Mode != "selectable" {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidScope, scope.Mode)
	}
	if scope.Mode == "direct" && len(scope.DoorIDs) != 1 {
		return fmt.Errorf("%w: direct mode requires exactly one door", ErrInvalidScope)
	}
	if !scope.ValidUntil.After(scope.ValidFrom) {
		return fmt.Errorf("%w: validity window is empty", ErrInvalidScope)
	}
	if scope.MaxUses < 1 {
		return fmt.Errorf("%w: max_uses must be positive", ErrInvalidScope)
	}
	return nil
}

// Get returns a token by ID without touching its state.
func (s *Store) Get(ctx context.Context, id string) (*models.QRToken, error) {
	tok, err := s.db.GetToken(ctx, id)
	if errors.Is(err, database.ErrNoRow) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return tok, nil
}

// Resolve exchanges a token ID for its access scope, consuming one use.
// Expiry is applied lazily here: an active token past its window is
// written to expired and reported as such, with no background sweeper.
// Under concurrent resolves of a single-use token exactly one caller
// receives the scope; the rest observe the terminal state.
func (s *Store) Resolve(ctx context.Context, id string) (*models.ResolvedScope, error) {
	tok, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) && s.audit != nil {
			s.audit.TokenResolved(id, false, "not found")
		}
		metrics.RecordTokenResolution("not_found")
		return nil, err
	}

	if err := s.checkState(ctx, tok, time.Now().UTC()); err != nil {
		if s.audit != nil {
			s.audit.TokenResolved(id, false, err.Error())
		}
		metrics.RecordTokenResolution("refused")
		return nil, err
	}

	won, err := s.db.ConsumeToken(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if !won {
		// Lost the race. Re-read to report the state that beat us.
		lossErr := s.lossError(ctx, id)
		if s.audit != nil {
			s.audit.TokenResolved(id, false, lossErr.Error())
		}
		metrics.RecordTokenResolution("conflict")
		return nil, lossErr
	}

	resolved := &models.ResolvedScope{
		TokenID: tok.ID,
		Scope:   tok.Scope,
	}
	resolved.Doors, err = s.doorOptions(ctx, &tok.Scope)
	if err != nil {
		logging.Warn().Err(err).Str("token_id", id).Msg("Door directory lookup failed")
	}

	if s.audit != nil {
		s.audit.TokenResolved(id, true, "")
	}
	metrics.RecordTokenResolution("success")
	logging.Info().Str("token_id", id).Msg("Token resolved")

	return resolved, nil
}

// checkState maps a token's current condition to a resolution error,
// applying lazy expiry when the window has passed.
func (s *Store) checkState(ctx context.Context, tok *models.QRToken, now time.Time) error {
	switch tok.State {
	case models.TokenStateConsumed:
		return ErrAlreadyConsumed
	case models.TokenStateRevoked:
		return ErrRevoked
	case models.TokenStateExpired:
		return ErrExpired
	case models.TokenStateActive:
	default:
		return fmt.Errorf("token: unknown state %q", tok.State)
	}

	if now.Before(tok.Scope.ValidFrom) {
		return ErrNotYetValid
	}
	if now.After(tok.Scope.ValidUntil) {
		if err := s.db.ExpireToken(ctx, tok.ID); err != nil {
			return fmt.Errorf("expire token: %w", err)
		}
		if s.audit != nil {
			s.audit.TokenExpired(tok.ID)
		}
		return ErrExpired
	}
	return nil
}

// lossError reports why a consume attempt found no active use left.
func (s *Store) lossError(ctx context.Context, id string) error {
	tok, err := s.db.GetToken(ctx, id)
	if err != nil {
		return ErrAlreadyConsumed
	}
	switch tok.State {
	case models.TokenStateRevoked:
		return ErrRevoked
	case models.TokenStateExpired:
		return ErrExpired
	default:
		return ErrAlreadyConsumed
	}
}

// doorOptions materializes the door descriptors for a scope.
func (s *Store) doorOptions(ctx context.Context, scope *models.Scope) ([]models.DoorOption, error) {
	if s.dir != nil {
		return s.dir.Doors(ctx, scope.PropertyID, scope.DoorIDs)
	}
	opts := make([]models.DoorOption, 0, len(scope.DoorIDs))
	for _, id := range scope.DoorIDs {
		opts = append(opts, models.DoorOption{DoorID: id, HomeID: scope.PropertyID})
	}
	return opts, nil
}

// Revoke withdraws a token. Only the issuer may revoke, and only while
// the token is active or expired; consumption cannot be undone.
func (s *Store) Revoke(ctx context.Context, id, actorID string) error {
	tok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if tok.IssuerID != actorID {
		return ErrNotAuthorized
	}

	ok, err := s.db.RevokeToken(ctx, id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if !ok {
		// Refused: the token reached consumed or revoked first.
		switch tok.State {
		case models.TokenStateRevoked:
			return ErrRevoked
		default:
			return ErrAlreadyConsumed
		}
	}

	if s.audit != nil {
		s.audit.TokenRevoked(actorID, id)
	}
	logging.Info().Str("token_id", id).Str("issuer_id", actorID).Msg("Token revoked")
	return nil
}

// RevokeAllForIssuer withdraws every revocable token owned by an
// issuer, returning how many were revoked.
func (s *Store) RevokeAllForIssuer(ctx context.Context, issuerID string) (int64, error) {
	n, err := s.db.RevokeAllForIssuer(ctx, issuerID)
	if err != nil {
		return 0, fmt.Errorf("revoke all: %w", err)
	}
	if n > 0 {
		logging.Info().Str("issuer_id", issuerID).Int64("count", n).Msg("Issuer tokens revoked")
	}
	return n, nil
}
