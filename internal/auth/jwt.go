// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

// Package auth issues and validates the signed session tokens that
// identify endpoints on the API and the signaling channel. Tokens are
// HMAC-SHA256 JWTs carrying the endpoint ID and its role.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/useqring/qring/internal/config"
)

// Endpoint roles. A visitor token is minted when a QR token resolves;
// a homeowner token comes from the login flow of the surrounding app.
const (
	RoleVisitor   = "visitor"
	RoleHomeowner = "homeowner"
)

// Claims are the JWT claims of a session token.
type Claims struct {
	EndpointID string `json:"endpoint_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// Manager creates and validates session tokens with HS256.
type Manager struct {
	secret  []byte
	timeout time.Duration
}

// NewManager creates a token manager. The secret must be configured;
// an empty secret would make every token forgeable.
func NewManager(cfg *config.SecurityConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("security.jwt_secret is required")
	}
	return &Manager{
		secret:  []byte(cfg.JWTSecret),
		timeout: cfg.SessionTimeout,
	}, nil
}

// Generate mints a signed token for an endpoint.
func (m *Manager) Generate(endpointID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		EndpointID: endpointID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, algorithm and time claims, and returns
// the endpoint claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Pinning the algorithm prevents confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
