// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package auth verifies client tokens for the session fabric.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Authentication errors.
var (
	// ErrInvalidToken is returned when the presented token does not match.
	ErrInvalidToken = errors.New("invalid auth token")
	// ErrUnknownClient is returned when the client ID has no registered token.
	ErrUnknownClient = errors.New("unknown client")
)

// Verifier checks a client's presented token.
type Verifier interface {
	// VerifyToken returns nil when token is valid for clientID.
	VerifyToken(ctx context.Context, clientID, token string) error
}

// TokenVerifier verifies tokens against pre-computed SHA-256 hashes,
// loaded from config or a tokens file. Comparison is constant-time.
type TokenVerifier struct {
	logger *slog.Logger

	mu     sync.RWMutex
	hashes map[string][]byte
}

// NewTokenVerifier creates a verifier from a clientID → hex(SHA-256)
// token hash map. Raw-token values are also accepted and hashed on
// load, so small deployments can skip the hashing step.
func NewTokenVerifier(tokens map[string]string, logger *slog.Logger) (*TokenVerifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := &TokenVerifier{
		logger: logger.With("component", "auth"),
		hashes: make(map[string][]byte, len(tokens)),
	}
	for clientID, value := range tokens {
		hash, err := normalizeTokenValue(value)
		if err != nil {
			return nil, fmt.Errorf("token for client %q: %w", clientID, err)
		}
		v.hashes[clientID] = hash
	}
	return v, nil
}

// NewTokenVerifierFromFile loads a YAML file mapping client IDs to
// token hashes and merges any inline tokens over it. An empty path
// means inline tokens only.
func NewTokenVerifierFromFile(path string, inline map[string]string, logger *slog.Logger) (*TokenVerifier, error) {
	if path == "" {
		return NewTokenVerifier(inline, logger)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens file: %w", err)
	}

	var tokens map[string]string
	if err := yaml.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse tokens file %s: %w", path, err)
	}
	if tokens == nil {
		tokens = make(map[string]string, len(inline))
	}
	for clientID, value := range inline {
		tokens[clientID] = value
	}
	return NewTokenVerifier(tokens, logger)
}

// normalizeTokenValue accepts either a 64-char hex SHA-256 digest or a
// raw token, returning the digest bytes.
func normalizeTokenValue(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty token")
	}
	if len(value) == sha256.Size*2 {
		if decoded, err := hex.DecodeString(value); err == nil {
			return decoded, nil
		}
	}
	hash := sha256.Sum256([]byte(value))
	return hash[:], nil
}

// VerifyToken implements Verifier.
func (v *TokenVerifier) VerifyToken(ctx context.Context, clientID, token string) error {
	v.mu.RLock()
	expected, ok := v.hashes[clientID]
	v.mu.RUnlock()

	// Hash regardless so unknown clients cost the same as mismatches.
	presented := sha256.Sum256([]byte(token))

	if !ok {
		v.logger.Warn("authentication attempt for unknown client", "client_id", clientID)
		return ErrUnknownClient
	}
	if subtle.ConstantTimeCompare(expected, presented[:]) != 1 {
		v.logger.Warn("authentication failed", "client_id", clientID)
		return ErrInvalidToken
	}
	return nil
}

// SetToken registers or replaces a client token at runtime.
func (v *TokenVerifier) SetToken(clientID, value string) error {
	hash, err := normalizeTokenValue(value)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hashes[clientID] = hash
	return nil
}

// NumClients returns the number of registered clients.
func (v *TokenVerifier) NumClients() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.hashes)
}

// OpenVerifier accepts any non-empty token. Used when no tokens are
// configured, matching the permissive development default.
type OpenVerifier struct{}

// VerifyToken implements Verifier.
func (OpenVerifier) VerifyToken(ctx context.Context, clientID, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	return nil
}
