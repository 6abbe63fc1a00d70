// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyRawToken(t *testing.T) {
	ctx := context.Background()
	v, err := NewTokenVerifier(map[string]string{"client-1": "s3cret"}, nil)
	if err != nil {
		t.Fatalf("NewTokenVerifier failed: %v", err)
	}

	if err := v.VerifyToken(ctx, "client-1", "s3cret"); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}
	if err := v.VerifyToken(ctx, "client-1", "wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong token: err = %v, want ErrInvalidToken", err)
	}
	if err := v.VerifyToken(ctx, "nobody", "s3cret"); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("unknown client: err = %v, want ErrUnknownClient", err)
	}
}

func TestVerifyHashedToken(t *testing.T) {
	ctx := context.Background()
	digest := sha256.Sum256([]byte("s3cret"))
	v, err := NewTokenVerifier(map[string]string{
		"client-1": hex.EncodeToString(digest[:]),
	}, nil)
	if err != nil {
		t.Fatalf("NewTokenVerifier failed: %v", err)
	}

	if err := v.VerifyToken(ctx, "client-1", "s3cret"); err != nil {
		t.Errorf("valid token rejected against stored hash: %v", err)
	}
	// The hash itself must not work as a token.
	if err := v.VerifyToken(ctx, "client-1", hex.EncodeToString(digest[:])); err == nil {
		t.Error("stored hash accepted as a token")
	}
}

func TestEmptyTokenRejectedAtLoad(t *testing.T) {
	if _, err := NewTokenVerifier(map[string]string{"client-1": ""}, nil); err == nil {
		t.Error("empty token accepted at load")
	}
}

func TestTokensFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	content := "alice: wonderland\nbob: builder\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write tokens file: %v", err)
	}

	v, err := NewTokenVerifierFromFile(path, map[string]string{"bob": "override"}, nil)
	if err != nil {
		t.Fatalf("NewTokenVerifierFromFile failed: %v", err)
	}
	if v.NumClients() != 2 {
		t.Errorf("NumClients = %d, want 2", v.NumClients())
	}
	if err := v.VerifyToken(ctx, "alice", "wonderland"); err != nil {
		t.Errorf("file token rejected: %v", err)
	}
	// Inline tokens win over file entries.
	if err := v.VerifyToken(ctx, "bob", "builder"); err == nil {
		t.Error("overridden token still accepted")
	}
	if err := v.VerifyToken(ctx, "bob", "override"); err != nil {
		t.Errorf("inline override rejected: %v", err)
	}
}

func TestTokensFileEmptyPathUsesInline(t *testing.T) {
	v, err := NewTokenVerifierFromFile("", map[string]string{"alice": "wonderland"}, nil)
	if err != nil {
		t.Fatalf("inline-only configuration failed: %v", err)
	}
	if v.NumClients() != 1 {
		t.Errorf("NumClients = %d, want 1", v.NumClients())
	}
	if err := v.VerifyToken(context.Background(), "alice", "wonderland"); err != nil {
		t.Errorf("inline token rejected: %v", err)
	}
}

func TestTokensFileMissing(t *testing.T) {
	if _, err := NewTokenVerifierFromFile("/nonexistent/tokens.yaml", nil, nil); err == nil {
		t.Error("missing tokens file accepted")
	}
}

func TestSetToken(t *testing.T) {
	ctx := context.Background()
	v, err := NewTokenVerifier(nil, nil)
	if err != nil {
		t.Fatalf("NewTokenVerifier failed: %v", err)
	}
	if err := v.SetToken("late", "arrival"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	if err := v.VerifyToken(ctx, "late", "arrival"); err != nil {
		t.Errorf("runtime token rejected: %v", err)
	}
}

func TestOpenVerifier(t *testing.T) {
	ctx := context.Background()
	var v OpenVerifier
	if err := v.VerifyToken(ctx, "anyone", "anything"); err != nil {
		t.Errorf("open verifier rejected non-empty token: %v", err)
	}
	if err := v.VerifyToken(ctx, "anyone", ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("open verifier accepted empty token: %v", err)
	}
}
