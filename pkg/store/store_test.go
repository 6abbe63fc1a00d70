// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *BboltStore {
	t.Helper()
	s, err := NewBboltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, BucketSessions, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get missing key: err = %v, want ErrKeyNotFound", err)
	}

	if err := s.Set(ctx, BucketSessions, "s1", []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := s.Get(ctx, BucketSessions, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(v) != "v1" {
		t.Errorf("Get = %q, want v1", v)
	}

	if err := s.Delete(ctx, BucketSessions, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, BucketSessions, "s1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrKeyNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, BucketSessions, "s1"); err != nil {
		t.Errorf("Delete missing key: %v", err)
	}
}

func TestUnknownBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "nope", "k", []byte("v")); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("Set unknown bucket: err = %v, want ErrBucketNotFound", err)
	}
}

func TestListPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := []string{"conv1/msg1", "conv1/msg2", "conv2/msg1"}
	for _, k := range keys {
		if err := s.Set(ctx, BucketMessages, k, []byte(k)); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}

	pairs, err := s.List(ctx, BucketMessages, "conv1/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("List returned %d pairs, want 2", len(pairs))
	}
	// Bolt cursors iterate in key order.
	if pairs[0].Key != "conv1/msg1" || pairs[1].Key != "conv1/msg2" {
		t.Errorf("List keys = %v, want conv1/msg1, conv1/msg2", pairs)
	}
}

func TestUpdateAtomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx Tx) error {
		if err := tx.Set(BucketChainOfThought, "step1", []byte("a")); err != nil {
			return err
		}
		if err := tx.Set(BucketChainOfThought, "step2", []byte("b")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update err = %v, want boom", err)
	}

	// Nothing from the failed transaction may be visible.
	for _, key := range []string{"step1", "step2"} {
		if _, err := s.Get(ctx, BucketChainOfThought, key); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("key %s survived rolled-back transaction", key)
		}
	}

	// A successful transaction commits everything.
	err = s.Update(ctx, func(tx Tx) error {
		if err := tx.Set(BucketChainOfThought, "step1", []byte("a")); err != nil {
			return err
		}
		return tx.Set(BucketChainOfThought, "step2", []byte("b"))
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	for _, key := range []string{"step1", "step2"} {
		if _, err := s.Get(ctx, BucketChainOfThought, key); err != nil {
			t.Errorf("key %s missing after committed transaction: %v", key, err)
		}
	}
}
