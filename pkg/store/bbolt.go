// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// BboltStore implements Store using BoltDB.
type BboltStore struct {
	db *bolt.DB

	mu     sync.Mutex
	closed bool
}

// NewBboltStore opens (or creates) the database at path and ensures all
// buckets exist.
func NewBboltStore(path string) (*BboltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range Buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BboltStore{db: db}, nil
}

// boltTx adapts a bolt transaction to the Tx interface.
type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) Get(bucket, key string) ([]byte, error) {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, ErrBucketNotFound
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, ErrKeyNotFound
	}
	// Copy value to be safe outside the transaction
	val := make([]byte, len(v))
	copy(val, v)
	return val, nil
}

func (t *boltTx) Set(bucket, key string, value []byte) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return ErrBucketNotFound
	}
	return b.Put([]byte(key), value)
}

func (t *boltTx) Delete(bucket, key string) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return ErrBucketNotFound
	}
	return b.Delete([]byte(key))
}

func (t *boltTx) List(bucket, prefix string) ([]KVPair, error) {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, ErrBucketNotFound
	}

	var pairs []KVPair
	prefixBytes := []byte(prefix)
	c := b.Cursor()
	for k, v := c.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, v = c.Next() {
		val := make([]byte, len(v))
		copy(val, v)
		pairs = append(pairs, KVPair{Key: string(k), Value: val})
	}
	return pairs, nil
}

// Get retrieves the value for the given key.
func (s *BboltStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v, err := (&boltTx{tx: tx}).Get(bucket, key)
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

// Set sets the value for the given key.
func (s *BboltStore) Set(ctx context.Context, bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return (&boltTx{tx: tx}).Set(bucket, key, value)
	})
}

// Delete removes the given key.
func (s *BboltStore) Delete(ctx context.Context, bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return (&boltTx{tx: tx}).Delete(bucket, key)
	})
}

// List returns all key-value pairs where the key starts with the given prefix.
func (s *BboltStore) List(ctx context.Context, bucket, prefix string) ([]KVPair, error) {
	var pairs []KVPair
	err := s.db.View(func(tx *bolt.Tx) error {
		p, err := (&boltTx{tx: tx}).List(bucket, prefix)
		if err != nil {
			return err
		}
		pairs = p
		return nil
	})
	return pairs, err
}

// Update runs fn inside a single read-write transaction.
func (s *BboltStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Close closes the store.
func (s *BboltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ensure BboltStore implements Store.
var _ Store = (*BboltStore)(nil)
