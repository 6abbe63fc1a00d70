// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package store provides transactional key-value storage for Loom.
package store

import (
	"context"
)

// Bucket names used by the memory service. Buckets are created when the
// store is opened; writing to an unknown bucket is an error.
const (
	BucketSessions       = "sessions"
	BucketConversations  = "conversations"
	BucketMessages       = "messages"
	BucketMemories       = "session_memories"
	BucketChainOfThought = "chain_of_thought"
	BucketContinuity     = "session_continuity"
	BucketFTSMessages    = "fts_messages"
	BucketFTSMemories    = "fts_memories"
)

// Buckets lists every bucket created at open time.
var Buckets = []string{
	BucketSessions,
	BucketConversations,
	BucketMessages,
	BucketMemories,
	BucketChainOfThought,
	BucketContinuity,
	BucketFTSMessages,
	BucketFTSMemories,
}

// KVPair represents a key-value pair.
type KVPair struct {
	Key   string
	Value []byte
}

// Tx exposes store operations inside a single transaction. All
// operations within one Update call commit or roll back together.
type Tx interface {
	// Get retrieves the value for the given key.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(bucket, key string) ([]byte, error)

	// Set sets the value for the given key.
	Set(bucket, key string, value []byte) error

	// Delete removes the given key.
	// It is not an error if the key does not exist.
	Delete(bucket, key string) error

	// List returns all key-value pairs where the key starts with the given prefix.
	List(bucket, prefix string) ([]KVPair, error)
}

// Store defines the interface for key-value storage operations.
type Store interface {
	// Get retrieves the value for the given key.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Set sets the value for the given key.
	Set(ctx context.Context, bucket, key string, value []byte) error

	// Delete removes the given key.
	// It is not an error if the key does not exist.
	Delete(ctx context.Context, bucket, key string) error

	// List returns all key-value pairs where the key starts with the given prefix.
	List(ctx context.Context, bucket, prefix string) ([]KVPair, error)

	// Update runs fn inside a single read-write transaction. If fn
	// returns an error the transaction is rolled back and no partial
	// writes survive.
	Update(ctx context.Context, fn func(Tx) error) error

	// Close closes the store and releases resources.
	Close() error
}

// Common errors
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrKeyNotFound    = Error("key not found")
	ErrBucketNotFound = Error("bucket not found")
	ErrClosed         = Error("store closed")
)
