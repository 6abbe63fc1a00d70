// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package memory

import (
	"container/list"
	"sync"

	"github.com/loganrossus/loom/pkg/metrics"
)

// hotCache holds recently used memories per session. The cold store is
// authoritative; eviction here never loses data.
type hotCache struct {
	mu       sync.Mutex
	capacity int
	sessions map[string]*sessionCache
}

type sessionCache struct {
	order *list.List               // front = most recently used
	index map[string]*list.Element // memory ID -> element
}

func newHotCache(capacity int) *hotCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &hotCache{
		capacity: capacity,
		sessions: make(map[string]*sessionCache),
	}
}

// Put inserts or refreshes a memory at the front of its session's LRU
// order. If the session is over capacity the coldest entry is evicted
// and returned.
func (c *hotCache) Put(mem *SessionMemory) *SessionMemory {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.sessions[mem.SessionID]
	if !ok {
		sc = &sessionCache{order: list.New(), index: make(map[string]*list.Element)}
		c.sessions[mem.SessionID] = sc
	}

	if el, ok := sc.index[mem.ID]; ok {
		el.Value = mem
		sc.order.MoveToFront(el)
		return nil
	}

	sc.index[mem.ID] = sc.order.PushFront(mem)
	metrics.MemoryHotCacheSize.Inc()

	if sc.order.Len() <= c.capacity {
		return nil
	}

	coldest := sc.order.Back()
	sc.order.Remove(coldest)
	evicted := coldest.Value.(*SessionMemory)
	delete(sc.index, evicted.ID)
	metrics.MemoryHotCacheSize.Dec()
	metrics.MemoryEvictions.Inc()
	return evicted
}

// Get returns a cached memory and marks it most recently used.
func (c *hotCache) Get(sessionID, memoryID string) (*SessionMemory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.sessions[sessionID]
	if !ok {
		return nil, false
	}
	el, ok := sc.index[memoryID]
	if !ok {
		return nil, false
	}
	sc.order.MoveToFront(el)
	return el.Value.(*SessionMemory), true
}

// Len returns the entry count for one session.
func (c *hotCache) Len(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.sessions[sessionID]
	if !ok {
		return 0
	}
	return sc.order.Len()
}

// DropSession discards a session's cached entries.
func (c *hotCache) DropSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	metrics.MemoryHotCacheSize.Sub(float64(sc.order.Len()))
	delete(c.sessions, sessionID)
}
