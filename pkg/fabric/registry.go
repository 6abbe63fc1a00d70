// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"sync"

	"github.com/loganrossus/loom/pkg/metrics"
)

// SessionRegistry tracks live sessions, the client identity index, and
// group subscriptions. Fan-out callers take a snapshot under the lock
// and write outside it, so a slow client never stalls the registry.
type SessionRegistry struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byClient map[string]*Session
	groups   map[string]map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byID:     make(map[string]*Session),
		byClient: make(map[string]*Session),
		groups:   make(map[string]map[string]*Session),
	}
}

// Add inserts a session.
func (r *SessionRegistry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = s
	metrics.ActiveSessions.WithLabelValues("connected").Inc()
}

// Remove drops a session and its indexes.
func (r *SessionRegistry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[s.ID]; !ok {
		return
	}
	delete(r.byID, s.ID)
	if cid := s.ClientID(); cid != "" && r.byClient[cid] == s {
		delete(r.byClient, cid)
	}
	for group, members := range r.groups {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	metrics.ActiveSessions.WithLabelValues("connected").Dec()
}

// Get returns a session by its ID.
func (r *SessionRegistry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sessionID]
	return s, ok
}

// BindClient indexes a session under its registered client identity.
// A client reconnecting displaces its previous binding.
func (r *SessionRegistry) BindClient(clientID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClient[clientID] = s
}

// GetByClient returns the session registered for a client identity.
func (r *SessionRegistry) GetByClient(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byClient[clientID]
	return s, ok
}

// Subscribe adds a session to a group.
func (r *SessionRegistry) Subscribe(group string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]*Session)
		r.groups[group] = members
	}
	members[s.ID] = s
	s.Subscribe(group)
}

// Unsubscribe removes a session from a group.
func (r *SessionRegistry) Unsubscribe(group string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.groups[group]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	s.Unsubscribe(group)
}

// GroupMembers snapshots a group's sessions.
func (r *SessionRegistry) GroupMembers(group string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.groups[group]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// All snapshots every session.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
