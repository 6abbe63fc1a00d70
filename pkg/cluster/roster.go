// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cluster

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// StateChange records a roster transition for callback dispatch.
type StateChange struct {
	Node     Node
	OldState NodeState
	NewState NodeState
}

// roster is the membership table. All mutation happens under mu;
// state-change events are returned to the caller so callbacks run
// outside the lock.
type roster struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	local *Node

	suspectTimeout time.Duration
}

func newRoster(local Node, suspectTimeout time.Duration) *roster {
	local.IsLocal = true
	local.State = StateAlive
	local.LastSeen = time.Now()
	r := &roster{
		nodes:          map[string]*Node{local.ID: &local},
		local:          &local,
		suspectTimeout: suspectTimeout,
	}
	return r
}

// Local returns a copy of the local node entry.
func (r *roster) Local() Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.local
}

// LocalIncarnation returns the local node's current incarnation.
func (r *roster) LocalIncarnation() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local.Incarnation
}

// BumpLocalIncarnation increments the local incarnation, refuting any
// suspicion in flight, and returns the new value.
func (r *roster) BumpLocalIncarnation() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local.Incarnation++
	r.local.State = StateAlive
	return r.local.Incarnation
}

// SetLocalLeader flips the local leadership flag and bumps the
// incarnation so the claim propagates over stale rumors.
func (r *roster) SetLocalLeader(leader bool) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local.IsLeader = leader
	r.local.Incarnation++
	return r.local.Incarnation
}

// SetLocalState sets the local membership state, used on graceful leave.
func (r *roster) SetLocalState(state NodeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local.State = state
}

// AddSeed inserts a placeholder entry for a configured seed address.
// The synthetic ID is replaced once the real peer identifies itself.
func (r *roster) AddSeed(address string, port uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := seedID(address, port)
	if _, ok := r.nodes[id]; ok {
		return
	}
	r.nodes[id] = &Node{
		ID:       id,
		Address:  address,
		Port:     port,
		State:    StateAlive,
		LastSeen: time.Now(),
	}
}

func seedID(address string, port uint16) string {
	return "seed-" + (&Node{Address: address, Port: port}).Addr()
}

func isSeedID(id string) bool {
	return len(id) > 5 && id[:5] == "seed-"
}

// Apply merges one gossiped roster entry. Merge rules:
//   - Unknown nodes are inserted as reported.
//   - A strictly greater incarnation always wins.
//   - At equal incarnation a worse state (higher ordinal) wins, so
//     suspicion spreads without an incarnation bump.
//   - Rumors about the local node at >= our incarnation trigger a
//     refutation: the caller bumps and re-advertises.
//
// The second return value reports whether the entry refuted us.
func (r *roster) Apply(u NodeUpdate) (*StateChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.ID == r.local.ID {
		if u.State != StateAlive && u.Incarnation >= r.local.Incarnation {
			return nil, true
		}
		return nil, false
	}

	existing, ok := r.nodes[u.ID]
	if !ok {
		// A real peer at a seed placeholder's address replaces it.
		r.dropSeedFor(u.Address, u.Port)
		n := &Node{
			ID:          u.ID,
			Address:     u.Address,
			Port:        u.Port,
			State:       u.State,
			Incarnation: u.Incarnation,
			LastSeen:    time.Now(),
			IsLeader:    u.IsLeader,
		}
		r.nodes[u.ID] = n
		return &StateChange{Node: *n, OldState: u.State, NewState: u.State}, false
	}

	accept := u.Incarnation > existing.Incarnation ||
		(u.Incarnation == existing.Incarnation && u.State > existing.State)
	if !accept {
		return nil, false
	}

	old := existing.State
	existing.Address = u.Address
	existing.Port = u.Port
	existing.State = u.State
	existing.Incarnation = u.Incarnation
	existing.IsLeader = u.IsLeader
	if u.State == StateAlive {
		existing.LastSeen = time.Now()
	}
	if old == existing.State {
		return nil, false
	}
	return &StateChange{Node: *existing, OldState: old, NewState: existing.State}, false
}

func (r *roster) dropSeedFor(address string, port uint16) {
	delete(r.nodes, seedID(address, port))
}

// MarkContact records direct contact with a peer. Direct contact
// re-marks a suspect alive without an incarnation change.
func (r *roster) MarkContact(id string, incarnation uint32) *StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	n.LastSeen = time.Now()
	if incarnation > n.Incarnation {
		n.Incarnation = incarnation
	}
	if n.State == StateSuspect || n.State == StateDead {
		old := n.State
		n.State = StateAlive
		return &StateChange{Node: *n, OldState: old, NewState: StateAlive}
	}
	return nil
}

// Sweep applies the failure-detection timeouts: an alive peer silent
// for the suspect timeout becomes suspect, and a suspect silent for a
// further timeout is declared dead. Seed placeholders are exempt so
// unreachable seeds keep being retried.
func (r *roster) Sweep(now time.Time) []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []StateChange
	for _, n := range r.nodes {
		if n.IsLocal || isSeedID(n.ID) {
			continue
		}
		switch n.State {
		case StateAlive:
			if now.Sub(n.LastSeen) >= r.suspectTimeout {
				n.State = StateSuspect
				changes = append(changes, StateChange{Node: *n, OldState: StateAlive, NewState: StateSuspect})
			}
		case StateSuspect:
			if now.Sub(n.LastSeen) >= 2*r.suspectTimeout {
				n.State = StateDead
				changes = append(changes, StateChange{Node: *n, OldState: StateSuspect, NewState: StateDead})
			}
		}
	}
	return changes
}

// Lookup returns a copy of the named node.
func (r *roster) Lookup(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// RandomPeers returns up to n random non-local peers in the given
// states, excluding the listed IDs.
func (r *roster) RandomPeers(n int, exclude map[string]bool, states ...NodeState) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := map[NodeState]bool{}
	for _, s := range states {
		allowed[s] = true
	}

	var candidates []Node
	for _, node := range r.nodes {
		if node.IsLocal || exclude[node.ID] || !allowed[node.State] {
			continue
		}
		candidates = append(candidates, *node)
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// Snapshot returns copies of all roster entries sorted by ID.
func (r *roster) Snapshot() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// AliveNodes returns copies of all alive entries, local included.
func (r *roster) AliveNodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var nodes []Node
	for _, n := range r.nodes {
		if n.State == StateAlive && !isSeedID(n.ID) {
			nodes = append(nodes, *n)
		}
	}
	return nodes
}

// AliveCount counts alive entries, local included, seeds excluded.
func (r *roster) AliveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, n := range r.nodes {
		if n.State == StateAlive && !isSeedID(n.ID) {
			count++
		}
	}
	return count
}

// Leader returns the current leader entry if one is known.
func (r *roster) Leader() (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.nodes {
		if n.IsLeader && n.State == StateAlive {
			return *n, true
		}
	}
	return Node{}, false
}

// ClearLeader drops the leader flag from all entries except the given ID.
func (r *roster) ClearLeader(except string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.nodes {
		if n.ID != except {
			n.IsLeader = false
		}
	}
}

// SyncEntries renders the roster as wire updates, capped at max.
// Alive entries are preferred so partial syncs stay useful.
func (r *roster) SyncEntries(max int) []NodeUpdate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]NodeUpdate, 0, len(r.nodes))
	for _, n := range r.nodes {
		if isSeedID(n.ID) {
			continue
		}
		entries = append(entries, NodeUpdate{
			ID:          n.ID,
			Address:     n.Address,
			Port:        n.Port,
			State:       n.State,
			Incarnation: n.Incarnation,
			IsLeader:    n.IsLeader,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].State != entries[j].State {
			return entries[i].State < entries[j].State
		}
		return entries[i].ID < entries[j].ID
	})
	if len(entries) > max {
		entries = entries[:max]
	}
	return entries
}
