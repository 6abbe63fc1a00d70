// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cluster

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/loganrossus/loom/pkg/metrics"
)

// Role is the election role of the local node.
type Role uint8

const (
	// RoleFollower defers to a known leader.
	RoleFollower Role = iota
	// RoleCandidate is collecting votes for a new term.
	RoleCandidate
	// RoleLeader won the current term.
	RoleLeader
)

// String returns the lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// ElectionConfig holds configuration for leader election.
type ElectionConfig struct {
	// TimeoutMin is the lower bound of the randomized election deadline.
	TimeoutMin time.Duration

	// TimeoutMax is the upper bound of the randomized election deadline.
	TimeoutMax time.Duration
}

// DefaultElectionConfig returns sensible defaults for election configuration.
func DefaultElectionConfig() *ElectionConfig {
	return &ElectionConfig{
		TimeoutMin: 150 * time.Millisecond,
		TimeoutMax: 300 * time.Millisecond,
	}
}

// Elector runs term-based leader election on top of the gossip roster.
//
// Votes are not messaged: every node ranks the alive membership by
// (incarnation desc, ID asc), and a candidate that ranks first claims
// the votes of all members it observes alive. Because all nodes rank
// the same converged roster the same way, at most one candidate can
// claim a majority per term.
type Elector struct {
	config *ElectionConfig
	gossip *GossipManager
	logger *slog.Logger

	mu       sync.RWMutex
	running  bool
	role     Role
	term     uint64
	deadline time.Time
	cancel   context.CancelFunc
	done     chan struct{}

	onLeadershipChange func(isLeader bool, term uint64)
}

// NewElector creates a new Elector bound to a gossip manager.
func NewElector(cfg *ElectionConfig, gossip *GossipManager, logger *slog.Logger) (*Elector, error) {
	if cfg == nil {
		cfg = DefaultElectionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if gossip == nil {
		return nil, errors.New("gossip manager is required")
	}
	if cfg.TimeoutMin <= 0 || cfg.TimeoutMax <= cfg.TimeoutMin {
		return nil, errors.New("election timeout bounds must satisfy 0 < min < max")
	}

	e := &Elector{
		config: cfg,
		gossip: gossip,
		logger: logger.With("component", "election"),
		role:   RoleFollower,
	}

	gossip.SetTermProvider(e.Term)
	gossip.OnTermObserved(e.observeTerm)
	gossip.OnLeaderClaim(e.observeLeaderClaim)

	return e, nil
}

// Start begins the election loop.
func (e *Elector) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New("elector already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	e.deadline = time.Now().Add(e.randomTimeout())

	e.logger.Info("elector starting",
		"timeout_min", e.config.TimeoutMin,
		"timeout_max", e.config.TimeoutMax,
	)

	go e.run(runCtx)
	return nil
}

// Stop halts the election loop and relinquishes leadership.
func (e *Elector) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	wasLeader := e.role == RoleLeader
	e.role = RoleFollower
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if wasLeader {
		e.gossip.YieldLeadership()
		metrics.SetLeader(false)
	}
	e.logger.Info("elector stopped")
	return nil
}

// Term returns the current election term.
func (e *Elector) Term() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.term
}

// Role returns the current election role.
func (e *Elector) Role() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// IsLeader reports whether the local node currently leads the mesh.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role == RoleLeader
}

// OnLeadershipChange sets the callback invoked on leadership transitions.
func (e *Elector) OnLeadershipChange(fn func(isLeader bool, term uint64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLeadershipChange = fn
}

func (e *Elector) randomTimeout() time.Duration {
	span := e.config.TimeoutMax - e.config.TimeoutMin
	return e.config.TimeoutMin + time.Duration(rand.Int63n(int64(span)))
}

func (e *Elector) run(ctx context.Context) {
	defer close(e.done)

	// Poll well inside the minimum timeout so deadlines fire promptly.
	ticker := time.NewTicker(e.config.TimeoutMin / 6)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.step()
		}
	}
}

func (e *Elector) step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.role {
	case RoleLeader:
		// Leadership is held until preempted by a higher term or a
		// competing claim; nothing to do per tick.
		return

	case RoleFollower:
		if leader, ok := e.gossip.Leader(); ok && !leader.IsLocal {
			e.deadline = time.Now().Add(e.randomTimeout())
			return
		}
		if time.Now().Before(e.deadline) {
			return
		}
		e.startElectionLocked()

	case RoleCandidate:
		if time.Now().Before(e.deadline) {
			return
		}
		e.startElectionLocked()
	}
}

// startElectionLocked opens a new term and tallies observable votes.
// Caller holds e.mu.
func (e *Elector) startElectionLocked() {
	e.term++
	e.role = RoleCandidate
	e.deadline = time.Now().Add(e.randomTimeout())
	metrics.ElectionsTotal.Inc()
	metrics.ElectionTerm.Set(float64(e.term))

	alive := e.gossip.AliveMembers()
	votes := 1 // self-vote

	e.logger.Info("starting election",
		"term", e.term,
		"alive", len(alive),
	)

	// Alone in the mesh: immediate promotion.
	if len(alive) <= 1 {
		e.becomeLeaderLocked()
		return
	}

	if e.ranksFirst(alive) {
		votes = len(alive)
	}

	if votes > len(alive)/2 {
		e.becomeLeaderLocked()
		return
	}

	e.logger.Debug("election not won, remaining candidate",
		"term", e.term,
		"votes", votes,
		"alive", len(alive),
	)
}

// ranksFirst reports whether the local node ranks ahead of all alive
// peers by (incarnation desc, ID asc).
func (e *Elector) ranksFirst(alive []Node) bool {
	sort.Slice(alive, func(i, j int) bool {
		if alive[i].Incarnation != alive[j].Incarnation {
			return alive[i].Incarnation > alive[j].Incarnation
		}
		return alive[i].ID < alive[j].ID
	})
	return len(alive) > 0 && alive[0].IsLocal
}

// becomeLeaderLocked promotes the local node. Caller holds e.mu.
func (e *Elector) becomeLeaderLocked() {
	e.role = RoleLeader
	e.logger.Info("won election", "term", e.term)
	metrics.SetLeader(true)

	fn := e.onLeadershipChange
	term := e.term

	// Announce and notify outside the lock.
	go func() {
		e.gossip.ClaimLeadership()
		if fn != nil {
			fn(true, term)
		}
	}()
}

// observeTerm handles a peer's term piggybacked on an ack. A strictly
// higher term preempts whatever we are doing.
func (e *Elector) observeTerm(term uint64, fromID string) {
	e.mu.Lock()
	if term <= e.term {
		e.mu.Unlock()
		return
	}

	e.term = term
	metrics.ElectionTerm.Set(float64(term))
	wasLeader := e.role == RoleLeader
	e.role = RoleFollower
	e.deadline = time.Now().Add(e.randomTimeout())
	fn := e.onLeadershipChange
	e.mu.Unlock()

	e.logger.Info("observed higher term, stepping down",
		"term", term,
		"from", fromID,
		"was_leader", wasLeader,
	)

	if wasLeader {
		e.gossip.YieldLeadership()
		metrics.SetLeader(false)
		if fn != nil {
			fn(false, term)
		}
	}
}

// observeLeaderClaim handles a peer announcing leadership through the
// roster. Ties between simultaneous leaders break toward the claimant
// that would rank first.
func (e *Elector) observeLeaderClaim(node Node) {
	e.mu.Lock()
	if e.role != RoleLeader {
		e.deadline = time.Now().Add(e.randomTimeout())
		e.mu.Unlock()
		return
	}

	local := e.gossip.LocalNode()
	keepLeading := local.Incarnation > node.Incarnation ||
		(local.Incarnation == node.Incarnation && local.ID < node.ID)
	if keepLeading {
		e.mu.Unlock()
		return
	}

	e.role = RoleFollower
	e.deadline = time.Now().Add(e.randomTimeout())
	fn := e.onLeadershipChange
	term := e.term
	e.mu.Unlock()

	e.logger.Info("yielding leadership to competing claim",
		"claimant", node.ID,
		"claimant_incarnation", node.Incarnation,
	)

	e.gossip.YieldLeadership()
	metrics.SetLeader(false)
	if fn != nil {
		fn(false, term)
	}
}
