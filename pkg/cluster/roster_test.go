// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cluster

import (
	"testing"
	"time"
)

func newTestRoster() *roster {
	return newRoster(Node{ID: "local", Address: "127.0.0.1", Port: 7946}, 5*time.Second)
}

func TestApplyInsertsUnknownNode(t *testing.T) {
	r := newTestRoster()

	change, refute := r.Apply(NodeUpdate{
		ID: "peer-1", Address: "10.0.0.1", Port: 7946,
		State: StateAlive, Incarnation: 1,
	})
	if refute {
		t.Fatal("unexpected refutation")
	}
	if change == nil {
		t.Fatal("expected a state change for new node")
	}
	if n, ok := r.Lookup("peer-1"); !ok || n.Incarnation != 1 {
		t.Errorf("Lookup peer-1 = %+v, %v", n, ok)
	}
}

func TestApplyMergeRules(t *testing.T) {
	tests := []struct {
		name       string
		baseState  NodeState
		update     NodeUpdate
		wantState  NodeState
		wantIncarn uint32
	}{
		{
			name:       "higher incarnation wins",
			baseState:  StateAlive,
			update:     NodeUpdate{ID: "peer-1", State: StateAlive, Incarnation: 5},
			wantState:  StateAlive,
			wantIncarn: 5,
		},
		{
			name:       "equal incarnation worse state wins",
			baseState:  StateAlive,
			update:     NodeUpdate{ID: "peer-1", State: StateSuspect, Incarnation: 3},
			wantState:  StateSuspect,
			wantIncarn: 3,
		},
		{
			name:       "equal incarnation better state rejected",
			baseState:  StateSuspect,
			update:     NodeUpdate{ID: "peer-1", State: StateAlive, Incarnation: 3},
			wantState:  StateSuspect,
			wantIncarn: 3,
		},
		{
			name:       "lower incarnation rejected",
			baseState:  StateSuspect,
			update:     NodeUpdate{ID: "peer-1", State: StateDead, Incarnation: 1},
			wantState:  StateSuspect,
			wantIncarn: 3,
		},
		{
			name:       "suspect to alive via strictly higher incarnation",
			baseState:  StateSuspect,
			update:     NodeUpdate{ID: "peer-1", State: StateAlive, Incarnation: 4},
			wantState:  StateAlive,
			wantIncarn: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRoster()
			// Baseline: peer-1 at incarnation 3.
			r.Apply(NodeUpdate{ID: "peer-1", Address: "10.0.0.1", Port: 7946, State: tt.baseState, Incarnation: 3})

			r.Apply(tt.update)
			n, _ := r.Lookup("peer-1")
			if n.State != tt.wantState || n.Incarnation != tt.wantIncarn {
				t.Errorf("peer-1 = {%s, %d}, want {%s, %d}",
					n.State, n.Incarnation, tt.wantState, tt.wantIncarn)
			}
		})
	}
}

func TestApplyRefutesRumorsAboutSelf(t *testing.T) {
	r := newTestRoster()
	r.BumpLocalIncarnation() // incarnation 1

	// Stale rumor at a lower incarnation is simply ignored.
	if _, refute := r.Apply(NodeUpdate{ID: "local", State: StateSuspect, Incarnation: 0}); refute {
		t.Error("stale rumor should not trigger refutation")
	}

	// Rumor at our incarnation or above must be refuted.
	if _, refute := r.Apply(NodeUpdate{ID: "local", State: StateSuspect, Incarnation: 1}); !refute {
		t.Error("current-incarnation suspicion should trigger refutation")
	}
	if _, refute := r.Apply(NodeUpdate{ID: "local", State: StateDead, Incarnation: 5}); !refute {
		t.Error("future-incarnation death rumor should trigger refutation")
	}
}

func TestMarkContactRevivesSuspect(t *testing.T) {
	r := newTestRoster()
	r.Apply(NodeUpdate{ID: "peer-1", Address: "10.0.0.1", Port: 7946, State: StateAlive, Incarnation: 2})
	r.Apply(NodeUpdate{ID: "peer-1", Address: "10.0.0.1", Port: 7946, State: StateSuspect, Incarnation: 2})

	change := r.MarkContact("peer-1", 2)
	if change == nil {
		t.Fatal("expected suspect to revive on direct contact")
	}
	if change.OldState != StateSuspect || change.NewState != StateAlive {
		t.Errorf("change = %s -> %s, want suspect -> alive", change.OldState, change.NewState)
	}
}

func TestSweepFailureDetectionStages(t *testing.T) {
	r := newTestRoster() // 5s suspect timeout
	r.Apply(NodeUpdate{ID: "peer-1", Address: "10.0.0.1", Port: 7946, State: StateAlive, Incarnation: 1})
	base := time.Now()

	// Silence shorter than the suspect timeout changes nothing; a
	// single missed probe round must not demote an alive peer.
	if changes := r.Sweep(base.Add(1 * time.Second)); len(changes) != 0 {
		t.Fatalf("premature sweep produced %d changes", len(changes))
	}

	// Past the suspect timeout: alive -> suspect.
	changes := r.Sweep(base.Add(6 * time.Second))
	if len(changes) != 1 || changes[0].NewState != StateSuspect {
		t.Fatalf("sweep at 6s = %+v, want one alive->suspect change", changes)
	}

	// Still inside the second window: the suspect survives.
	if changes := r.Sweep(base.Add(7 * time.Second)); len(changes) != 0 {
		t.Fatalf("suspect expired early: %+v", changes)
	}

	// A further timeout of silence: suspect -> dead.
	changes = r.Sweep(base.Add(11 * time.Second))
	if len(changes) != 1 || changes[0].NewState != StateDead {
		t.Fatalf("sweep at 11s = %+v, want one suspect->dead change", changes)
	}
}

func TestSweepSparesSeeds(t *testing.T) {
	r := newTestRoster()
	r.AddSeed("10.0.0.9", 7946)

	if changes := r.Sweep(time.Now().Add(time.Hour)); len(changes) != 0 {
		t.Errorf("sweep demoted seed placeholders: %+v", changes)
	}
}

func TestSeedReplacedByRealPeer(t *testing.T) {
	r := newTestRoster()
	r.AddSeed("10.0.0.5", 7946)

	if r.AliveCount() != 1 {
		t.Fatalf("AliveCount with seed = %d, want 1 (seeds excluded)", r.AliveCount())
	}

	r.Apply(NodeUpdate{ID: "peer-5", Address: "10.0.0.5", Port: 7946, State: StateAlive, Incarnation: 1})

	if _, ok := r.Lookup(seedID("10.0.0.5", 7946)); ok {
		t.Error("seed placeholder survived real peer registration")
	}
	if r.AliveCount() != 2 {
		t.Errorf("AliveCount = %d, want 2", r.AliveCount())
	}
}

func TestSetLocalLeaderBumpsIncarnation(t *testing.T) {
	r := newTestRoster()
	before := r.LocalIncarnation()
	after := r.SetLocalLeader(true)
	if after != before+1 {
		t.Errorf("incarnation after claim = %d, want %d", after, before+1)
	}
	if leader, ok := r.Leader(); !ok || leader.ID != "local" {
		t.Errorf("Leader = %+v, %v", leader, ok)
	}
}

func TestSyncEntriesExcludesSeeds(t *testing.T) {
	r := newTestRoster()
	r.AddSeed("10.0.0.9", 7946)
	r.Apply(NodeUpdate{ID: "peer-1", Address: "10.0.0.1", Port: 7946, State: StateAlive, Incarnation: 1})

	entries := r.SyncEntries(MaxSyncEntries)
	if len(entries) != 2 {
		t.Fatalf("SyncEntries = %d entries, want 2 (local + peer-1)", len(entries))
	}
	for _, e := range entries {
		if isSeedID(e.ID) {
			t.Errorf("seed entry %s leaked into sync", e.ID)
		}
	}
}
