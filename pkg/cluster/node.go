// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package cluster implements the gossip membership mesh and leader
// election for Loom coordination nodes.
package cluster

import (
	"fmt"
	"time"
)

// NodeState is the membership state of a peer.
type NodeState uint8

const (
	// StateAlive means the peer is responding to probes.
	StateAlive NodeState = iota
	// StateSuspect means the peer missed a probe round and is suspected down.
	StateSuspect
	// StateDead means the peer stayed unreachable past the suspect window.
	StateDead
	// StateLeft means the peer departed gracefully.
	StateLeft
)

// String returns the lowercase state name.
func (s NodeState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	case StateLeft:
		return "left"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Node is one peer in the gossip mesh.
type Node struct {
	// ID is the stable identifier, at most 63 bytes on the wire.
	ID string

	// Address is the reachable IP or hostname.
	Address string

	// Port is the peer's gossip UDP port.
	Port uint16

	// State is the current membership state.
	State NodeState

	// Incarnation is the peer's monotonic counter; higher values
	// supersede stale rumors.
	Incarnation uint32

	// LastSeen is the last direct or gossiped contact.
	LastSeen time.Time

	// IsLeader reports whether the peer claims mesh leadership.
	IsLeader bool

	// IsLocal marks the process-local node. Exactly one per roster.
	IsLocal bool
}

// Addr returns the peer's host:port gossip address.
func (n *Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Address, n.Port)
}
