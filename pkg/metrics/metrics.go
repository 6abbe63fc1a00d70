// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package metrics provides Prometheus metrics for Loom observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all Loom metrics.
const namespace = "loom"

// Gossip metrics
var (
	// GossipMessagesSent counts gossip messages sent by type.
	GossipMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_messages_sent_total",
			Help:      "Total number of gossip messages sent by message type",
		},
		[]string{"type"},
	)

	// GossipMessagesReceived counts gossip messages received by type.
	GossipMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_messages_received_total",
			Help:      "Total number of gossip messages received by message type",
		},
		[]string{"type"},
	)

	// GossipProbes counts probe outcomes.
	GossipProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_probes_total",
			Help:      "Total number of gossip probes by outcome",
		},
		[]string{"result"},
	)

	// GossipNodes tracks roster size by node state.
	GossipNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gossip_nodes",
			Help:      "Current number of known peers by state",
		},
		[]string{"state"},
	)
)

// Election metrics
var (
	// ElectionsTotal counts elections started by this node.
	ElectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elections_total",
			Help:      "Total number of elections started by this node",
		},
	)

	// IsLeader is 1 while this node is the leader.
	IsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "is_leader",
			Help:      "Whether this node is currently the mesh leader (1 or 0)",
		},
	)

	// ElectionTerm tracks the current election term.
	ElectionTerm = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "election_term",
			Help:      "Current election term observed by this node",
		},
	)

	// TasksProcessed counts leader task queue outcomes.
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Total number of leader tasks by outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// Session fabric metrics
var (
	// ActiveSessions tracks the number of connected sessions by state.
	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Current number of sessions by state",
		},
		[]string{"state"},
	)

	// EnvelopesTotal counts inbound envelopes by type.
	EnvelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Total number of inbound envelopes by type",
		},
		[]string{"type"},
	)

	// EnvelopeErrors counts error envelopes emitted by error code.
	EnvelopeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelope_errors_total",
			Help:      "Total number of error envelopes emitted by error code",
		},
		[]string{"code"},
	)

	// StreamChunks counts stream chunks delivered to clients.
	StreamChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Total number of stream chunks delivered by chunk type",
		},
		[]string{"type"},
	)
)

// Provider metrics
var (
	// ProviderRequests counts upstream provider calls by provider and status.
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider requests by provider and status",
		},
		[]string{"provider", "status"},
	)

	// ProviderLatency measures provider call latency.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Provider request duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// ProviderFailovers counts fallback attempts after a provider failure.
	ProviderFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failovers_total",
			Help:      "Total number of failover attempts by failed provider",
		},
		[]string{"from"},
	)
)

// Memory service metrics
var (
	// MemoryHotCacheSize tracks hot cache entries per session.
	MemoryHotCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_hot_cache_entries",
			Help:      "Current total number of hot cache entries across sessions",
		},
	)

	// MemoryEvictions counts hot cache evictions.
	MemoryEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_evictions_total",
			Help:      "Total number of hot cache LRU evictions",
		},
	)

	// StoreOpDuration measures persistent store operation latency.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_op_duration_seconds",
			Help:      "Persistent store operation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op"},
	)
)

// App info metric
var (
	appInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_info",
			Help:      "Application version information",
		},
		[]string{"version"},
	)
)

// SetAppInfo records the running version.
func SetAppInfo(version string) {
	appInfo.WithLabelValues(version).Set(1)
}

// SetLeader updates the leader gauge.
func SetLeader(isLeader bool) {
	if isLeader {
		IsLeader.Set(1)
	} else {
		IsLeader.Set(0)
	}
}
