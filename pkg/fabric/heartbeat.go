// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"context"
	"log/slog"
	"time"
)

// heartbeatMonitor closes sessions that have gone quiet past the idle
// timeout. Any inbound envelope counts as activity, not just
// HEARTBEAT.
type heartbeatMonitor struct {
	registry *SessionRegistry
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	done chan struct{}
}

func newHeartbeatMonitor(registry *SessionRegistry, interval, timeout time.Duration, logger *slog.Logger) *heartbeatMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &heartbeatMonitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "heartbeat"),
		done:     make(chan struct{}),
	}
}

func (m *heartbeatMonitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *heartbeatMonitor) sweep() {
	cutoff := time.Now().Add(-m.timeout)
	for _, s := range m.registry.All() {
		if s.State() == StateDisconnected {
			continue
		}
		if s.LastActivity().Before(cutoff) {
			m.logger.Info("closing idle session",
				"session_id", s.ID,
				"client_id", s.ClientID(),
				"idle", time.Since(s.LastActivity()).Round(time.Second))
			s.Close()
		}
	}
}
