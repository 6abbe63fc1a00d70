// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package providers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// HealthStatus is the check state of one provider.
type HealthStatus string

// Health states.
const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
)

// HealthCheck probes one provider. A nil error is a pass.
type HealthCheck func(ctx context.Context) error

// HealthConfig configures the provider health manager.
type HealthConfig struct {
	// FailThreshold is the number of consecutive failures before a
	// provider is disabled.
	FailThreshold int

	// PassThreshold is the number of consecutive passes before a
	// disabled provider is re-enabled.
	PassThreshold int

	// Interval is the time between checks.
	Interval time.Duration

	// Timeout bounds one check.
	Timeout time.Duration
}

// DefaultHealthConfig returns sensible defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailThreshold: 3,
		PassThreshold: 2,
		Interval:      30 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// healthTarget pairs a check with the adapter it gates.
type healthTarget struct {
	check HealthCheck
	set   func(bool)

	status    HealthStatus
	failCount int
	passCount int
	stopCh    chan struct{}
}

// HealthManager runs per-provider check loops and flips adapter
// availability on threshold crossings.
type HealthManager struct {
	config HealthConfig
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	targets  map[string]*healthTarget
	wg       sync.WaitGroup
	onChange func(providerID string, status HealthStatus)
}

// NewHealthManager creates a provider health manager.
func NewHealthManager(cfg HealthConfig, logger *slog.Logger) *HealthManager {
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 3
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = 2
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthManager{
		config:  cfg,
		logger:  logger.With("component", "provider-health"),
		targets: make(map[string]*healthTarget),
	}
}

// OnStatusChange sets a callback for health transitions.
func (m *HealthManager) OnStatusChange(fn func(providerID string, status HealthStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// AddProvider registers a check loop gating the given adapter. Must be
// called before Start.
func (m *HealthManager) AddProvider(providerID string, check HealthCheck, setHealthy func(bool)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.targets[providerID]; ok {
		return errors.New("provider already registered for health checks")
	}
	m.targets[providerID] = &healthTarget{
		check:  check,
		set:    setHealthy,
		status: StatusUnknown,
		stopCh: make(chan struct{}),
	}
	return nil
}

// Start launches one check loop per registered provider.
func (m *HealthManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("health manager already running")
	}
	m.running = true

	for id, target := range m.targets {
		m.wg.Add(1)
		go m.checkLoop(ctx, id, target)
	}
	m.logger.Info("provider health manager started", "providers", len(m.targets))
	return nil
}

// Stop halts all check loops.
func (m *HealthManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	for _, target := range m.targets {
		close(target.stopCh)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("provider health manager stopped")
}

// Status returns each provider's current health state.
func (m *HealthManager) Status() map[string]HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]HealthStatus, len(m.targets))
	for id, target := range m.targets {
		out[id] = target.status
	}
	return out
}

// CheckNow runs every provider's check once, outside the loop cadence.
// Used by the on-demand health check task.
func (m *HealthManager) CheckNow(ctx context.Context) map[string]error {
	m.mu.Lock()
	targets := make(map[string]*healthTarget, len(m.targets))
	for id, t := range m.targets {
		targets[id] = t
	}
	m.mu.Unlock()

	results := make(map[string]error, len(targets))
	for id, target := range targets {
		checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		err := target.check(checkCtx)
		cancel()
		results[id] = err
		m.record(id, target, err)
	}
	return results
}

func (m *HealthManager) checkLoop(ctx context.Context, id string, target *healthTarget) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-target.stopCh:
			return
		case <-ticker.C:
		}

		checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		err := target.check(checkCtx)
		cancel()
		m.record(id, target, err)
	}
}

// record folds one check result into the threshold counters.
func (m *HealthManager) record(id string, target *healthTarget, err error) {
	m.mu.Lock()

	var transition *HealthStatus
	if err != nil {
		target.passCount = 0
		target.failCount++
		if target.failCount >= m.config.FailThreshold && target.status != StatusUnhealthy {
			target.status = StatusUnhealthy
			s := StatusUnhealthy
			transition = &s
		}
	} else {
		target.failCount = 0
		target.passCount++
		if target.passCount >= m.config.PassThreshold && target.status != StatusHealthy {
			target.status = StatusHealthy
			s := StatusHealthy
			transition = &s
		}
	}
	onChange := m.onChange
	set := target.set
	m.mu.Unlock()

	if transition == nil {
		return
	}

	healthy := *transition == StatusHealthy
	if set != nil {
		set(healthy)
	}
	if healthy {
		m.logger.Info("provider recovered", "provider", id)
	} else {
		m.logger.Warn("provider unhealthy, disabling", "provider", id, "error", err)
	}
	if onChange != nil {
		onChange(id, *transition)
	}
}
