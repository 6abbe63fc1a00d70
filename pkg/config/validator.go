// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError contains details about a configuration validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// validCostTiers are the recognized provider cost tiers.
var validCostTiers = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// validCapabilities are the recognized provider capabilities.
var validCapabilities = map[string]bool{
	"reasoning": true,
	"coding":    true,
	"fast":      true,
	"cheap":     true,
	"local":     true,
	"vision":    true,
}

// Validate checks the configuration for errors and returns a combined error if any are found.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateNode(&cfg.Node)...)
	errs = append(errs, validateGossip(&cfg.Gossip)...)
	errs = append(errs, validateElection(&cfg.Election)...)
	errs = append(errs, validateSession(&cfg.Session)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateMemory(&cfg.Memory)...)
	errs = append(errs, validateProviders(cfg.Providers, &cfg.AI)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateNode(node *NodeConfig) []error {
	var errs []error

	if node.ID == "" {
		errs = append(errs, &ValidationError{
			Field:   "node.id",
			Value:   node.ID,
			Message: "cannot be empty (hostname lookup failed?)",
		})
	}
	if node.BindAddress != "" {
		if ip := net.ParseIP(node.BindAddress); ip == nil {
			errs = append(errs, &ValidationError{
				Field:   "node.bind_address",
				Value:   node.BindAddress,
				Message: "invalid IP address",
			})
		}
	}

	return errs
}

func validateGossip(g *GossipConfig) []error {
	var errs []error

	if g.Port < 1 || g.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "gossip.port",
			Value:   g.Port,
			Message: "must be between 1 and 65535",
		})
	}
	if g.IntervalMS < 10 {
		errs = append(errs, &ValidationError{
			Field:   "gossip.interval_ms",
			Value:   g.IntervalMS,
			Message: "must be at least 10",
		})
	}
	if g.ProbeTimeoutMS >= g.SuspectTimeoutMS {
		errs = append(errs, &ValidationError{
			Field:   "gossip.probe_timeout_ms",
			Value:   g.ProbeTimeoutMS,
			Message: "must be less than suspect_timeout_ms",
		})
	}
	if g.IndirectNodes < 0 {
		errs = append(errs, &ValidationError{
			Field:   "gossip.indirect_nodes",
			Value:   g.IndirectNodes,
			Message: "cannot be negative",
		})
	}
	for i, seed := range g.Seeds {
		if _, _, err := net.SplitHostPort(seed); err != nil {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("gossip.seeds[%d]", i),
				Value:   seed,
				Message: fmt.Sprintf("invalid host:port: %v", err),
			})
		}
	}

	return errs
}

func validateElection(e *ElectionConfig) []error {
	var errs []error

	if e.MinTimeoutMS <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "election.min_timeout_ms",
			Value:   e.MinTimeoutMS,
			Message: "must be positive",
		})
	}
	if e.MaxTimeoutMS <= e.MinTimeoutMS {
		errs = append(errs, &ValidationError{
			Field:   "election.max_timeout_ms",
			Value:   e.MaxTimeoutMS,
			Message: "must be greater than min_timeout_ms",
		})
	}

	return errs
}

func validateSession(s *SessionConfig) []error {
	var errs []error

	if _, _, err := net.SplitHostPort(s.ListenAddress); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "session.listen_address",
			Value:   s.ListenAddress,
			Message: fmt.Sprintf("invalid address format: %v", err),
		})
	}
	if !strings.HasPrefix(s.Path, "/") {
		errs = append(errs, &ValidationError{
			Field:   "session.path",
			Value:   s.Path,
			Message: "must start with /",
		})
	}
	if s.HeartbeatTimeoutMS <= s.HeartbeatIntervalMS {
		errs = append(errs, &ValidationError{
			Field:   "session.heartbeat_timeout_ms",
			Value:   s.HeartbeatTimeoutMS,
			Message: "must be greater than heartbeat_interval_ms",
		})
	}
	if s.OutboundQueueDepth < 1 {
		errs = append(errs, &ValidationError{
			Field:   "session.outbound_queue_depth",
			Value:   s.OutboundQueueDepth,
			Message: "must be at least 1",
		})
	}
	for i, cidr := range s.AllowedNetworks {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("session.allowed_networks[%d]", i),
				Value:   cidr,
				Message: fmt.Sprintf("invalid CIDR: %v", err),
			})
		}
	}

	return errs
}

func validateRateLimit(r *RateLimitConfig) []error {
	var errs []error

	if r.Points < 1 {
		errs = append(errs, &ValidationError{
			Field:   "rate_limit.points",
			Value:   r.Points,
			Message: "must be at least 1",
		})
	}
	if r.WindowMS < 1000 {
		errs = append(errs, &ValidationError{
			Field:   "rate_limit.window_ms",
			Value:   r.WindowMS,
			Message: "must be at least 1000",
		})
	}

	return errs
}

func validateMemory(m *MemoryConfig) []error {
	var errs []error

	if m.HotCacheMaxPerSession < 1 {
		errs = append(errs, &ValidationError{
			Field:   "memory.hot_cache_max_per_session",
			Value:   m.HotCacheMaxPerSession,
			Message: "must be at least 1",
		})
	}
	if m.MaxMessagesPerSession < 1 {
		errs = append(errs, &ValidationError{
			Field:   "memory.max_messages_per_session",
			Value:   m.MaxMessagesPerSession,
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateProviders(providers ProviderList, ai *AIConfig) []error {
	var errs []error

	seen := make(map[string]bool)
	for i := range providers {
		p := &providers[i]
		prefix := fmt.Sprintf("providers.%s", p.ID)

		if seen[p.ID] {
			errs = append(errs, &ValidationError{
				Field:   prefix,
				Value:   p.ID,
				Message: "duplicate provider id",
			})
		}
		seen[p.ID] = true

		if p.CostTier != "" && !validCostTiers[p.CostTier] {
			errs = append(errs, &ValidationError{
				Field:   prefix + ".cost_tier",
				Value:   p.CostTier,
				Message: "must be one of low, medium, high",
			})
		}
		for _, cap := range p.Capabilities {
			if !validCapabilities[cap] {
				errs = append(errs, &ValidationError{
					Field:   prefix + ".capabilities",
					Value:   cap,
					Message: "unknown capability",
				})
			}
		}
		if p.Priority < 0 {
			errs = append(errs, &ValidationError{
				Field:   prefix + ".priority",
				Value:   p.Priority,
				Message: "cannot be negative",
			})
		}
	}

	if ai.Temperature != nil && (*ai.Temperature < 0 || *ai.Temperature > 2) {
		errs = append(errs, &ValidationError{
			Field:   "ai.temperature",
			Value:   *ai.Temperature,
			Message: "must be between 0 and 2",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Value:   l.Level,
			Message: "must be one of debug, info, warn, error",
		})
	}

	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Value:   l.Format,
			Message: "must be text or json",
		})
	}

	return errs
}
