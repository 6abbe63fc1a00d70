// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// Gossip defaults
	DefaultGossipPort       = 7946
	DefaultGossipIntervalMS = 1000
	DefaultProbeTimeoutMS   = 500
	DefaultSuspectTimeoutMS = 5000
	DefaultIndirectNodes    = 3
	DefaultSyncEvery        = 5

	// Election defaults
	DefaultElectionMinTimeoutMS = 150
	DefaultElectionMaxTimeoutMS = 300

	// Session defaults
	DefaultSessionListenAddress  = ":8420"
	DefaultSessionPath           = "/fabric"
	DefaultHeartbeatIntervalMS   = 30000
	DefaultHeartbeatTimeoutMS    = 90000
	DefaultOutboundQueueDepth    = 256

	// Rate limit defaults
	DefaultRateLimitPoints   = 100
	DefaultRateLimitWindowMS = 60000

	// Memory defaults
	DefaultHotCacheMaxPerSession  = 1000
	DefaultMaxMessagesPerSession  = 1000
	DefaultRecentMessagesOnResume = 100
	DefaultSearchTopK             = 10

	// Store defaults
	DefaultStorePath = "/var/lib/loom/loom.db"

	// AI defaults
	DefaultAIProvider           = "anthropic"
	DefaultMaxTokens            = 4096
	DefaultTemperature          = 1.0
	DefaultThinkingBudgetTokens = 8000

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	// Metrics defaults
	DefaultMetricsListenAddress = ":9153"
)

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(&cfg)
	expandSecrets(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Node defaults
	if cfg.Node.ID == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.Node.ID = hostname
		}
	}
	if cfg.Node.BindAddress == "" {
		cfg.Node.BindAddress = "0.0.0.0"
	}
	if cfg.Node.AdvertiseAddress == "" {
		cfg.Node.AdvertiseAddress = cfg.Node.BindAddress
	}

	// Gossip defaults
	if cfg.Gossip.Port == 0 {
		cfg.Gossip.Port = DefaultGossipPort
	}
	if cfg.Gossip.IntervalMS == 0 {
		cfg.Gossip.IntervalMS = DefaultGossipIntervalMS
	}
	if cfg.Gossip.ProbeTimeoutMS == 0 {
		cfg.Gossip.ProbeTimeoutMS = DefaultProbeTimeoutMS
	}
	if cfg.Gossip.SuspectTimeoutMS == 0 {
		cfg.Gossip.SuspectTimeoutMS = DefaultSuspectTimeoutMS
	}
	if cfg.Gossip.IndirectNodes == 0 {
		cfg.Gossip.IndirectNodes = DefaultIndirectNodes
	}
	if cfg.Gossip.SyncEvery == 0 {
		cfg.Gossip.SyncEvery = DefaultSyncEvery
	}

	// Election defaults
	if cfg.Election.MinTimeoutMS == 0 {
		cfg.Election.MinTimeoutMS = DefaultElectionMinTimeoutMS
	}
	if cfg.Election.MaxTimeoutMS == 0 {
		cfg.Election.MaxTimeoutMS = DefaultElectionMaxTimeoutMS
	}

	// Session defaults
	if cfg.Session.ListenAddress == "" {
		cfg.Session.ListenAddress = DefaultSessionListenAddress
	}
	if cfg.Session.Path == "" {
		cfg.Session.Path = DefaultSessionPath
	}
	if cfg.Session.HeartbeatIntervalMS == 0 {
		cfg.Session.HeartbeatIntervalMS = DefaultHeartbeatIntervalMS
	}
	if cfg.Session.HeartbeatTimeoutMS == 0 {
		cfg.Session.HeartbeatTimeoutMS = DefaultHeartbeatTimeoutMS
	}
	if cfg.Session.OutboundQueueDepth == 0 {
		cfg.Session.OutboundQueueDepth = DefaultOutboundQueueDepth
	}

	// Rate limit defaults
	if cfg.RateLimit.Points == 0 {
		cfg.RateLimit.Points = DefaultRateLimitPoints
	}
	if cfg.RateLimit.WindowMS == 0 {
		cfg.RateLimit.WindowMS = DefaultRateLimitWindowMS
	}

	// Memory defaults
	if cfg.Memory.HotCacheMaxPerSession == 0 {
		cfg.Memory.HotCacheMaxPerSession = DefaultHotCacheMaxPerSession
	}
	if cfg.Memory.MaxMessagesPerSession == 0 {
		cfg.Memory.MaxMessagesPerSession = DefaultMaxMessagesPerSession
	}
	if cfg.Memory.RecentMessagesOnResume == 0 {
		cfg.Memory.RecentMessagesOnResume = DefaultRecentMessagesOnResume
	}
	if cfg.Memory.SearchTopK == 0 {
		cfg.Memory.SearchTopK = DefaultSearchTopK
	}

	// Store defaults
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}

	// AI defaults
	if cfg.AI.DefaultProvider == "" {
		cfg.AI.DefaultProvider = DefaultAIProvider
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = DefaultMaxTokens
	}
	if cfg.AI.ThinkingBudgetTokens == 0 {
		cfg.AI.ThinkingBudgetTokens = DefaultThinkingBudgetTokens
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
}

// expandSecrets resolves ${ENV_VAR} references in provider API keys so
// secrets can be kept out of the config file.
func expandSecrets(cfg *Config) {
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.Expand(cfg.Providers[i].APIKey, os.Getenv)
	}
}
