// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package config provides configuration loading and validation for Loom.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Loom.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Gossip    GossipConfig    `yaml:"gossip"`
	Election  ElectionConfig  `yaml:"election"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Memory    MemoryConfig    `yaml:"memory"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProviderList    `yaml:"providers"`
	AI        AIConfig        `yaml:"ai"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// NodeConfig identifies this coordination node.
type NodeConfig struct {
	// ID is the unique identifier for this node. Defaults to the hostname.
	ID string `yaml:"id"`

	// BindAddress is the address the gossip socket binds to.
	BindAddress string `yaml:"bind_address"`

	// AdvertiseAddress is the address other nodes use to reach this node.
	// Defaults to BindAddress when unset.
	AdvertiseAddress string `yaml:"advertise_address"`
}

// GossipConfig defines the SWIM gossip engine settings.
type GossipConfig struct {
	// Port is the UDP port for gossip communication.
	Port int `yaml:"port"`

	// IntervalMS is the tick interval between probe rounds.
	IntervalMS int `yaml:"interval_ms"`

	// ProbeTimeoutMS is how long to wait for a direct probe ack.
	ProbeTimeoutMS int `yaml:"probe_timeout_ms"`

	// SuspectTimeoutMS is how long without contact before a peer is
	// suspected, and again before a suspect is declared dead.
	SuspectTimeoutMS int `yaml:"suspect_timeout_ms"`

	// IndirectNodes is the number of peers asked to probe indirectly
	// when a direct probe times out.
	IndirectNodes int `yaml:"indirect_nodes"`

	// SyncEvery is the number of ticks between full state syncs.
	SyncEvery int `yaml:"sync_every"`

	// Seeds are host:port addresses of nodes to join on startup.
	Seeds []string `yaml:"seeds"`

	// SRVDiscovery is an optional DNS SRV name resolved to seed addresses.
	SRVDiscovery string `yaml:"srv_discovery"`
}

// Interval returns the gossip tick interval.
func (g *GossipConfig) Interval() time.Duration {
	return time.Duration(g.IntervalMS) * time.Millisecond
}

// ProbeTimeout returns the direct probe timeout.
func (g *GossipConfig) ProbeTimeout() time.Duration {
	return time.Duration(g.ProbeTimeoutMS) * time.Millisecond
}

// SuspectTimeout returns the suspect transition timeout.
func (g *GossipConfig) SuspectTimeout() time.Duration {
	return time.Duration(g.SuspectTimeoutMS) * time.Millisecond
}

// ElectionConfig defines leader election timing.
type ElectionConfig struct {
	// MinTimeoutMS is the lower bound of the randomized election deadline.
	MinTimeoutMS int `yaml:"min_timeout_ms"`

	// MaxTimeoutMS is the upper bound of the randomized election deadline.
	MaxTimeoutMS int `yaml:"max_timeout_ms"`
}

// MinTimeout returns the lower election deadline bound.
func (e *ElectionConfig) MinTimeout() time.Duration {
	return time.Duration(e.MinTimeoutMS) * time.Millisecond
}

// MaxTimeout returns the upper election deadline bound.
func (e *ElectionConfig) MaxTimeout() time.Duration {
	return time.Duration(e.MaxTimeoutMS) * time.Millisecond
}

// SessionConfig defines the client session fabric settings.
type SessionConfig struct {
	// ListenAddress is the address the websocket listener binds to.
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path clients connect to.
	Path string `yaml:"path"`

	// HeartbeatIntervalMS is how often the idle monitor runs.
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`

	// HeartbeatTimeoutMS is the idle age after which a session is closed.
	HeartbeatTimeoutMS int `yaml:"heartbeat_timeout_ms"`

	// OutboundQueueDepth is the per-session outbound buffer size.
	// A session that overflows it is closed as a slow client.
	OutboundQueueDepth int `yaml:"outbound_queue_depth"`

	// AllowedNetworks is an optional CIDR allowlist for client connects.
	// Empty means all networks are allowed.
	AllowedNetworks []string `yaml:"allowed_networks"`
}

// HeartbeatInterval returns the idle monitor interval.
func (s *SessionConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalMS) * time.Millisecond
}

// HeartbeatTimeout returns the idle session timeout.
func (s *SessionConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(s.HeartbeatTimeoutMS) * time.Millisecond
}

// RateLimitConfig defines the per-session envelope rate limit.
type RateLimitConfig struct {
	// Points is the number of envelopes allowed per rolling window.
	Points int `yaml:"points"`

	// WindowMS is the rolling window size.
	WindowMS int `yaml:"window_ms"`
}

// Window returns the rolling rate limit window.
func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMS) * time.Millisecond
}

// MemoryConfig defines the memory service settings.
type MemoryConfig struct {
	// HotCacheMaxPerSession caps the per-session hot memory cache.
	HotCacheMaxPerSession int `yaml:"hot_cache_max_per_session"`

	// MaxMessagesPerSession is the soft cap on non-code-edit messages.
	MaxMessagesPerSession int `yaml:"max_messages_per_session"`

	// RecentMessagesOnResume is how many messages ResumeSession returns.
	RecentMessagesOnResume int `yaml:"recent_messages_on_resume"`

	// SearchTopK is the result count for memory searches.
	SearchTopK int `yaml:"search_top_k"`
}

// StoreConfig defines the persistent store settings.
type StoreConfig struct {
	// Path is the bbolt database file path.
	Path string `yaml:"path"`
}

// AuthConfig defines the identity store settings.
type AuthConfig struct {
	// TokensFile is a YAML file mapping client IDs to SHA-256 token hashes.
	TokensFile string `yaml:"tokens_file"`

	// Tokens is an inline alternative to TokensFile.
	Tokens map[string]string `yaml:"tokens"`
}

// ProviderConfig defines one upstream LLM provider.
type ProviderConfig struct {
	// ID is the provider identifier, taken from the YAML key.
	ID string `yaml:"-"`

	// Enabled must be set explicitly; a configured but disabled provider
	// is never selected.
	Enabled bool `yaml:"enabled"`

	// DefaultModel is used when a request names no model.
	DefaultModel string `yaml:"default_model"`

	// APIKey supports ${ENV_VAR} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Priority orders candidates during selection; higher wins.
	Priority int `yaml:"priority"`

	// CostTier is one of low, medium, high.
	CostTier string `yaml:"cost_tier"`

	// Capabilities is a subset of
	// reasoning, coding, fast, cheap, local, vision.
	Capabilities []string `yaml:"capabilities"`

	// MaxThinkingTokens caps the extended-thinking budget for this
	// provider's models. Zero means thinking is unsupported.
	MaxThinkingTokens int `yaml:"max_thinking_tokens"`
}

// ProviderList holds providers in declaration order. Selection tiebreaks
// depend on that order, so the YAML mapping is decoded manually rather
// than into a Go map.
type ProviderList []ProviderConfig

// UnmarshalYAML decodes the providers mapping preserving key order.
func (p *ProviderList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("providers must be a mapping, got %s", value.Tag)
	}
	out := make(ProviderList, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var pc ProviderConfig
		if err := value.Content[i+1].Decode(&pc); err != nil {
			return fmt.Errorf("provider %q: %w", value.Content[i].Value, err)
		}
		pc.ID = value.Content[i].Value
		out = append(out, pc)
	}
	*p = out
	return nil
}

// Get returns the provider config with the given ID, or nil.
func (p ProviderList) Get(id string) *ProviderConfig {
	for i := range p {
		if p[i].ID == id {
			return &p[i]
		}
	}
	return nil
}

// AIConfig defines defaults applied to AI requests.
type AIConfig struct {
	// DefaultProvider is preferred when a request names no provider.
	DefaultProvider string `yaml:"default_provider"`

	// MaxTokens is the default completion token cap.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the default sampling temperature.
	// Ignored in thinking mode.
	Temperature *float64 `yaml:"temperature"`

	// ThinkingBudgetTokens is the default extended-thinking budget.
	ThinkingBudgetTokens int `yaml:"thinking_budget_tokens"`
}

// GetTemperature returns the configured temperature or the default.
func (a *AIConfig) GetTemperature() float64 {
	if a.Temperature == nil {
		return DefaultTemperature
	}
	return *a.Temperature
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig defines Prometheus metrics exposition settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}
