// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
node:
  id: "node-1"
  bind_address: "127.0.0.1"
gossip:
  port: 7950
  seeds: ["10.0.0.1:7946", "10.0.0.2:7946"]
session:
  listen_address: ":9420"
rate_limit:
  points: 50
providers:
  anthropic:
    enabled: true
    default_model: "claude-sonnet-4-20250514"
    api_key: "${LOOM_TEST_API_KEY}"
    priority: 10
    cost_tier: "high"
    capabilities: [reasoning, coding, vision]
    max_thinking_tokens: 32000
  ollama:
    enabled: true
    base_url: "http://127.0.0.1:11434"
    default_model: "llama3"
    cost_tier: "low"
    capabilities: [local, cheap, fast]
ai:
  default_provider: "anthropic"
logging:
  level: debug
  format: text
`

func TestParse(t *testing.T) {
	os.Setenv("LOOM_TEST_API_KEY", "sk-test-123")
	defer os.Unsetenv("LOOM_TEST_API_KEY")

	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Node.ID != "node-1" {
		t.Errorf("Node.ID = %q, want node-1", cfg.Node.ID)
	}
	if cfg.Gossip.Port != 7950 {
		t.Errorf("Gossip.Port = %d, want 7950", cfg.Gossip.Port)
	}
	if len(cfg.Gossip.Seeds) != 2 {
		t.Errorf("Gossip.Seeds count = %d, want 2", len(cfg.Gossip.Seeds))
	}
	if cfg.RateLimit.Points != 50 {
		t.Errorf("RateLimit.Points = %d, want 50", cfg.RateLimit.Points)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("node:\n  id: n1\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Gossip.Port != DefaultGossipPort {
		t.Errorf("Gossip.Port = %d, want %d", cfg.Gossip.Port, DefaultGossipPort)
	}
	if cfg.Gossip.Interval() != time.Second {
		t.Errorf("Gossip.Interval = %v, want 1s", cfg.Gossip.Interval())
	}
	if cfg.Gossip.ProbeTimeout() != 500*time.Millisecond {
		t.Errorf("Gossip.ProbeTimeout = %v, want 500ms", cfg.Gossip.ProbeTimeout())
	}
	if cfg.Session.OutboundQueueDepth != DefaultOutboundQueueDepth {
		t.Errorf("Session.OutboundQueueDepth = %d, want %d",
			cfg.Session.OutboundQueueDepth, DefaultOutboundQueueDepth)
	}
	if cfg.Memory.HotCacheMaxPerSession != 1000 {
		t.Errorf("Memory.HotCacheMaxPerSession = %d, want 1000", cfg.Memory.HotCacheMaxPerSession)
	}
	if cfg.AI.DefaultProvider != "anthropic" {
		t.Errorf("AI.DefaultProvider = %q, want anthropic", cfg.AI.DefaultProvider)
	}
	if cfg.AI.GetTemperature() != 1.0 {
		t.Errorf("AI.GetTemperature = %v, want 1.0", cfg.AI.GetTemperature())
	}
	if cfg.Session.Path != "/fabric" {
		t.Errorf("Session.Path = %q, want /fabric", cfg.Session.Path)
	}
}

func TestProviderOrderPreserved(t *testing.T) {
	cfg, err := Parse([]byte(`
providers:
  zeta: {enabled: true, priority: 1}
  alpha: {enabled: true, priority: 1}
  mid: {enabled: true, priority: 1}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []string{"zeta", "alpha", "mid"}
	if len(cfg.Providers) != len(want) {
		t.Fatalf("provider count = %d, want %d", len(cfg.Providers), len(want))
	}
	for i, id := range want {
		if cfg.Providers[i].ID != id {
			t.Errorf("Providers[%d].ID = %q, want %q", i, cfg.Providers[i].ID, id)
		}
	}
}

func TestEnvExpansion(t *testing.T) {
	os.Setenv("LOOM_TEST_API_KEY", "sk-expanded")
	defer os.Unsetenv("LOOM_TEST_API_KEY")

	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	p := cfg.Providers.Get("anthropic")
	if p == nil {
		t.Fatal("anthropic provider missing")
	}
	if p.APIKey != "sk-expanded" {
		t.Errorf("APIKey = %q, want sk-expanded", p.APIKey)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad gossip port", func(c *Config) { c.Gossip.Port = 70000 }, "gossip.port"},
		{"probe >= suspect", func(c *Config) { c.Gossip.ProbeTimeoutMS = 6000 }, "gossip.probe_timeout_ms"},
		{"election max <= min", func(c *Config) { c.Election.MaxTimeoutMS = 100 }, "election.max_timeout_ms"},
		{"bad listen address", func(c *Config) { c.Session.ListenAddress = "nope" }, "session.listen_address"},
		{"bad cidr", func(c *Config) { c.Session.AllowedNetworks = []string{"10.0.0.0/99"} }, "session.allowed_networks"},
		{"zero rate points", func(c *Config) { c.RateLimit.Points = -1 }, "rate_limit.points"},
		{"bad cost tier", func(c *Config) { c.Providers = ProviderList{{ID: "x", CostTier: "free"}} }, "cost_tier"},
		{"bad capability", func(c *Config) {
			c.Providers = ProviderList{{ID: "x", Capabilities: []string{"magic"}}}
		}, "capabilities"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte("node:\n  id: n1\n"))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			tt.mutate(cfg)
			err = Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention field %q", err, tt.field)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/loom.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
