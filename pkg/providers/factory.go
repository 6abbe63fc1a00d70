// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/loganrossus/loom/pkg/config"
)

// healthSetter is implemented by every adapter built here.
type healthSetter interface {
	Adapter
	SetHealthy(bool)
}

// BuildRegistry constructs adapters from configuration, preserving
// declaration order, and registers reachability checks with the health
// manager when one is given.
func BuildRegistry(cfgs config.ProviderList, health *HealthManager) (*Registry, error) {
	registry := NewRegistry()

	for _, pc := range cfgs {
		info := Info{
			ID:                pc.ID,
			Enabled:           pc.Enabled,
			DefaultModel:      pc.DefaultModel,
			Priority:          pc.Priority,
			CostTier:          CostTier(pc.CostTier),
			MaxThinkingTokens: pc.MaxThinkingTokens,
		}
		for _, c := range pc.Capabilities {
			info.Capabilities = append(info.Capabilities, Capability(c))
		}

		adapter, err := buildAdapter(info, pc)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}

		if health != nil && pc.Enabled {
			check := reachabilityCheck(adapter)
			if err := health.AddProvider(pc.ID, check, adapter.SetHealthy); err != nil {
				return nil, err
			}
		}
	}
	return registry, nil
}

// buildAdapter picks the wire dialect by provider ID. Unrecognized IDs
// get the chat-completions dialect, which most gateways emulate.
func buildAdapter(info Info, pc config.ProviderConfig) (healthSetter, error) {
	switch pc.ID {
	case "anthropic":
		return NewAnthropicAdapter(info, pc.APIKey, pc.BaseURL), nil
	case "ollama":
		return NewOllamaAdapter(info, pc.BaseURL), nil
	case "openai":
		return NewOpenAIAdapter(info, pc.APIKey, pc.BaseURL), nil
	default:
		if pc.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: unrecognized ID requires base_url", pc.ID)
		}
		return NewOpenAIAdapter(info, pc.APIKey, pc.BaseURL), nil
	}
}

// reachabilityCheck probes the provider's endpoint. Any HTTP response
// counts as a pass; only transport failures fail the check, so auth
// and routing differences don't flap availability.
func reachabilityCheck(adapter Adapter) HealthCheck {
	var url string
	switch a := adapter.(type) {
	case *AnthropicAdapter:
		url = a.baseURL + "/v1/messages"
	case *OllamaAdapter:
		url = a.baseURL + "/api/tags"
	case *OpenAIAdapter:
		url = a.baseURL + "/v1/models"
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := defaultHTTPClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}
