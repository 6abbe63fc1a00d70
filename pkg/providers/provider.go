// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package providers implements capability-based routing across upstream
// LLM providers, with blocking and streaming invocation and a single
// fallback on transient failure.
package providers

import (
	"context"
	"errors"
	"fmt"
)

// Capability tags what a provider is good for.
type Capability string

// Recognized capabilities.
const (
	CapReasoning Capability = "reasoning"
	CapCoding    Capability = "coding"
	CapFast      Capability = "fast"
	CapCheap     Capability = "cheap"
	CapLocal     Capability = "local"
	CapVision    Capability = "vision"
)

// CostTier buckets providers by price.
type CostTier string

// Cost tiers, cheapest first.
const (
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

// Routing errors.
var (
	// ErrNoSuitableProvider is returned when no enabled provider covers
	// the requested capabilities.
	ErrNoSuitableProvider = errors.New("no suitable provider")
)

// Info describes one registered provider.
type Info struct {
	ID                string       `json:"id"`
	Enabled           bool         `json:"enabled"`
	DefaultModel      string       `json:"defaultModel"`
	Priority          int          `json:"priority"`
	CostTier          CostTier     `json:"costTier"`
	Capabilities      []Capability `json:"capabilities"`
	MaxThinkingTokens int          `json:"maxThinkingTokens"`
}

// HasCapability reports whether the provider carries cap.
func (i *Info) HasCapability(cap Capability) bool {
	for _, c := range i.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Covers reports whether the provider carries every capability in caps.
func (i *Info) Covers(caps []Capability) bool {
	for _, c := range caps {
		if !i.HasCapability(c) {
			return false
		}
	}
	return true
}

// Adapter is the invocation surface of one upstream provider.
type Adapter interface {
	// Info returns the provider's routing attributes.
	Info() Info

	// Send performs a blocking completion call.
	Send(ctx context.Context, req Request) (*Response, error)

	// Stream performs a streaming call. The returned channel is closed
	// after the final chunk; at most one Error chunk terminates it.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// Enabled reports current availability, combining configuration
	// with health checking.
	Enabled() bool
}

// ProviderError wraps an upstream failure with a fallback
// classification. Semantic failures (rejected auth, content policy)
// never fall back; everything else may.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Semantic bool
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: HTTP %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// IsSemanticError reports whether err is a provider failure that must
// not trigger fallback.
func IsSemanticError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Semantic
}

// classifyStatus maps an HTTP status to a semantic flag. 401/403 are
// auth rejections; 400 and 422 are request-shape or policy rejections.
func classifyStatus(status int) bool {
	switch status {
	case 400, 401, 403, 422:
		return true
	default:
		return false
	}
}
