// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package providers

import (
	"fmt"
	"sync"
)

// Registry holds adapters in configuration declaration order. Selection
// tiebreaks depend on that order, so registration order is preserved.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
	byID     map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Adapter)}
}

// Register appends an adapter. Duplicate IDs are an error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.Info().ID
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.adapters = append(r.adapters, a)
	r.byID[id] = a
	return nil
}

// Get returns the adapter with the given ID.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

// Providers returns routing info for every registered adapter, in
// declaration order, with live enablement.
func (r *Registry) Providers() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.adapters))
	for _, a := range r.adapters {
		info := a.Info()
		info.Enabled = a.Enabled()
		out = append(out, info)
	}
	return out
}

// Models maps each enabled provider ID to its default model.
func (r *Registry) Models() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string)
	for _, a := range r.adapters {
		if a.Enabled() {
			out[a.Info().ID] = a.Info().DefaultModel
		}
	}
	return out
}

// EnabledIDs lists enabled provider IDs in declaration order.
func (r *Registry) EnabledIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, a := range r.adapters {
		if a.Enabled() {
			out = append(out, a.Info().ID)
		}
	}
	return out
}

// Select picks the adapter for a request:
//
//  1. The preferred provider, when named and enabled.
//  2. Among enabled providers covering every requested capability
//     (none → ErrNoSuitableProvider):
//  3. a local provider when "local" was requested,
//  4. the first low-cost candidate when "cheap" was requested,
//  5. otherwise the highest priority, first-declared on ties.
//
// exclude removes one provider from consideration, used by fallback.
func (r *Registry) Select(caps []Capability, preferred, exclude string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if preferred != "" && preferred != exclude {
		if a, ok := r.byID[preferred]; ok && a.Enabled() {
			return a, nil
		}
	}

	var candidates []Adapter
	for _, a := range r.adapters {
		if !a.Enabled() || a.Info().ID == exclude {
			continue
		}
		info := a.Info()
		if info.Covers(caps) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoSuitableProvider
	}

	if hasCap(caps, CapLocal) {
		for _, a := range candidates {
			if info := a.Info(); info.HasCapability(CapLocal) {
				return a, nil
			}
		}
	}

	if hasCap(caps, CapCheap) {
		for _, a := range candidates {
			if a.Info().CostTier == CostLow {
				return a, nil
			}
		}
	}

	best := candidates[0]
	for _, a := range candidates[1:] {
		if a.Info().Priority > best.Info().Priority {
			best = a
		}
	}
	return best, nil
}

func hasCap(caps []Capability, c Capability) bool {
	for _, cap := range caps {
		if cap == c {
			return true
		}
	}
	return false
}
