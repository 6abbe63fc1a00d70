// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package providers

import (
	"context"
	"errors"
	"testing"
)

func TestInvokeFallsBackOnTransientFailure(t *testing.T) {
	primary := fake("primary", true, 10, CostHigh, CapFast)
	primary.sendErr = &ProviderError{Provider: "primary", Status: 503, Message: "overloaded"}
	secondary := fake("secondary", true, 5, CostLow, CapFast)

	router := NewRouter(buildTestRegistry(t, primary, secondary), nil)

	resp, err := router.Invoke(context.Background(), Request{Capabilities: []Capability{CapFast}})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if resp.Provider != "secondary" {
		t.Errorf("served by %s, want secondary", resp.Provider)
	}
	if primary.sendCalls != 1 || secondary.sendCalls != 1 {
		t.Errorf("calls = primary %d secondary %d, want 1 each", primary.sendCalls, secondary.sendCalls)
	}
}

func TestInvokeSemanticErrorDoesNotFallBack(t *testing.T) {
	primary := fake("primary", true, 10, CostHigh, CapFast)
	primary.sendErr = &ProviderError{Provider: "primary", Status: 401, Message: "bad key", Semantic: true}
	secondary := fake("secondary", true, 5, CostLow, CapFast)

	router := NewRouter(buildTestRegistry(t, primary, secondary), nil)

	_, err := router.Invoke(context.Background(), Request{Capabilities: []Capability{CapFast}})
	if err == nil {
		t.Fatal("semantic error swallowed")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != "primary" {
		t.Errorf("err = %v, want primary's semantic error", err)
	}
	if secondary.sendCalls != 0 {
		t.Errorf("fallback attempted after semantic error")
	}
}

func TestInvokeExactlyOneFallback(t *testing.T) {
	a := fake("a", true, 10, CostHigh, CapFast)
	a.sendErr = &ProviderError{Provider: "a", Status: 500, Message: "boom"}
	b := fake("b", true, 5, CostMedium, CapFast)
	b.sendErr = &ProviderError{Provider: "b", Status: 500, Message: "boom"}
	c := fake("c", true, 1, CostLow, CapFast)

	router := NewRouter(buildTestRegistry(t, a, b, c), nil)

	_, err := router.Invoke(context.Background(), Request{Capabilities: []Capability{CapFast}})
	if err == nil {
		t.Fatal("second failure swallowed")
	}
	if c.sendCalls != 0 {
		t.Error("third provider attempted; fallback must happen at most once")
	}
}

func TestInvokeNoCandidates(t *testing.T) {
	router := NewRouter(buildTestRegistry(t), nil)
	if _, err := router.Invoke(context.Background(), Request{}); !errors.Is(err, ErrNoSuitableProvider) {
		t.Errorf("err = %v, want ErrNoSuitableProvider", err)
	}
}

func TestInvokeFallbackUnavailableSurfacesOriginal(t *testing.T) {
	only := fake("only", true, 10, CostHigh, CapFast)
	only.sendErr = &ProviderError{Provider: "only", Status: 500, Message: "boom"}

	router := NewRouter(buildTestRegistry(t, only), nil)

	_, err := router.Invoke(context.Background(), Request{Capabilities: []Capability{CapFast}})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != "only" {
		t.Errorf("err = %v, want original provider error", err)
	}
}

func TestInvokeStreamFallsBackOnOpenFailure(t *testing.T) {
	primary := fake("primary", true, 10, CostHigh, CapFast)
	primary.streamErr = &ProviderError{Provider: "primary", Status: 502, Message: "bad gateway"}
	secondary := fake("secondary", true, 5, CostLow, CapFast)
	secondary.chunks = []Chunk{contentChunk("hel"), contentChunk("lo"), metadataChunk(map[string]any{"totalTokens": 3})}

	router := NewRouter(buildTestRegistry(t, primary, secondary), nil)

	ch, sel, err := router.InvokeStream(context.Background(), Request{Capabilities: []Capability{CapFast}})
	if err != nil {
		t.Fatalf("InvokeStream failed: %v", err)
	}
	if sel.Provider != "secondary" {
		t.Errorf("selection = %+v, want secondary", sel)
	}

	var text string
	var sawMetadata bool
	for chunk := range ch {
		switch chunk.Kind {
		case ChunkContent:
			if sawMetadata {
				t.Error("content chunk after metadata")
			}
			text += chunk.Text
		case ChunkMetadata:
			sawMetadata = true
		case ChunkError:
			t.Errorf("unexpected error chunk: %v", chunk.Err)
		}
	}
	if text != "hello" {
		t.Errorf("streamed text = %q, want hello", text)
	}
	if !sawMetadata {
		t.Error("metadata chunk missing")
	}
}

func TestIsSemanticError(t *testing.T) {
	if IsSemanticError(errors.New("plain")) {
		t.Error("plain error classified semantic")
	}
	if !IsSemanticError(&ProviderError{Semantic: true}) {
		t.Error("semantic provider error not recognized")
	}
	wrapped := errors.Join(errors.New("ctx"), &ProviderError{Semantic: true})
	if !IsSemanticError(wrapped) {
		t.Error("wrapped semantic error not recognized")
	}
}
