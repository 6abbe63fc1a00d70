// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cmd

import (
	"testing"
)

func TestCoalesceAny(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		fallback any
		expected any
	}{
		{"non-nil value", float64(3), 0, float64(3)},
		{"nil value", nil, 0, 0},
		{"zero is not nil", float64(0), 7, float64(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := coalesceAny(tt.value, tt.fallback)
			if result != tt.expected {
				t.Errorf("coalesceAny(%v, %v) = %v, want %v", tt.value, tt.fallback, result, tt.expected)
			}
		})
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("LOOM_TEST_VAR", "from-env")
	if got := getEnvOrDefault("LOOM_TEST_VAR", "fallback"); got != "from-env" {
		t.Errorf("got %q, want env value", got)
	}
	if got := getEnvOrDefault("LOOM_TEST_VAR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestRootCommandWiring(t *testing.T) {
	wanted := []string{"status", "nodes", "providers", "models", "chat", "broadcast", "completion"}
	for _, name := range wanted {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
