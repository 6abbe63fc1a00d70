// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package memory

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "simple words", in: "hello world", want: []string{"hello", "world"}},
		{name: "case folded", in: "Hello WORLD", want: []string{"hello", "world"}},
		{name: "punctuation splits", in: "foo.bar, baz!", want: []string{"foo", "bar", "baz"}},
		{name: "short runs dropped", in: "a be sea", want: []string{"be", "sea"}},
		{name: "digits kept", in: "port 8080 open", want: []string{"port", "8080", "open"}},
		{name: "empty", in: "", want: nil},
		{name: "only separators", in: "-- .. !!", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tokenize(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestUniqueTerms(t *testing.T) {
	got := uniqueTerms([]string{"go", "fast", "go", "go", "fast"})
	want := []string{"go", "fast"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("uniqueTerms = %v, want %v", got, want)
	}
}
