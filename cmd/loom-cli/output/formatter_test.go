// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestTableFormatter_PrintTable(t *testing.T) {
	tests := []struct {
		name     string
		headers  []string
		rows     [][]string
		contains []string
	}{
		{
			name:    "basic table",
			headers: []string{"PROVIDER", "STATUS"},
			rows: [][]string{
				{"anthropic", "enabled"},
				{"ollama", "disabled"},
			},
			contains: []string{"PROVIDER", "STATUS", "anthropic", "enabled", "ollama", "disabled"},
		},
		{
			name:     "empty table",
			headers:  []string{"PROVIDER", "STATUS"},
			rows:     [][]string{},
			contains: []string{"No data available"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &TableFormatter{Writer: buf}
			f.PrintTable(tt.headers, tt.rows)

			output := buf.String()
			for _, s := range tt.contains {
				if !strings.Contains(output, s) {
					t.Errorf("expected output to contain %q, got:\n%s", s, output)
				}
			}
		})
	}
}

func TestTableFormatter_PrintKeyValue(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &TableFormatter{Writer: buf}

	pairs := []KVPair{
		{Key: "Node", Value: "node-a"},
		{Key: "Leader", Value: "true"},
	}
	f.PrintKeyValue(pairs)

	output := buf.String()
	for _, want := range []string{"Node:", "node-a", "Leader:", "true"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, output)
		}
	}
}

func TestJSONFormatter_Print(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &JSONFormatter{Writer: buf, Pretty: false}

	if err := f.Print(map[string]int{"sessions": 3}); err != nil {
		t.Fatalf("Print: %v", err)
	}

	var got map[string]int
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got["sessions"] != 3 {
		t.Errorf("sessions = %d, want 3", got["sessions"])
	}
}

func TestJSONFormatter_PrintTable(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &JSONFormatter{Writer: buf}

	f.PrintTable([]string{"Node ID", "State"}, [][]string{{"node-a", "alive"}})

	var got []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(got) != 1 || got[0]["node_id"] != "node-a" || got[0]["state"] != "alive" {
		t.Errorf("got %v", got)
	}
}

func TestJSONFormatter_PrintError(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &JSONFormatter{Writer: buf}

	f.PrintError(errors.New("boom"))

	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got["error"] != "boom" {
		t.Errorf("error = %q", got["error"])
	}
}

func TestGetFormatter(t *testing.T) {
	if _, ok := GetFormatter(true).(*JSONFormatter); !ok {
		t.Error("json flag did not select JSONFormatter")
	}
	if _, ok := GetFormatter(false).(*TableFormatter); !ok {
		t.Error("default did not select TableFormatter")
	}
}
