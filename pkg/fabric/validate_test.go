// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEnvelope() *Envelope {
	return &Envelope{
		MessageID: uuid.NewString(),
		Version:   ProtocolVersion,
		Type:      TypeMessage,
		Source:    Address{ClientID: "cli-1", SessionID: uuid.NewString()},
		Timestamp: 1700000000000,
		Priority:  5,
		Payload:   map[string]any{"content": "hi"},
	}
}

func TestValidateEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Envelope)
		wantErr string // substring of the violation path; empty = valid
	}{
		{name: "valid", mutate: func(*Envelope) {}},
		{name: "missing message id", mutate: func(e *Envelope) { e.MessageID = "" }, wantErr: "messageId"},
		{name: "non-uuid message id", mutate: func(e *Envelope) { e.MessageID = "not-a-uuid" }, wantErr: "messageId"},
		{name: "missing version", mutate: func(e *Envelope) { e.Version = "" }, wantErr: "version"},
		{name: "bad version format", mutate: func(e *Envelope) { e.Version = "v1" }, wantErr: "version"},
		{name: "two-part version ok", mutate: func(e *Envelope) { e.Version = "2.0" }},
		{name: "unknown type", mutate: func(e *Envelope) { e.Type = "NOPE" }, wantErr: "type"},
		{name: "missing source client", mutate: func(e *Envelope) { e.Source.ClientID = "" }, wantErr: "source.clientId"},
		{name: "missing source session", mutate: func(e *Envelope) { e.Source.SessionID = "" }, wantErr: "source.sessionId"},
		{name: "negative timestamp", mutate: func(e *Envelope) { e.Timestamp = -1 }, wantErr: "timestamp"},
		{name: "priority over max", mutate: func(e *Envelope) { e.Priority = 11 }, wantErr: "priority"},
		{name: "priority negative", mutate: func(e *Envelope) { e.Priority = -1 }, wantErr: "priority"},
		{name: "priority boundary ok", mutate: func(e *Envelope) { e.Priority = 10 }},
		{name: "nil payload", mutate: func(e *Envelope) { e.Payload = nil }, wantErr: "payload"},
		{name: "empty payload ok", mutate: func(e *Envelope) { e.Payload = map[string]any{} }},
		{name: "bad correlation id", mutate: func(e *Envelope) { e.CorrelationID = "xyz" }, wantErr: "correlationId"},
		{name: "bad in-reply-to", mutate: func(e *Envelope) { e.InReplyTo = "xyz" }, wantErr: "inReplyTo"},
		{name: "optional uuids ok", mutate: func(e *Envelope) {
			e.CorrelationID = uuid.NewString()
			e.InReplyTo = uuid.NewString()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(env)
			errs := ValidateEnvelope(env)
			if tt.wantErr == "" {
				if len(errs) != 0 {
					t.Errorf("unexpected violations: %s", joinFieldErrors(errs))
				}
				return
			}
			if !strings.Contains(joinFieldErrors(errs), tt.wantErr) {
				t.Errorf("violations %q missing %q", joinFieldErrors(errs), tt.wantErr)
			}
		})
	}
}

func TestValidateReturnsAllViolations(t *testing.T) {
	env := &Envelope{}
	errs := ValidateEnvelope(env)
	if len(errs) < 5 {
		t.Errorf("got %d violations for empty envelope, want all of them", len(errs))
	}
}

func TestEnvelopeJSONShape(t *testing.T) {
	env := validEnvelope()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"messageId", "version", "type", "source", "timestamp", "priority", "payload"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("key %q missing from wire form", key)
		}
	}
	// Optional fields are omitted when unset.
	for _, key := range []string{"target", "correlationId", "inReplyTo", "expiresAt", "metadata"} {
		if _, ok := raw[key]; ok {
			t.Errorf("unset key %q present on the wire", key)
		}
	}

	source := raw["source"].(map[string]any)
	if source["clientId"] != "cli-1" {
		t.Errorf("source = %v", source)
	}
}

func TestErrorEnvelopeRetryable(t *testing.T) {
	tests := []struct {
		code      string
		retryable bool
	}{
		{CodeRateLimitExceeded, true},
		{CodeProviderError, true},
		{CodeSlowClient, true},
		{CodeInternalError, true},
		{CodeAuthenticationRequired, false},
		{CodeAuthenticationFailed, false},
		{CodeInvalidMessage, false},
		{CodeTargetNotFound, false},
		{CodeUnknownMessageType, false},
		{CodeQueryError, false},
	}

	for _, tt := range tests {
		env := NewErrorEnvelope(tt.code, "boom", "")
		if env.Payload["retryable"] != tt.retryable {
			t.Errorf("%s retryable = %v, want %v", tt.code, env.Payload["retryable"], tt.retryable)
		}
		if env.Payload["errorCode"] != tt.code {
			t.Errorf("errorCode = %v", env.Payload["errorCode"])
		}
	}
}

func TestExpired(t *testing.T) {
	env := validEnvelope()
	if env.Expired(time.Now()) {
		t.Error("envelope without expiry reported expired")
	}
	env.ExpiresAt = 1
	if !env.Expired(time.Now()) {
		t.Error("past expiry not detected")
	}
}
