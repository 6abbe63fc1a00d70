// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/loganrossus/loom/pkg/auth"
	"github.com/loganrossus/loom/pkg/config"
	"github.com/loganrossus/loom/pkg/memory"
	"github.com/loganrossus/loom/pkg/providers"
	"github.com/loganrossus/loom/pkg/store"
)

// stubAdapter is a scriptable provider for dispatcher tests.
type stubAdapter struct {
	info    providers.Info
	resp    *providers.Response
	sendErr error
	chunks  []providers.Chunk
}

func (a *stubAdapter) Info() providers.Info { return a.info }
func (a *stubAdapter) Enabled() bool        { return a.info.Enabled }

func (a *stubAdapter) Send(ctx context.Context, req providers.Request) (*providers.Response, error) {
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	if a.resp != nil {
		return a.resp, nil
	}
	return &providers.Response{
		Content:  "stub answer",
		Provider: a.info.ID,
		Model:    a.info.DefaultModel,
		Usage:    providers.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}, nil
}

func (a *stubAdapter) Stream(ctx context.Context, req providers.Request) (<-chan providers.Chunk, error) {
	ch := make(chan providers.Chunk, len(a.chunks))
	for _, c := range a.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type testFabric struct {
	dispatcher *Dispatcher
	registry   *SessionRegistry
	memory     *memory.Service
	adapter    *stubAdapter
}

func newTestFabric(t *testing.T, verifier auth.Verifier) *testFabric {
	t.Helper()

	adapter := &stubAdapter{info: providers.Info{
		ID:           "stub",
		Enabled:      true,
		Priority:     10,
		CostTier:     providers.CostLow,
		DefaultModel: "stub-model",
		Capabilities: []providers.Capability{providers.CapFast},
	}}
	reg := providers.NewRegistry()
	if err := reg.Register(adapter); err != nil {
		t.Fatalf("register adapter: %v", err)
	}

	st, err := store.NewBboltStore(filepath.Join(t.TempDir(), "fabric.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	mem := memory.NewService(st, config.MemoryConfig{}, nil)

	registry := NewSessionRegistry()
	d := NewDispatcher(DispatcherConfig{
		Registry: registry,
		Verifier: verifier,
		Router:   providers.NewRouter(reg, nil),
		Memory:   mem,
		AI:       config.AIConfig{DefaultProvider: "stub", MaxTokens: 4096},
	})
	return &testFabric{dispatcher: d, registry: registry, memory: mem, adapter: adapter}
}

// clientEnvelope builds a valid inbound envelope.
func clientEnvelope(typ EnvelopeType, payload map[string]any) *Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Envelope{
		MessageID: uuid.NewString(),
		Version:   ProtocolVersion,
		Type:      typ,
		Source:    Address{ClientID: "cli-1", SessionID: uuid.NewString()},
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

func (f *testFabric) newActiveSession(t *testing.T, clientID string) (*Session, *fakeConn) {
	t.Helper()
	s, conn := newPumpedSession(t, 64)
	f.registry.Add(s)
	s.SetClientID(clientID)
	f.registry.BindClient(clientID, s)
	s.SetState(StateActive)
	t.Cleanup(func() { f.registry.Remove(s) })
	return s, conn
}

func TestDispatchRequiresRegistration(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := newPumpedSession(t, 16)
	s.SetState(StateAuthenticated)

	f.dispatcher.Dispatch(s, clientEnvelope(TypeQuery, map[string]any{"queryType": "session_info"}))

	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeError) != nil })
	if code := conn.lastOfType(TypeError).Payload["errorCode"]; code != CodeAuthenticationRequired {
		t.Errorf("errorCode = %v, want AUTHENTICATION_REQUIRED", code)
	}
}

func TestHeartbeatAllowedBeforeRegistration(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := newPumpedSession(t, 16)
	s.SetState(StateAuthenticated)

	env := clientEnvelope(TypeHeartbeat, nil)
	f.dispatcher.Dispatch(s, env)

	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeHeartbeatAck) != nil })
	ack := conn.lastOfType(TypeHeartbeatAck)
	if ack.InReplyTo != env.MessageID {
		t.Errorf("ack inReplyTo = %s, want %s", ack.InReplyTo, env.MessageID)
	}
}

func TestRegisterSuccess(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := newPumpedSession(t, 16)
	s.SetState(StateAuthenticated)

	f.dispatcher.Dispatch(s, clientEnvelope(TypeRegister, map[string]any{
		"clientId": "cli-1", "authToken": "secret",
	}))

	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeRegisterAck) != nil })
	ack := conn.lastOfType(TypeRegisterAck)
	if ack.Payload["success"] != true || ack.Payload["sessionId"] != s.ID {
		t.Errorf("ack payload = %v", ack.Payload)
	}
	if s.State() != StateActive {
		t.Errorf("state = %s, want active", s.State())
	}
	if _, ok := f.registry.GetByClient("cli-1"); !ok {
		t.Error("client not indexed after register")
	}
	if s.MemorySessionID() == "" {
		t.Error("no memory session created")
	}
}

func TestRegisterRequiresAuthTokenKey(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := newPumpedSession(t, 16)
	s.SetState(StateAuthenticated)

	// Credentials under any other key are not credentials.
	f.dispatcher.Dispatch(s, clientEnvelope(TypeRegister, map[string]any{
		"clientId": "cli-1", "token": "secret",
	}))

	<-s.Done()
	failed := conn.lastOfType(TypeError)
	if failed == nil || failed.Payload["errorCode"] != CodeAuthenticationFailed {
		t.Errorf("error envelope = %+v", failed)
	}
}

func TestRegisterBadTokenClosesSession(t *testing.T) {
	verifier, err := auth.NewTokenVerifier(map[string]string{"cli-1": "right"}, nil)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	f := newTestFabric(t, verifier)
	s, conn := newPumpedSession(t, 16)
	s.SetState(StateAuthenticated)

	f.dispatcher.Dispatch(s, clientEnvelope(TypeRegister, map[string]any{
		"clientId": "cli-1", "authToken": "wrong",
	}))

	<-s.Done()
	if s.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}
	failed := conn.lastOfType(TypeError)
	if failed == nil || failed.Payload["errorCode"] != CodeAuthenticationFailed {
		t.Errorf("error envelope = %+v", failed)
	}
}

func TestMessageDirectRouting(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	sender, senderConn := f.newActiveSession(t, "cli-a")
	_, peerConn := f.newActiveSession(t, "cli-b")

	env := clientEnvelope(TypeMessage, map[string]any{"content": "hi b"})
	env.Target = &Target{ClientID: "cli-b"}
	f.dispatcher.Dispatch(sender, env)

	waitFor(t, time.Second, func() bool { return peerConn.lastOfType(TypeMessage) != nil })
	if got := peerConn.lastOfType(TypeMessage); got.MessageID != env.MessageID {
		t.Errorf("delivered %s, want %s", got.MessageID, env.MessageID)
	}
	if senderConn.lastOfType(TypeMessage) != nil {
		t.Error("message echoed to sender")
	}
}

func TestMessageTargetNotFound(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	sender, conn := f.newActiveSession(t, "cli-a")

	env := clientEnvelope(TypeMessage, map[string]any{"content": "hi"})
	env.Target = &Target{ClientID: "ghost"}
	f.dispatcher.Dispatch(sender, env)

	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeError) != nil })
	if code := conn.lastOfType(TypeError).Payload["errorCode"]; code != CodeTargetNotFound {
		t.Errorf("errorCode = %v, want TARGET_NOT_FOUND", code)
	}
}

func TestGroupFanOutExcludesSender(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	sender, senderConn := f.newActiveSession(t, "cli-a")
	memberB, connB := f.newActiveSession(t, "cli-b")
	_, connC := f.newActiveSession(t, "cli-c")

	f.registry.Subscribe("room", sender)
	f.registry.Subscribe("room", memberB)
	// cli-c is not subscribed.

	env := clientEnvelope(TypeMessage, map[string]any{"content": "hello room"})
	env.Target = &Target{Group: "room"}
	f.dispatcher.Dispatch(sender, env)

	waitFor(t, time.Second, func() bool { return connB.lastOfType(TypeMessage) != nil })
	if senderConn.lastOfType(TypeMessage) != nil {
		t.Error("fan-out included the sender")
	}
	if connC.lastOfType(TypeMessage) != nil {
		t.Error("fan-out reached a non-member")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := f.newActiveSession(t, "cli-a")

	env := clientEnvelope(TypeSubscribe, map[string]any{"group": "room"})
	f.dispatcher.Dispatch(s, env)
	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeSubscribeAck) != nil })
	if len(f.registry.GroupMembers("room")) != 1 {
		t.Error("subscribe not recorded")
	}

	f.dispatcher.Dispatch(s, clientEnvelope(TypeUnsubscribe, map[string]any{"group": "room"}))
	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeUnsubscribeAck) != nil })
	if len(f.registry.GroupMembers("room")) != 0 {
		t.Error("unsubscribe not recorded")
	}
}

func TestQueryListProviders(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := f.newActiveSession(t, "cli-a")

	f.dispatcher.Dispatch(s, clientEnvelope(TypeQuery, map[string]any{"queryType": "list_providers"}))
	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeResponse) != nil })

	resp := conn.lastOfType(TypeResponse)
	list, ok := resp.Payload["providers"].([]map[string]any)
	if !ok || len(list) != 1 || list[0]["id"] != "stub" {
		t.Errorf("providers payload = %v", resp.Payload)
	}
}

func TestQueryUnknownType(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := f.newActiveSession(t, "cli-a")

	f.dispatcher.Dispatch(s, clientEnvelope(TypeQuery, map[string]any{"queryType": "bogus"}))
	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeResponse) != nil })

	if got := conn.lastOfType(TypeResponse).Payload["error"]; got != "Unknown query type" {
		t.Errorf("payload error = %v", got)
	}
}

func TestCommandUnknown(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := f.newActiveSession(t, "cli-a")

	f.dispatcher.Dispatch(s, clientEnvelope(TypeCommand, map[string]any{"command": "bogus"}))
	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeCommandResult) != nil })

	if got := conn.lastOfType(TypeCommandResult).Payload["error"]; got != "Unknown command" {
		t.Errorf("payload error = %v", got)
	}
}

func TestCommandGetStats(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := f.newActiveSession(t, "cli-a")

	f.dispatcher.Dispatch(s, clientEnvelope(TypeCommand, map[string]any{"command": "get_stats"}))
	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeCommandResult) != nil })

	res := conn.lastOfType(TypeCommandResult)
	if res.Payload["sessions"] != 1 {
		t.Errorf("sessions = %v, want 1", res.Payload["sessions"])
	}
}

func TestAIRequestNonStream(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := f.newActiveSession(t, "cli-a")

	memSess, err := f.memory.CreateSession(context.Background(), "cli-a")
	if err != nil {
		t.Fatalf("memory session: %v", err)
	}
	s.SetMemorySessionID(memSess.ID)

	env := clientEnvelope(TypeMessage, map[string]any{"content": "what is loom"})
	f.dispatcher.Dispatch(s, env)

	waitFor(t, 2*time.Second, func() bool { return conn.lastOfType(TypeResponse) != nil })
	resp := conn.lastOfType(TypeResponse)
	if resp.InReplyTo != env.MessageID {
		t.Errorf("inReplyTo = %s, want %s", resp.InReplyTo, env.MessageID)
	}
	if resp.Payload["content"] != "stub answer" || resp.Payload["provider"] != "stub" {
		t.Errorf("payload = %v", resp.Payload)
	}
	usage := resp.Payload["usage"].(map[string]any)
	if usage["totalTokens"] != 5 {
		t.Errorf("usage = %v", usage)
	}

	// Both turns persisted.
	waitFor(t, 2*time.Second, func() bool {
		msgs, err := f.memory.RecentMessages(context.Background(), memSess.ID, 10)
		return err == nil && len(msgs) == 2
	})
	msgs, _ := f.memory.RecentMessages(context.Background(), memSess.ID, 10)
	if msgs[0].Role != memory.RoleUser || msgs[1].Role != memory.RoleAssistant {
		t.Errorf("persisted roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestAIRequestStreaming(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	f.adapter.chunks = []providers.Chunk{
		{Kind: providers.ChunkThinking, Text: "hmm"},
		{Kind: providers.ChunkContent, Text: "hel"},
		{Kind: providers.ChunkContent, Text: "lo"},
		{Kind: providers.ChunkMetadata, Metadata: map[string]any{"totalTokens": 4}},
	}
	s, conn := f.newActiveSession(t, "cli-a")

	env := clientEnvelope(TypeMessage, map[string]any{"content": "hi", "stream": true})
	f.dispatcher.Dispatch(s, env)

	waitFor(t, 2*time.Second, func() bool { return conn.lastOfType(TypeStreamEnd) != nil })

	var chunkTypes []string
	var streamEnds int
	for _, got := range conn.envelopes() {
		switch got.Type {
		case TypeStreamChunk:
			if got.CorrelationID != env.MessageID {
				t.Errorf("chunk correlationId = %s, want %s", got.CorrelationID, env.MessageID)
			}
			chunkTypes = append(chunkTypes, got.Payload["type"].(string))
		case TypeStreamEnd:
			streamEnds++
			if got.CorrelationID != env.MessageID {
				t.Errorf("end correlationId = %s", got.CorrelationID)
			}
		}
	}
	want := []string{"thinking", "content", "content", "metadata"}
	if len(chunkTypes) != len(want) {
		t.Fatalf("chunk types = %v, want %v", chunkTypes, want)
	}
	for i := range want {
		if chunkTypes[i] != want[i] {
			t.Errorf("chunk %d = %s, want %s", i, chunkTypes[i], want[i])
		}
	}
	if streamEnds != 1 {
		t.Errorf("stream ends = %d, want exactly 1", streamEnds)
	}
}

func TestUnknownEnvelopeTypeFromClient(t *testing.T) {
	f := newTestFabric(t, auth.OpenVerifier{})
	s, conn := f.newActiveSession(t, "cli-a")

	// WELCOME is server-originated; a client sending it is an error.
	f.dispatcher.Dispatch(s, clientEnvelope(TypeWelcome, nil))
	waitFor(t, time.Second, func() bool { return conn.lastOfType(TypeError) != nil })
	if code := conn.lastOfType(TypeError).Payload["errorCode"]; code != CodeUnknownMessageType {
		t.Errorf("errorCode = %v, want UNKNOWN_MESSAGE_TYPE", code)
	}
}
