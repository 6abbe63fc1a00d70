// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn records envelopes written through the session pump.
type fakeConn struct {
	mu     sync.Mutex
	writes []*Envelope
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	env, ok := v.(*Envelope)
	if !ok {
		return errors.New("unexpected write type")
	}
	c.writes = append(c.writes, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) envelopes() []*Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Envelope, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) lastOfType(t EnvelopeType) *Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.writes) - 1; i >= 0; i-- {
		if c.writes[i].Type == t {
			return c.writes[i]
		}
	}
	return nil
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newPumpedSession(t *testing.T, depth int) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s := NewSession(conn, depth, nil)
	go s.writePump()
	t.Cleanup(func() {
		s.Close()
		<-s.Done()
	})
	return s, conn
}

func TestSessionPumpPreservesOrder(t *testing.T) {
	s, conn := newPumpedSession(t, 16)

	first := NewEnvelope(TypeEvent, map[string]any{"n": 1})
	second := NewEnvelope(TypeEvent, map[string]any{"n": 2})
	third := NewEnvelope(TypeEvent, map[string]any{"n": 3})
	for _, env := range []*Envelope{first, second, third} {
		if err := s.Send(env); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool { return len(conn.envelopes()) == 3 })
	got := conn.envelopes()
	for i, want := range []*Envelope{first, second, third} {
		if got[i].MessageID != want.MessageID {
			t.Errorf("position %d: got %s, want %s", i, got[i].MessageID, want.MessageID)
		}
	}
}

func TestSessionOverflowClosesSlowClient(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, 1, nil)
	// Pump not started: the first send fills the buffer, the second
	// overflows.
	if err := s.Send(NewEnvelope(TypeEvent, nil)); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := s.Send(NewEnvelope(TypeEvent, nil)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Send err = %v, want ErrQueueFull", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}

	go s.writePump()
	<-s.Done()

	final := conn.lastOfType(TypeError)
	if final == nil {
		t.Fatal("no final error envelope")
	}
	if final.Payload["errorCode"] != CodeSlowClient {
		t.Errorf("errorCode = %v, want SLOW_CLIENT", final.Payload["errorCode"])
	}
}

func TestSessionCloseCancelsContext(t *testing.T) {
	s, _ := newPumpedSession(t, 4)
	s.Close()
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled on close")
	}
}

func TestSessionDisconnectedIsSticky(t *testing.T) {
	s, _ := newPumpedSession(t, 4)
	s.Close()
	s.SetState(StateActive)
	if s.State() != StateDisconnected {
		t.Errorf("state = %s after close, want disconnected", s.State())
	}
}

func TestSessionSubscriptions(t *testing.T) {
	s, _ := newPumpedSession(t, 4)
	s.Subscribe("alpha")
	s.Subscribe("alpha")
	s.Subscribe("beta")
	if n := len(s.Subscriptions()); n != 2 {
		t.Errorf("subscriptions = %d, want 2", n)
	}
	s.Unsubscribe("alpha")
	if got := s.Subscriptions(); len(got) != 1 || got[0] != "beta" {
		t.Errorf("subscriptions = %v", got)
	}
}
