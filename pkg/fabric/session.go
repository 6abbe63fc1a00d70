// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is one step of the session lifecycle. Disconnected is
// terminal.
type SessionState int32

// Session states.
const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateDisconnected
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ErrQueueFull is returned when a session's outbound buffer overflows.
var ErrQueueFull = errors.New("outbound queue full")

// sessionConn is the transport surface a session writes to. The
// websocket connection satisfies it; tests substitute an in-memory one.
type sessionConn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one connected client. The outbound channel is drained by
// a single writer pump, so emission order is preserved and the
// transport never sees concurrent writes.
type Session struct {
	ID string

	conn     sessionConn
	outbound chan *Envelope
	logger   *slog.Logger

	// ctx is canceled on close, aborting in-flight provider calls.
	ctx    context.Context
	cancel context.CancelFunc

	quit      chan struct{}
	closeOnce sync.Once
	pumpDone  chan struct{}

	mu              sync.Mutex
	clientID        string
	memorySessionID string
	state           SessionState
	lastActivity    time.Time
	subscriptions   map[string]struct{}
	closeEnvelope   *Envelope
}

// NewSession wraps a connection in a session in the Connecting state.
func NewSession(conn sessionConn, queueDepth int, logger *slog.Logger) *Session {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		ID:            id,
		conn:          conn,
		outbound:      make(chan *Envelope, queueDepth),
		logger:        logger.With("component", "session", "session_id", id),
		ctx:           ctx,
		cancel:        cancel,
		quit:          make(chan struct{}),
		pumpDone:      make(chan struct{}),
		state:         StateConnecting,
		lastActivity:  time.Now(),
		subscriptions: make(map[string]struct{}),
	}
}

// Context is canceled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState advances the lifecycle. Disconnected is sticky.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}
	s.state = state
}

// ClientID returns the registered client identity, empty before
// registration.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// SetClientID binds the client identity after a successful register.
func (s *Session) SetClientID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = id
}

// MemorySessionID returns the persistence session backing this
// connection, empty when the memory service is absent.
func (s *Session) MemorySessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memorySessionID
}

// SetMemorySessionID binds the persistence session.
func (s *Session) SetMemorySessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memorySessionID = id
}

// Touch refreshes the activity clock. Every inbound envelope counts.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the most recent inbound envelope time.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Subscribe adds the session to a group. Re-subscribing is a no-op.
func (s *Session) Subscribe(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[group] = struct{}{}
}

// Unsubscribe removes the session from a group.
func (s *Session) Unsubscribe(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, group)
}

// Subscriptions returns the session's group memberships.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscriptions))
	for g := range s.subscriptions {
		out = append(out, g)
	}
	return out
}

// Send enqueues an envelope for the writer pump. A full queue closes
// the session as a slow client and returns ErrQueueFull.
func (s *Session) Send(env *Envelope) error {
	select {
	case s.outbound <- env:
		return nil
	case <-s.quit:
		return errors.New("session closed")
	default:
	}

	s.logger.Warn("outbound queue full, closing slow client",
		"client_id", s.ClientID(), "depth", cap(s.outbound))
	s.CloseWithError(CodeSlowClient, "outbound queue overflow")
	return ErrQueueFull
}

// Close shuts the session down without a protocol error.
func (s *Session) Close() {
	s.close(nil)
}

// CloseWithError sends a final ERROR envelope before closing the
// transport.
func (s *Session) CloseWithError(code, message string) {
	s.close(NewErrorEnvelope(code, message, ""))
}

func (s *Session) close(final *Envelope) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateDisconnected
		s.closeEnvelope = final
		s.mu.Unlock()

		s.cancel()
		close(s.quit)
	})
}

// Done is closed once the writer pump has flushed and the transport
// is closed.
func (s *Session) Done() <-chan struct{} { return s.pumpDone }

// writePump is the single writer goroutine. It drains the outbound
// queue in order and owns the transport for the session's lifetime.
func (s *Session) writePump() {
	defer close(s.pumpDone)
	defer s.conn.Close()

	for {
		select {
		case env := <-s.outbound:
			if err := s.conn.WriteJSON(env); err != nil {
				s.logger.Debug("transport write failed", "error", err)
				s.close(nil)
				return
			}
		case <-s.quit:
			// Drain what was queued before the close, then the final
			// error envelope if any.
			for {
				select {
				case env := <-s.outbound:
					if err := s.conn.WriteJSON(env); err != nil {
						return
					}
				default:
					s.mu.Lock()
					final := s.closeEnvelope
					s.mu.Unlock()
					if final != nil {
						s.conn.WriteJSON(final)
					}
					return
				}
			}
		}
	}
}
