// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package fabric implements the websocket session fabric: the envelope
// protocol, session lifecycle, routing, and fan-out.
package fabric

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the envelope protocol version.
const ProtocolVersion = "1.0"

// EnvelopeType identifies an envelope.
type EnvelopeType string

// Envelope types exchanged between server and client.
const (
	TypeRegister       EnvelopeType = "REGISTER"
	TypeRegisterAck    EnvelopeType = "REGISTER_ACK"
	TypeWelcome        EnvelopeType = "WELCOME"
	TypeHeartbeat      EnvelopeType = "HEARTBEAT"
	TypeHeartbeatAck   EnvelopeType = "HEARTBEAT_ACK"
	TypeMessage        EnvelopeType = "MESSAGE"
	TypeResponse       EnvelopeType = "RESPONSE"
	TypeStreamChunk    EnvelopeType = "STREAM_CHUNK"
	TypeStreamEnd      EnvelopeType = "STREAM_END"
	TypeQuery          EnvelopeType = "QUERY"
	TypeCommand        EnvelopeType = "COMMAND"
	TypeCommandResult  EnvelopeType = "COMMAND_RESULT"
	TypeEvent          EnvelopeType = "EVENT"
	TypeBroadcast      EnvelopeType = "BROADCAST"
	TypeSubscribe      EnvelopeType = "SUBSCRIBE"
	TypeSubscribeAck   EnvelopeType = "SUBSCRIBE_ACK"
	TypeUnsubscribe    EnvelopeType = "UNSUBSCRIBE"
	TypeUnsubscribeAck EnvelopeType = "UNSUBSCRIBE_ACK"
	TypeError          EnvelopeType = "ERROR"
)

// envelopeTypes is the set of recognized types.
var envelopeTypes = map[EnvelopeType]bool{
	TypeRegister: true, TypeRegisterAck: true, TypeWelcome: true,
	TypeHeartbeat: true, TypeHeartbeatAck: true, TypeMessage: true,
	TypeResponse: true, TypeStreamChunk: true, TypeStreamEnd: true,
	TypeQuery: true, TypeCommand: true, TypeCommandResult: true,
	TypeEvent: true, TypeBroadcast: true, TypeSubscribe: true,
	TypeSubscribeAck: true, TypeUnsubscribe: true, TypeUnsubscribeAck: true,
	TypeError: true,
}

// Address identifies the sender of an envelope.
type Address struct {
	ClientID  string `json:"clientId"`
	SessionID string `json:"sessionId"`
}

// Target selects the recipients of a MESSAGE envelope. At most one
// field is set; an empty target routes the message to the AI pipeline.
type Target struct {
	ClientID string `json:"clientId,omitempty"`
	Group    string `json:"group,omitempty"`
	All      bool   `json:"all,omitempty"`
}

// IsZero reports whether no routing target is set.
func (t *Target) IsZero() bool {
	return t == nil || (t.ClientID == "" && t.Group == "" && !t.All)
}

// Envelope is the unit of on-the-wire message exchange.
type Envelope struct {
	MessageID     string         `json:"messageId"`
	Version       string         `json:"version"`
	Type          EnvelopeType   `json:"type"`
	Source        Address        `json:"source"`
	Target        *Target        `json:"target,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	InReplyTo     string         `json:"inReplyTo,omitempty"`
	Timestamp     int64          `json:"timestamp"`
	Priority      int            `json:"priority"`
	ExpiresAt     int64          `json:"expiresAt,omitempty"`
	Payload       map[string]any `json:"payload"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the envelope carries a past expiry.
func (e *Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.UnixMilli() > e.ExpiresAt
}

// serverAddress is the source stamped on server-originated envelopes.
var serverAddress = Address{ClientID: "server", SessionID: "server"}

// NewEnvelope creates a server-originated envelope of the given type.
func NewEnvelope(t EnvelopeType, payload map[string]any) *Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Envelope{
		MessageID: uuid.NewString(),
		Version:   ProtocolVersion,
		Type:      t,
		Source:    serverAddress,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// NewWelcome creates the greeting sent on transport accept, advertising
// the session ID and server capabilities.
func NewWelcome(sessionID string, providers []string) *Envelope {
	return NewEnvelope(TypeWelcome, map[string]any{
		"sessionId": sessionID,
		"serverCapabilities": map[string]any{
			"streaming": true,
			"thinking":  true,
			"providers": providers,
		},
	})
}

// NewResponse creates a RESPONSE answering the envelope with the given
// message ID.
func NewResponse(inReplyTo string, payload map[string]any) *Envelope {
	e := NewEnvelope(TypeResponse, payload)
	e.InReplyTo = inReplyTo
	return e
}

// NewStreamChunk creates one STREAM_CHUNK correlated to the originating
// request.
func NewStreamChunk(correlationID string, payload map[string]any) *Envelope {
	e := NewEnvelope(TypeStreamChunk, payload)
	e.CorrelationID = correlationID
	return e
}

// NewStreamEnd creates the terminating STREAM_END for a request.
func NewStreamEnd(correlationID string, payload map[string]any) *Envelope {
	e := NewEnvelope(TypeStreamEnd, payload)
	e.CorrelationID = correlationID
	return e
}

// NewHeartbeatAck answers a HEARTBEAT with the server time.
func NewHeartbeatAck(inReplyTo string) *Envelope {
	e := NewEnvelope(TypeHeartbeatAck, map[string]any{
		"serverTime": time.Now().UnixMilli(),
	})
	e.InReplyTo = inReplyTo
	return e
}
