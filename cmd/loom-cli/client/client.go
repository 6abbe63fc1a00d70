// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package client implements a websocket envelope client for the Loom
// session fabric.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loganrossus/loom/pkg/fabric"
)

// Config holds connection parameters.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:9600/fabric.
	ServerURL string

	// ClientID and Token authenticate the registration.
	ClientID string
	Token    string

	// Timeout bounds the dial and each request round trip.
	Timeout time.Duration
}

// Client is a registered fabric connection. It is not safe for
// concurrent use; the CLI issues one request at a time.
type Client struct {
	conn      *websocket.Conn
	clientID  string
	sessionID string
	timeout   time.Duration

	// Providers advertised in the WELCOME greeting.
	Providers []string
}

// Connect dials the fabric, completes the WELCOME/REGISTER handshake,
// and returns a client ready to issue requests.
func Connect(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.ServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.ServerURL, err)
	}

	c := &Client{
		conn:     conn,
		clientID: cfg.ClientID,
		timeout:  cfg.Timeout,
	}

	conn.SetReadDeadline(time.Now().Add(cfg.Timeout))
	welcome, err := c.readEnvelope()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("no greeting from server: %w", err)
	}
	if welcome.Type != fabric.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %s", welcome.Type)
	}
	c.sessionID, _ = welcome.Payload["sessionId"].(string)
	if caps, ok := welcome.Payload["serverCapabilities"].(map[string]any); ok {
		if list, ok := caps["providers"].([]any); ok {
			for _, p := range list {
				if s, ok := p.(string); ok {
					c.Providers = append(c.Providers, s)
				}
			}
		}
	}

	register := c.newEnvelope(fabric.TypeRegister, map[string]any{
		"clientId":  cfg.ClientID,
		"authToken": cfg.Token,
	})
	ack, err := c.roundTrip(register, fabric.TypeRegisterAck)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	if ok, _ := ack.Payload["success"].(bool); !ok {
		conn.Close()
		return nil, fmt.Errorf("registration rejected by server")
	}

	return c, nil
}

// SessionID returns the server-assigned session identifier.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Query issues a QUERY and returns the RESPONSE payload.
func (c *Client) Query(queryType string, params map[string]any) (map[string]any, error) {
	payload := map[string]any{"queryType": queryType}
	for k, v := range params {
		payload[k] = v
	}
	resp, err := c.roundTrip(c.newEnvelope(fabric.TypeQuery, payload), fabric.TypeResponse)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Command issues a COMMAND and returns the COMMAND_RESULT payload.
func (c *Client) Command(command string, params map[string]any) (map[string]any, error) {
	payload := map[string]any{"command": command}
	for k, v := range params {
		payload[k] = v
	}
	resp, err := c.roundTrip(c.newEnvelope(fabric.TypeCommand, payload), fabric.TypeCommandResult)
	if err != nil {
		return nil, err
	}
	if errMsg, ok := resp.Payload["error"].(string); ok && errMsg != "" {
		return nil, fmt.Errorf("%s", errMsg)
	}
	return resp.Payload, nil
}

// Chat sends a prompt through the AI pipeline and blocks for the full
// RESPONSE.
func (c *Client) Chat(prompt string, opts map[string]any) (map[string]any, error) {
	payload := map[string]any{"content": prompt}
	for k, v := range opts {
		payload[k] = v
	}
	env := c.newEnvelope(fabric.TypeMessage, payload)

	if err := c.writeEnvelope(env); err != nil {
		return nil, err
	}
	// Model latency dominates here; give the response five round-trip
	// budgets before giving up.
	resp, err := c.awaitReply(env.MessageID, fabric.TypeResponse, 5*c.timeout)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// ChunkHandler receives each streamed chunk payload in arrival order.
type ChunkHandler func(payload map[string]any)

// ChatStream sends a prompt with streaming enabled and invokes fn for
// every STREAM_CHUNK until STREAM_END, whose payload it returns.
func (c *Client) ChatStream(prompt string, opts map[string]any, fn ChunkHandler) (map[string]any, error) {
	payload := map[string]any{"content": prompt, "stream": true}
	for k, v := range opts {
		payload[k] = v
	}
	env := c.newEnvelope(fabric.TypeMessage, payload)

	if err := c.writeEnvelope(env); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(5 * c.timeout)
	for {
		c.conn.SetReadDeadline(deadline)
		got, err := c.readEnvelope()
		if err != nil {
			return nil, fmt.Errorf("stream interrupted: %w", err)
		}
		switch got.Type {
		case fabric.TypeStreamChunk:
			if got.CorrelationID == env.MessageID {
				fn(got.Payload)
			}
		case fabric.TypeStreamEnd:
			if got.CorrelationID == env.MessageID {
				return got.Payload, nil
			}
		case fabric.TypeError:
			return nil, envelopeError(got)
		}
	}
}

// newEnvelope builds a client-originated envelope that passes server
// validation.
func (c *Client) newEnvelope(t fabric.EnvelopeType, payload map[string]any) *fabric.Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return &fabric.Envelope{
		MessageID: uuid.NewString(),
		Version:   fabric.ProtocolVersion,
		Type:      t,
		Source: fabric.Address{
			ClientID:  c.clientID,
			SessionID: c.sessionID,
		},
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// roundTrip writes env and waits for a reply of the wanted type
// correlated to it.
func (c *Client) roundTrip(env *fabric.Envelope, want fabric.EnvelopeType) (*fabric.Envelope, error) {
	if err := c.writeEnvelope(env); err != nil {
		return nil, err
	}
	return c.awaitReply(env.MessageID, want, c.timeout)
}

// awaitReply reads until an envelope of the wanted type answers
// messageID. Unrelated events and broadcasts are skipped.
func (c *Client) awaitReply(messageID string, want fabric.EnvelopeType, timeout time.Duration) (*fabric.Envelope, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.conn.SetReadDeadline(deadline)
		got, err := c.readEnvelope()
		if err != nil {
			return nil, fmt.Errorf("no reply from server: %w", err)
		}
		switch {
		case got.Type == want && (got.InReplyTo == messageID || got.CorrelationID == messageID):
			return got, nil
		case got.Type == fabric.TypeError:
			return nil, envelopeError(got)
		}
	}
}

func (c *Client) writeEnvelope(env *fabric.Envelope) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) readEnvelope() (*fabric.Envelope, error) {
	var env fabric.Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// envelopeError converts an ERROR envelope into a Go error.
func envelopeError(env *fabric.Envelope) error {
	code, _ := env.Payload["errorCode"].(string)
	msg, _ := env.Payload["message"].(string)
	if code == "" {
		code = "UNKNOWN"
	}
	if msg == "" {
		return fmt.Errorf("server error %s", code)
	}
	return fmt.Errorf("server error %s: %s", code, msg)
}
