// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loganrossus/loom/pkg/auth"
	"github.com/loganrossus/loom/pkg/cluster"
	"github.com/loganrossus/loom/pkg/config"
	"github.com/loganrossus/loom/pkg/memory"
	"github.com/loganrossus/loom/pkg/metrics"
	"github.com/loganrossus/loom/pkg/providers"
)

// contextTurns is how many prior conversation turns are injected into
// an AI request.
const contextTurns = 20

// DispatcherConfig wires the dispatcher's collaborators. Gossip,
// elector and tasks are optional; queries answer degraded without them.
type DispatcherConfig struct {
	Registry *SessionRegistry
	Verifier auth.Verifier
	Router   *providers.Router
	Memory   *memory.Service
	Gossip   *cluster.GossipManager
	Elector  *cluster.Elector
	Tasks    *cluster.TaskQueue
	AI       config.AIConfig
	Logger   *slog.Logger
}

// Dispatcher routes validated envelopes to their handlers.
type Dispatcher struct {
	registry *SessionRegistry
	verifier auth.Verifier
	router   *providers.Router
	memory   *memory.Service
	gossip   *cluster.GossipManager
	elector  *cluster.Elector
	tasks    *cluster.TaskQueue
	ai       config.AIConfig
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		verifier: cfg.Verifier,
		router:   cfg.Router,
		memory:   cfg.Memory,
		gossip:   cfg.Gossip,
		elector:  cfg.Elector,
		tasks:    cfg.Tasks,
		ai:       cfg.AI,
		logger:   logger.With("component", "dispatch"),
	}
}

// sendError emits an ERROR envelope on the session.
func (d *Dispatcher) sendError(s *Session, code, message, inReplyTo string) {
	metrics.EnvelopeErrors.WithLabelValues(code).Inc()
	s.Send(NewErrorEnvelope(code, message, inReplyTo))
}

// Dispatch handles one validated envelope. Sessions that are not yet
// Active may only register or heartbeat.
func (d *Dispatcher) Dispatch(s *Session, env *Envelope) {
	metrics.EnvelopesTotal.WithLabelValues(string(env.Type)).Inc()

	if s.State() != StateActive && env.Type != TypeRegister && env.Type != TypeHeartbeat {
		d.sendError(s, CodeAuthenticationRequired, "register before sending envelopes", env.MessageID)
		return
	}

	switch env.Type {
	case TypeRegister:
		d.handleRegister(s, env)
	case TypeHeartbeat:
		s.Send(NewHeartbeatAck(env.MessageID))
	case TypeMessage:
		d.handleMessage(s, env)
	case TypeSubscribe:
		d.handleSubscribe(s, env)
	case TypeUnsubscribe:
		d.handleUnsubscribe(s, env)
	case TypeQuery:
		d.handleQuery(s, env)
	case TypeCommand:
		d.handleCommand(s, env)
	case TypeBroadcast:
		d.fanOut(s, env, d.registry.All())
	case TypeEvent:
		d.handleEvent(s, env)
	default:
		// Server-originated types arriving from a client.
		d.sendError(s, CodeUnknownMessageType,
			"type not accepted from clients: "+string(env.Type), env.MessageID)
	}
}

func payloadString(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func (d *Dispatcher) handleRegister(s *Session, env *Envelope) {
	clientID := payloadString(env.Payload, "clientId")
	token := payloadString(env.Payload, "authToken")
	if clientID == "" || token == "" {
		d.sendError(s, CodeAuthenticationFailed, "clientId and authToken required", env.MessageID)
		s.CloseWithError(CodeAuthenticationFailed, "registration rejected")
		return
	}

	if err := d.verifier.VerifyToken(s.Context(), clientID, token); err != nil {
		d.logger.Warn("registration rejected", "client_id", clientID, "session_id", s.ID)
		d.sendError(s, CodeAuthenticationFailed, "invalid credentials", env.MessageID)
		s.CloseWithError(CodeAuthenticationFailed, "registration rejected")
		return
	}

	s.SetClientID(clientID)
	d.registry.BindClient(clientID, s)

	if d.memory != nil {
		memSess, err := d.memory.CreateSession(s.Context(), clientID)
		if err != nil {
			d.logger.Error("memory session create failed", "client_id", clientID, "error", err)
		} else {
			s.SetMemorySessionID(memSess.ID)
		}
	}

	s.SetState(StateActive)
	ack := NewEnvelope(TypeRegisterAck, map[string]any{
		"success":   true,
		"sessionId": s.ID,
	})
	ack.InReplyTo = env.MessageID
	s.Send(ack)
	d.logger.Info("client registered", "client_id", clientID, "session_id", s.ID)
}

// handleMessage routes by target: a named client, a group, everyone,
// or (no target) the AI pipeline.
func (d *Dispatcher) handleMessage(s *Session, env *Envelope) {
	t := env.Target
	switch {
	case t.IsZero():
		d.handleAIRequest(s, env)
	case t.ClientID != "":
		peer, ok := d.registry.GetByClient(t.ClientID)
		if !ok || peer.State() != StateActive {
			d.sendError(s, CodeTargetNotFound, "no active session for client "+t.ClientID, env.MessageID)
			return
		}
		peer.Send(env)
	case t.Group != "":
		d.fanOut(s, env, d.registry.GroupMembers(t.Group))
	case t.All:
		d.fanOut(s, env, d.registry.All())
	}
}

// fanOut delivers an envelope to every active recipient except the
// sender. Slow recipients are closed by their own Send path and never
// block the others.
func (d *Dispatcher) fanOut(sender *Session, env *Envelope, recipients []*Session) {
	for _, peer := range recipients {
		if peer.ID == sender.ID || peer.State() != StateActive {
			continue
		}
		peer.Send(env)
	}
}

func (d *Dispatcher) handleSubscribe(s *Session, env *Envelope) {
	group := payloadString(env.Payload, "group")
	if group == "" {
		d.sendError(s, CodeInvalidMessage, "subscribe requires a group", env.MessageID)
		return
	}
	d.registry.Subscribe(group, s)
	ack := NewEnvelope(TypeSubscribeAck, map[string]any{"group": group})
	ack.InReplyTo = env.MessageID
	s.Send(ack)
}

func (d *Dispatcher) handleUnsubscribe(s *Session, env *Envelope) {
	group := payloadString(env.Payload, "group")
	if group == "" {
		d.sendError(s, CodeInvalidMessage, "unsubscribe requires a group", env.MessageID)
		return
	}
	d.registry.Unsubscribe(group, s)
	ack := NewEnvelope(TypeUnsubscribeAck, map[string]any{"group": group})
	ack.InReplyTo = env.MessageID
	s.Send(ack)
}

// handleEvent fans an application event out to a group's subscribers.
func (d *Dispatcher) handleEvent(s *Session, env *Envelope) {
	group := payloadString(env.Payload, "group")
	if group == "" {
		d.sendError(s, CodeInvalidMessage, "event requires a group", env.MessageID)
		return
	}
	d.fanOut(s, env, d.registry.GroupMembers(group))
}

func (d *Dispatcher) handleQuery(s *Session, env *Envelope) {
	queryType := payloadString(env.Payload, "queryType")

	var result map[string]any
	switch queryType {
	case "list_providers":
		infos := d.router.Registry().Providers()
		list := make([]map[string]any, 0, len(infos))
		for _, info := range infos {
			list = append(list, map[string]any{
				"id":           info.ID,
				"enabled":      info.Enabled,
				"priority":     info.Priority,
				"costTier":     string(info.CostTier),
				"capabilities": info.Capabilities,
				"defaultModel": info.DefaultModel,
			})
		}
		result = map[string]any{"providers": list}

	case "list_models":
		result = map[string]any{"models": d.router.Registry().Models()}

	case "get_nodes":
		result = d.nodesResult()

	case "session_info":
		result = map[string]any{
			"sessionId":     s.ID,
			"clientId":      s.ClientID(),
			"state":         s.State().String(),
			"subscriptions": s.Subscriptions(),
			"lastActivity":  s.LastActivity().UnixMilli(),
		}

	default:
		result = map[string]any{"error": "Unknown query type"}
	}

	s.Send(NewResponse(env.MessageID, result))
}

// nodesResult snapshots cluster membership. Without a gossip engine
// (single-node deployments) the node list is empty.
func (d *Dispatcher) nodesResult() map[string]any {
	if d.gossip == nil {
		return map[string]any{"nodes": []any{}}
	}
	members := d.gossip.Members()
	nodes := make([]map[string]any, 0, len(members))
	for _, n := range members {
		nodes = append(nodes, map[string]any{
			"id":          n.ID,
			"address":     n.Address,
			"port":        n.Port,
			"state":       n.State.String(),
			"incarnation": n.Incarnation,
			"isLeader":    n.IsLeader,
		})
	}
	return map[string]any{
		"nodes": nodes,
		"stats": d.gossip.Stats(),
	}
}

func (d *Dispatcher) handleCommand(s *Session, env *Envelope) {
	command := payloadString(env.Payload, "command")

	var result map[string]any
	switch command {
	case "get_stats":
		result = map[string]any{
			"sessions": d.registry.Count(),
		}
		if d.gossip != nil {
			result["gossip"] = d.gossip.Stats()
		}
		if d.tasks != nil {
			result["tasks"] = d.tasks.Stats()
		}
		if d.elector != nil {
			result["isLeader"] = d.elector.IsLeader()
			result["term"] = d.elector.Term()
		}

	case "broadcast_task":
		result = d.submitBroadcast(env)

	default:
		result = map[string]any{"error": "Unknown command"}
	}

	res := NewEnvelope(TypeCommandResult, result)
	res.InReplyTo = env.MessageID
	s.Send(res)
}

func (d *Dispatcher) submitBroadcast(env *Envelope) map[string]any {
	if d.tasks == nil {
		return map[string]any{"error": "task queue unavailable"}
	}
	data, err := json.Marshal(env.Payload["payload"])
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	taskID, err := d.tasks.Submit(cluster.TaskBroadcast, data, time.Time{})
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"taskId": taskID, "submitted": true}
}

// buildAIRequest translates a MESSAGE payload into a provider request,
// applying configured defaults and injecting recent conversation turns
// from the memory service.
func (d *Dispatcher) buildAIRequest(s *Session, env *Envelope, content string) providers.Request {
	req := providers.Request{
		Model:             payloadString(env.Payload, "model"),
		PreferredProvider: payloadString(env.Payload, "provider"),
		MaxTokens:         d.ai.MaxTokens,
		Temperature:       d.ai.GetTemperature(),
	}
	if req.PreferredProvider == "" {
		req.PreferredProvider = d.ai.DefaultProvider
	}
	if v, ok := env.Payload["maxTokens"].(float64); ok && v > 0 {
		req.MaxTokens = int(v)
	}
	if v, ok := env.Payload["stream"].(bool); ok {
		req.Stream = v
	}
	if caps, ok := env.Payload["capabilities"].([]any); ok {
		for _, c := range caps {
			if cs, ok := c.(string); ok {
				req.Capabilities = append(req.Capabilities, providers.Capability(cs))
			}
		}
	}

	switch thinking := env.Payload["thinking"].(type) {
	case bool:
		if thinking {
			req.Thinking = &providers.ThinkingConfig{BudgetTokens: d.ai.ThinkingBudgetTokens}
		}
	case map[string]any:
		budget := d.ai.ThinkingBudgetTokens
		if v, ok := thinking["budgetTokens"].(float64); ok && v > 0 {
			budget = int(v)
		}
		req.Thinking = &providers.ThinkingConfig{BudgetTokens: budget}
	}

	// Prior turns, oldest first, then the current prompt.
	if d.memory != nil {
		if memID := s.MemorySessionID(); memID != "" {
			prior, err := d.memory.RecentMessages(s.Context(), memID, contextTurns)
			if err != nil {
				d.logger.Warn("context load failed", "session_id", s.ID, "error", err)
			}
			for _, m := range prior {
				switch m.Role {
				case memory.RoleUser:
					req.Messages = append(req.Messages, providers.Message{Role: providers.RoleUser, Content: m.Content})
				case memory.RoleAssistant:
					req.Messages = append(req.Messages, providers.Message{Role: providers.RoleAssistant, Content: m.Content})
				}
			}
		}
	}
	req.Messages = append(req.Messages, providers.Message{Role: providers.RoleUser, Content: content})
	return req
}

func (d *Dispatcher) handleAIRequest(s *Session, env *Envelope) {
	content := payloadString(env.Payload, "content")
	if content == "" {
		d.sendError(s, CodeInvalidMessage, "AI request requires content", env.MessageID)
		return
	}

	req := d.buildAIRequest(s, env, content)
	d.persistTurn(s, &memory.Message{
		Role:    memory.RoleUser,
		Content: content,
	})

	// Provider calls block; the session context aborts them on close.
	go d.invokeAI(s, env, req)
}

// persistTurn records a conversation turn, best effort.
func (d *Dispatcher) persistTurn(s *Session, msg *memory.Message) {
	if d.memory == nil {
		return
	}
	memID := s.MemorySessionID()
	if memID == "" {
		return
	}
	msg.SessionID = memID
	if err := d.memory.AppendMessage(context.Background(), msg); err != nil {
		d.logger.Warn("turn persist failed", "session_id", s.ID, "error", err)
	}
}

func (d *Dispatcher) invokeAI(s *Session, env *Envelope, req providers.Request) {
	if req.Stream {
		d.invokeStreaming(s, env, req)
		return
	}

	start := time.Now()
	resp, err := d.router.Invoke(s.Context(), req)
	if err != nil {
		d.sendError(s, CodeProviderError, err.Error(), env.MessageID)
		return
	}

	payload := map[string]any{
		"content":  resp.Content,
		"provider": resp.Provider,
		"model":    resp.Model,
		"usage": map[string]any{
			"promptTokens":     resp.Usage.PromptTokens,
			"completionTokens": resp.Usage.CompletionTokens,
			"totalTokens":      resp.Usage.TotalTokens,
		},
	}
	if resp.ThinkingContent != "" {
		payload["thinkingContent"] = resp.ThinkingContent
	}
	s.Send(NewResponse(env.MessageID, payload))

	d.persistTurn(s, &memory.Message{
		Role:            memory.RoleAssistant,
		Content:         resp.Content,
		ThinkingContent: resp.ThinkingContent,
		Provider:        resp.Provider,
		Model:           resp.Model,
		TokensUsed:      resp.Usage.TotalTokens,
		LatencyMS:       time.Since(start).Milliseconds(),
	})
}

// invokeStreaming relays provider chunks as STREAM_CHUNK envelopes
// correlated to the originating message, terminated by exactly one
// STREAM_END.
func (d *Dispatcher) invokeStreaming(s *Session, env *Envelope, req providers.Request) {
	start := time.Now()
	ch, sel, err := d.router.InvokeStream(s.Context(), req)
	if err != nil {
		d.sendError(s, CodeProviderError, err.Error(), env.MessageID)
		return
	}

	var content, thinking string
	var totalTokens int
	for chunk := range ch {
		metrics.StreamChunks.WithLabelValues(string(chunk.Kind)).Inc()
		switch chunk.Kind {
		case providers.ChunkContent:
			content += chunk.Text
			s.Send(NewStreamChunk(env.MessageID, map[string]any{
				"type":    "content",
				"content": chunk.Text,
			}))
		case providers.ChunkThinking:
			thinking += chunk.Text
			s.Send(NewStreamChunk(env.MessageID, map[string]any{
				"type":    "thinking",
				"content": chunk.Text,
			}))
		case providers.ChunkMetadata:
			if v, ok := chunk.Metadata["totalTokens"].(int); ok {
				totalTokens = v
			}
			s.Send(NewStreamChunk(env.MessageID, map[string]any{
				"type":     "metadata",
				"metadata": chunk.Metadata,
			}))
		case providers.ChunkError:
			d.sendError(s, CodeProviderError, chunk.Err.Error(), env.MessageID)
		}
	}

	s.Send(NewStreamEnd(env.MessageID, map[string]any{
		"provider": sel.Provider,
		"model":    sel.Model,
	}))

	if content != "" || thinking != "" {
		d.persistTurn(s, &memory.Message{
			Role:            memory.RoleAssistant,
			Content:         content,
			ThinkingContent: thinking,
			Provider:        sel.Provider,
			Model:           sel.Model,
			TokensUsed:      totalTokens,
			LatencyMS:       time.Since(start).Milliseconds(),
		})
	}
}
