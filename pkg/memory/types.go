// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

// Package memory provides session-scoped conversation and memory
// persistence with a per-session LRU hot cache over the cold store.
package memory

import "time"

// Role identifies who produced a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleThinking  Role = "thinking"
)

// Category classifies a session memory.
type Category string

// Memory categories.
const (
	CategoryFact        Category = "fact"
	CategoryPreference  Category = "preference"
	CategoryContext     Category = "context"
	CategoryInstruction Category = "instruction"
	CategorySummary     Category = "summary"
	CategoryCodeContext Category = "code_context"
)

// Session is one client session's persistence root.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`

	// MessageCount counts appended non-code-edit messages, used for the
	// soft per-session cap.
	MessageCount int `json:"messageCount"`
}

// Conversation groups messages within a session.
type Conversation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one conversation turn.
type Message struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversationId,omitempty"`
	SessionID       string    `json:"sessionId"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	ThinkingContent string    `json:"thinkingContent,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	Model           string    `json:"model,omitempty"`
	IsCodeEdit      bool      `json:"isCodeEdit,omitempty"`
	TokensUsed      int       `json:"tokensUsed,omitempty"`
	LatencyMS       int64     `json:"latencyMs,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// SessionMemory is one recallable fact scoped to a session.
type SessionMemory struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId,omitempty"`
	Category       Category  `json:"category"`
	Content        string    `json:"content"`
	Importance     float64   `json:"importance"`
	RecallCount    int       `json:"recallCount"`
	LastRecalledAt time.Time `json:"lastRecalledAt,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Expired reports whether the memory has passed its expiry, if any.
func (m *SessionMemory) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// ChainOfThoughtStep is one reasoning step attached to an assistant
// message. Steps for a message persist all-or-none.
type ChainOfThoughtStep struct {
	MessageID   string  `json:"messageId"`
	StepNumber  int     `json:"stepNumber"`
	ThoughtType string  `json:"thoughtType,omitempty"`
	Content     string  `json:"content"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// Continuity carries what a resuming session needs to pick up where it
// left off.
type Continuity struct {
	SessionID      string    `json:"sessionId"`
	LastMessageID  string    `json:"lastMessageId,omitempty"`
	ContextSummary string    `json:"contextSummary,omitempty"`
	ResumePrompt   string    `json:"resumePrompt,omitempty"`
	SavedAt        time.Time `json:"savedAt"`
}

// Resume is what ResumeSession hands back to the fabric.
type Resume struct {
	Session    *Session
	Messages   []*Message
	Continuity *Continuity
}
