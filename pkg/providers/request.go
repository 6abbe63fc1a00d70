// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package providers

import "time"

// Role identifies a message author.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation context.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ThinkingConfig enables extended thinking with a token budget.
type ThinkingConfig struct {
	BudgetTokens int `json:"budgetTokens"`
}

// DefaultThinkingBudget is used when the caller enables thinking
// without a budget.
const DefaultThinkingBudget = 8000

// Request is one AI completion request, provider-agnostic.
type Request struct {
	Messages          []Message
	Model             string
	MaxTokens         int
	Temperature       float64
	Thinking          *ThinkingConfig
	Stream            bool
	Capabilities      []Capability
	PreferredProvider string
	Deadline          time.Time
}

// Usage is the token accounting of a completed call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is the result of a blocking completion call.
type Response struct {
	Content         string `json:"content"`
	ThinkingContent string `json:"thinkingContent,omitempty"`
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	Usage           Usage  `json:"usage"`
}

// normalize splits out the system prompt and clamps the thinking
// budget for the chosen provider. Anthropic-style APIs take the system
// prompt as a separate field; chat-completions APIs keep it in-band.
func (r *Request) normalize(info Info) (system string, rest []Message) {
	rest = make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role == RoleSystem && system == "" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// effectiveThinking clamps the requested budget to the provider's
// model cap. A nil return disables thinking.
func (r *Request) effectiveThinking(info Info) *ThinkingConfig {
	if r.Thinking == nil || info.MaxThinkingTokens <= 0 {
		return nil
	}
	budget := r.Thinking.BudgetTokens
	if budget <= 0 {
		budget = DefaultThinkingBudget
	}
	if budget > info.MaxThinkingTokens {
		budget = info.MaxThinkingTokens
	}
	return &ThinkingConfig{BudgetTokens: budget}
}

// modelFor resolves the request model against the provider default.
func (r *Request) modelFor(info Info) string {
	if r.Model != "" {
		return r.Model
	}
	return info.DefaultModel
}
