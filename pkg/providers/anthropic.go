// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
)

const (
	anthropicDefaultURL = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicAdapter speaks the Anthropic Messages API, including SSE
// streaming with extended-thinking deltas.
type AnthropicAdapter struct {
	*baseAdapter
}

// NewAnthropicAdapter creates an adapter for the Anthropic Messages API.
func NewAnthropicAdapter(info Info, apiKey, baseURL string) *AnthropicAdapter {
	return &AnthropicAdapter{
		baseAdapter: newBaseAdapter(info, apiKey, baseURL, anthropicDefaultURL),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Model   string                  `json:"model"`
	Usage   anthropicUsage          `json:"usage"`
}

func (a *AnthropicAdapter) buildRequest(req Request) anthropicRequest {
	system, rest := req.normalize(a.info)
	messages := make([]anthropicMessage, 0, len(rest))
	for _, m := range rest {
		messages = append(messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	body := anthropicRequest{
		Model:     req.modelFor(a.info),
		MaxTokens: req.MaxTokens,
		System:    system,
		Messages:  messages,
	}
	if thinking := req.effectiveThinking(a.info); thinking != nil {
		body.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: thinking.BudgetTokens}
		// Thinking mode rejects temperature.
	} else if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	return body
}

func (a *AnthropicAdapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}
}

// Send implements Adapter.
func (a *AnthropicAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	body := a.buildRequest(req)
	resp, err := a.postJSON(ctx, a.baseURL+"/v1/messages", a.headers(), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: a.info.ID, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	out := &Response{
		Provider: a.info.ID,
		Model:    parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "thinking":
			out.ThinkingContent += block.Thinking
		}
	}
	return out, nil
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
	Usage   anthropicUsage `json:"usage"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

// Stream implements Adapter.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	body := a.buildRequest(req)
	body.Stream = true

	resp, err := a.postJSON(ctx, a.baseURL+"/v1/messages", a.headers(), body)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		usage := Usage{}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			data, ok := sseData(scanner.Text())
			if !ok || data == "" {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			switch event.Type {
			case "message_start":
				usage.PromptTokens = event.Message.Usage.InputTokens
			case "content_block_delta":
				var chunk Chunk
				switch event.Delta.Type {
				case "text_delta":
					chunk = contentChunk(event.Delta.Text)
				case "thinking_delta":
					chunk = thinkingChunk(event.Delta.Thinking)
				default:
					continue
				}
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			case "message_delta":
				usage.CompletionTokens = event.Usage.OutputTokens
			case "message_stop":
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				select {
				case ch <- metadataChunk(map[string]any{
					"promptTokens":     usage.PromptTokens,
					"completionTokens": usage.CompletionTokens,
					"totalTokens":      usage.TotalTokens,
				}):
				case <-ctx.Done():
				}
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- errorChunk(&ProviderError{Provider: a.info.ID, Message: err.Error()}):
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
