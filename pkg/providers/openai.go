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

const openaiDefaultURL = "https://api.openai.com"

// OpenAIAdapter speaks the chat completions API with SSE streaming.
type OpenAIAdapter struct {
	*baseAdapter
}

// NewOpenAIAdapter creates an adapter for the chat completions API.
func NewOpenAIAdapter(info Info, apiKey, baseURL string) *OpenAIAdapter {
	return &OpenAIAdapter{
		baseAdapter: newBaseAdapter(info, apiKey, baseURL, openaiDefaultURL),
	}
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

func (o *OpenAIAdapter) buildRequest(req Request) openaiRequest {
	// Chat completions keeps the system prompt in-band.
	messages := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}

	body := openaiRequest{
		Model:     req.modelFor(o.info),
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Thinking == nil && req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	return body
}

func (o *OpenAIAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.apiKey}
}

// Send implements Adapter.
func (o *OpenAIAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	body := o.buildRequest(req)
	resp, err := o.postJSON(ctx, o.baseURL+"/v1/chat/completions", o.headers(), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: o.info.ID, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Provider: o.info.ID, Message: "response carried no choices"}
	}

	return &Response{
		Content:  parsed.Choices[0].Message.Content,
		Provider: o.info.ID,
		Model:    parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

type openaiStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

// Stream implements Adapter.
func (o *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	body := o.buildRequest(req)
	body.Stream = true

	resp, err := o.postJSON(ctx, o.baseURL+"/v1/chat/completions", o.headers(), body)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var usage *openaiUsage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			data, ok := sseData(scanner.Text())
			if !ok || data == "" {
				continue
			}
			if data == "[DONE]" {
				break
			}

			var event openaiStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}
			if event.Usage != nil {
				usage = event.Usage
			}
			if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case ch <- contentChunk(event.Choices[0].Delta.Content):
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- errorChunk(&ProviderError{Provider: o.info.ID, Message: err.Error()}):
			case <-ctx.Done():
			}
			return
		}
		if usage != nil {
			select {
			case ch <- metadataChunk(map[string]any{
				"promptTokens":     usage.PromptTokens,
				"completionTokens": usage.CompletionTokens,
				"totalTokens":      usage.TotalTokens,
			}):
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
