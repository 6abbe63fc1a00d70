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

const ollamaDefaultURL = "http://127.0.0.1:11434"

// OllamaAdapter speaks the local Ollama chat API, which streams
// newline-delimited JSON rather than SSE.
type OllamaAdapter struct {
	*baseAdapter
}

// NewOllamaAdapter creates an adapter for a local Ollama instance.
func NewOllamaAdapter(info Info, baseURL string) *OllamaAdapter {
	return &OllamaAdapter{
		baseAdapter: newBaseAdapter(info, "", baseURL, ollamaDefaultURL),
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (o *OllamaAdapter) buildRequest(req Request, stream bool) ollamaRequest {
	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}

	body := ollamaRequest{
		Model:    req.modelFor(o.info),
		Messages: messages,
		Stream:   stream,
	}
	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Thinking == nil && req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if len(options) > 0 {
		body.Options = options
	}
	return body
}

// Send implements Adapter.
func (o *OllamaAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	body := o.buildRequest(req, false)
	resp, err := o.postJSON(ctx, o.baseURL+"/api/chat", nil, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: o.info.ID, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	return &Response{
		Content:  parsed.Message.Content,
		Provider: o.info.ID,
		Model:    parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

// Stream implements Adapter.
func (o *OllamaAdapter) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	body := o.buildRequest(req, true)
	resp, err := o.postJSON(ctx, o.baseURL+"/api/chat", nil, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var event ollamaResponse
			if err := json.Unmarshal(line, &event); err != nil {
				continue
			}

			if event.Message.Content != "" {
				select {
				case ch <- contentChunk(event.Message.Content):
				case <-ctx.Done():
					return
				}
			}
			if event.Done {
				select {
				case ch <- metadataChunk(map[string]any{
					"promptTokens":     event.PromptEvalCount,
					"completionTokens": event.EvalCount,
					"totalTokens":      event.PromptEvalCount + event.EvalCount,
				}):
				case <-ctx.Done():
				}
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- errorChunk(&ProviderError{Provider: o.info.ID, Message: err.Error()}):
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
