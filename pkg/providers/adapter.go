// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// defaultHTTPClient is shared by all adapters. Streaming responses are
// read incrementally, so no overall timeout is set; per-request
// contexts bound each call instead.
var defaultHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	},
}

// baseAdapter carries the state shared by every HTTP adapter.
type baseAdapter struct {
	info    Info
	apiKey  string
	baseURL string
	client  *http.Client
	healthy atomic.Bool
}

// newBaseAdapter returns a pointer: the struct embeds an atomic and
// must never be copied.
func newBaseAdapter(info Info, apiKey, baseURL, defaultURL string) *baseAdapter {
	if baseURL == "" {
		baseURL = defaultURL
	}
	b := &baseAdapter{
		info:    info,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  defaultHTTPClient,
	}
	b.healthy.Store(true)
	return b
}

// Info implements Adapter.
func (b *baseAdapter) Info() Info {
	return b.info
}

// Enabled implements Adapter, combining configuration with health.
func (b *baseAdapter) Enabled() bool {
	return b.info.Enabled && b.healthy.Load()
}

// SetHealthy flips the health state, driven by the health manager.
func (b *baseAdapter) SetHealthy(ok bool) {
	b.healthy.Store(ok)
}

// postJSON issues one JSON POST and returns the response. Non-2xx
// responses become a ProviderError classified for fallback.
func (b *baseAdapter) postJSON(ctx context.Context, url string, headers map[string]string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: b.info.ID, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &ProviderError{
			Provider: b.info.ID,
			Status:   resp.StatusCode,
			Message:  strings.TrimSpace(string(detail)),
			Semantic: classifyStatus(resp.StatusCode),
		}
	}
	return resp, nil
}

// sseData extracts the payload of one "data:" SSE line, reporting
// whether the line carried data at all.
func sseData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
