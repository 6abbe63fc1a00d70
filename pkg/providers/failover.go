// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/loganrossus/loom/pkg/metrics"
)

// Selection records which provider and model served a request.
type Selection struct {
	Provider string
	Model    string
}

// Router invokes providers with selection and a single fallback on
// non-semantic failure.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter creates a router over a registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		logger:   logger.With("component", "providers"),
	}
}

// Registry exposes the underlying registry for queries.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Invoke performs a blocking completion with at most one fallback.
// Semantic errors propagate unchanged and never fall back.
func (r *Router) Invoke(ctx context.Context, req Request) (*Response, error) {
	adapter, err := r.registry.Select(req.Capabilities, req.PreferredProvider, "")
	if err != nil {
		return nil, err
	}

	resp, err := r.send(ctx, adapter, req)
	if err == nil {
		return resp, nil
	}
	if IsSemanticError(err) || ctx.Err() != nil {
		return nil, err
	}

	failed := adapter.Info().ID
	metrics.ProviderFailovers.WithLabelValues(failed).Inc()
	r.logger.Warn("provider failed, attempting fallback",
		"provider", failed,
		"error", err,
	)

	fallback, selErr := r.registry.Select(req.Capabilities, "", failed)
	if selErr != nil {
		// No second candidate; surface the original failure.
		return nil, err
	}
	return r.send(ctx, fallback, req)
}

// InvokeStream performs a streaming completion with at most one
// fallback on stream-open failure. Failures after the first chunk are
// delivered in-stream as an Error chunk and do not fall back.
func (r *Router) InvokeStream(ctx context.Context, req Request) (<-chan Chunk, Selection, error) {
	adapter, err := r.registry.Select(req.Capabilities, req.PreferredProvider, "")
	if err != nil {
		return nil, Selection{}, err
	}

	ch, sel, err := r.stream(ctx, adapter, req)
	if err == nil {
		return ch, sel, nil
	}
	if IsSemanticError(err) || ctx.Err() != nil {
		return nil, Selection{}, err
	}

	failed := adapter.Info().ID
	metrics.ProviderFailovers.WithLabelValues(failed).Inc()
	r.logger.Warn("provider stream failed to open, attempting fallback",
		"provider", failed,
		"error", err,
	)

	fallback, selErr := r.registry.Select(req.Capabilities, "", failed)
	if selErr != nil {
		return nil, Selection{}, err
	}
	return r.stream(ctx, fallback, req)
}

func (r *Router) send(ctx context.Context, adapter Adapter, req Request) (*Response, error) {
	id := adapter.Info().ID
	ctx, cancel := r.withDeadline(ctx, req)
	defer cancel()

	start := time.Now()
	resp, err := adapter.Send(ctx, req)
	metrics.ProviderLatency.WithLabelValues(id).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(id, "error").Inc()
		return nil, err
	}
	metrics.ProviderRequests.WithLabelValues(id, "ok").Inc()
	return resp, nil
}

func (r *Router) stream(ctx context.Context, adapter Adapter, req Request) (<-chan Chunk, Selection, error) {
	info := adapter.Info()
	ctx, cancel := r.withDeadline(ctx, req)

	ch, err := adapter.Stream(ctx, req)
	if err != nil {
		cancel()
		metrics.ProviderRequests.WithLabelValues(info.ID, "error").Inc()
		return nil, Selection{}, err
	}
	metrics.ProviderRequests.WithLabelValues(info.ID, "ok").Inc()

	// Release the deadline timer once the stream drains.
	out := make(chan Chunk)
	go func() {
		defer cancel()
		defer close(out)
		for chunk := range ch {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, Selection{Provider: info.ID, Model: req.modelFor(info)}, nil
}

// withDeadline applies the request's soft deadline, if set.
func (r *Router) withDeadline(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	if req.Deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, req.Deadline)
}
