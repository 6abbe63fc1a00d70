// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// RateLimiter bounds inbound envelopes per session over a rolling
// window. Each session is its own category; an over-limit envelope is
// dropped with RATE_LIMIT_EXCEEDED and the session stays active.
type RateLimiter struct {
	limiter *catrate.Limiter
}

// NewRateLimiter allows points envelopes per window for each session.
func NewRateLimiter(points int, window time.Duration) *RateLimiter {
	if points <= 0 {
		points = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limiter: catrate.NewLimiter(map[time.Duration]int{window: points}),
	}
}

// Allow registers one envelope for a session. The returned time, when
// non-zero, is the next moment an envelope would be admitted.
func (r *RateLimiter) Allow(sessionID string) (time.Time, bool) {
	return r.limiter.Allow(sessionID)
}
