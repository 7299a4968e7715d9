// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Rate Limiting
//
// Design turns hold a model stream open for tens of seconds, so the
// streaming endpoints are limited per client with a token bucket:
//
//	Request
//	   │
//	   ▼
//	RateLimit
//	   │
//	   ├─► key(c)            (client IP by default)
//	   │
//	   ├─► limiter.Allow()   (golang.org/x/time/rate)
//	   │
//	   └─► 429 + Retry-After, or next handler
//
// Buckets idle for longer than the configured TTL are evicted on access.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Configuration
// =============================================================================

// RateLimitConfig configures RateLimit.
//
// # Fields
//
//   - PerMinute: Sustained requests per minute per client. Zero or less
//     disables limiting.
//   - Burst: Requests a client may send at once. Defaults to 1.
//   - IdleTTL: Buckets unused for this long are dropped. Defaults to 10m.
//   - Key: Extracts the client key. Defaults to the client IP.
type RateLimitConfig struct {
	PerMinute float64
	Burst     int
	IdleTTL   time.Duration
	Key       func(c *gin.Context) string
}

// DefaultRateLimitConfig allows 30 turns a minute with bursts of 5.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{PerMinute: 30, Burst: 5, IdleTTL: 10 * time.Minute}
}

// =============================================================================
// Limiter
// =============================================================================

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter holds one token bucket per client key.
type ClientLimiter struct {
	cfg     RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*clientBucket
}

// NewClientLimiter creates a limiter from cfg, filling defaults.
func NewClientLimiter(cfg RateLimitConfig) *ClientLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Key == nil {
		cfg.Key = func(c *gin.Context) string { return c.ClientIP() }
	}
	return &ClientLimiter{cfg: cfg, now: time.Now, buckets: make(map[string]*clientBucket)}
}

// Allow reports whether key may proceed now and, if not, how long until it
// may.
func (l *ClientLimiter) Allow(key string) (bool, time.Duration) {
	if l.cfg.PerMinute <= 0 {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.PerMinute/60), l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, l.cfg.IdleTTL
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Clients returns the number of tracked client buckets.
func (l *ClientLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *ClientLimiter) evict(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.IdleTTL {
			delete(l.buckets, k)
		}
	}
}

// =============================================================================
// Middleware
// =============================================================================

// RateLimit rejects requests over the client's budget with 429 and a
// Retry-After header in whole seconds.
func RateLimit(l *ClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.Allow(l.cfg.Key(c))
		if ok {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
			Error: "rate limit exceeded",
		})
	}
}
