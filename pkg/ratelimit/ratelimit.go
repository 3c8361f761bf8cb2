// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides token-bucket rate limiting for gateway traffic.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned when rate limit is exceeded.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket implements the token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket.
// capacity is the maximum number of tokens; refillRate is tokens per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow reports whether one request should be allowed.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN reports whether n requests should be allowed.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	added := int64(elapsed * float64(tb.refillRate))
	if added > 0 {
		tb.tokens += added
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Available returns the number of available tokens.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// SessionLimiter maintains one token bucket per session.
type SessionLimiter struct {
	mu          sync.RWMutex
	buckets     map[string]*TokenBucket
	capacity    int64
	refillRate  int64
	maxSessions int
}

// NewSessionLimiter creates a per-session rate limiter.
func NewSessionLimiter(capacity, refillRate int64, maxSessions int) *SessionLimiter {
	if maxSessions == 0 {
		maxSessions = 10000
	}
	return &SessionLimiter{
		buckets:     make(map[string]*TokenBucket),
		capacity:    capacity,
		refillRate:  refillRate,
		maxSessions: maxSessions,
	}
}

// Allow reports whether a request from the given session should be allowed.
// Unknown sessions beyond maxSessions are rejected outright.
func (l *SessionLimiter) Allow(sessionID string) bool {
	l.mu.RLock()
	tb, ok := l.buckets[sessionID]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		tb, ok = l.buckets[sessionID]
		if !ok {
			if len(l.buckets) >= l.maxSessions {
				l.mu.Unlock()
				return false
			}
			tb = NewTokenBucket(l.capacity, l.refillRate)
			l.buckets[sessionID] = tb
		}
		l.mu.Unlock()
	}

	return tb.Allow()
}

// Remove drops a session's bucket, typically on disconnect.
func (l *SessionLimiter) Remove(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, sessionID)
}

// Sessions returns the number of tracked sessions.
func (l *SessionLimiter) Sessions() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}
