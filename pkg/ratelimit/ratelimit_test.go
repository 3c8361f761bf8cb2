// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket_ExhaustsCapacity(t *testing.T) {
	tb := NewTokenBucket(3, 1)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d denied within capacity", i)
		}
	}
	if tb.Allow() {
		t.Fatal("request beyond capacity must be denied")
	}
	if got := tb.Available(); got != 0 {
		t.Fatalf("Available = %d, want 0", got)
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	tb := NewTokenBucket(2, 100)

	tb.AllowN(2)
	if tb.Allow() {
		t.Fatal("bucket must be empty")
	}

	time.Sleep(50 * time.Millisecond)
	if !tb.Allow() {
		t.Fatal("bucket must refill over time")
	}
}

func TestTokenBucket_RefillCapsAtCapacity(t *testing.T) {
	tb := NewTokenBucket(2, 1000)

	time.Sleep(20 * time.Millisecond)
	if got := tb.Available(); got != 2 {
		t.Fatalf("Available = %d, want capacity 2", got)
	}
}

func TestSessionLimiter_IndependentBuckets(t *testing.T) {
	l := NewSessionLimiter(1, 1, 0)

	if !l.Allow("a") {
		t.Fatal("first request for session a denied")
	}
	if l.Allow("a") {
		t.Fatal("second request for session a must be denied")
	}
	if !l.Allow("b") {
		t.Fatal("session b must have its own bucket")
	}
	if got := l.Sessions(); got != 2 {
		t.Fatalf("Sessions = %d, want 2", got)
	}
}

func TestSessionLimiter_MaxSessions(t *testing.T) {
	l := NewSessionLimiter(10, 10, 2)

	l.Allow("a")
	l.Allow("b")
	if l.Allow("c") {
		t.Fatal("new session beyond the session cap must be denied")
	}

	l.Remove("a")
	if !l.Allow("c") {
		t.Fatal("session c must be admitted after a slot frees up")
	}
}
