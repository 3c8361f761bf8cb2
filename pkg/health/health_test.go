// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChecker_OverallStatus(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("good", func(context.Context) error { return nil })

	status, checks := c.Health(context.Background())
	if status != StatusHealthy {
		t.Fatalf("status = %s, want healthy", status)
	}
	if len(checks) != 1 || checks[0].Status != StatusHealthy {
		t.Fatalf("checks = %+v", checks)
	}

	c.Register("bad", func(context.Context) error { return errors.New("backend gone") })
	status, checks = c.Health(context.Background())
	if status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", status)
	}
	if len(checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(checks))
	}
}

func TestChecker_CachesResults(t *testing.T) {
	calls := 0
	c := NewChecker(time.Minute)
	c.Register("counted", func(context.Context) error { calls++; return nil })

	c.Health(context.Background())
	c.Health(context.Background())
	if calls != 1 {
		t.Fatalf("check ran %d times within the TTL, want 1", calls)
	}
}

func TestChecker_CacheExpiry(t *testing.T) {
	calls := 0
	c := NewChecker(20 * time.Millisecond)
	c.Register("counted", func(context.Context) error { calls++; return nil })

	c.Health(context.Background())
	time.Sleep(30 * time.Millisecond)
	c.Health(context.Background())
	if calls != 2 {
		t.Fatalf("check ran %d times across the TTL, want 2", calls)
	}
}

func TestHandlers(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("bad", func(context.Context) error { return errors.New("nope") })

	// Degraded keeps /health at 200 but fails readiness.
	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/health = %d, want 200 while degraded", rec.Code)
	}

	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/ready = %d, want 503 while degraded", rec.Code)
	}

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/live = %d, want 200", rec.Code)
	}
}
