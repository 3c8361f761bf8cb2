// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
	"github.com/edgemux/edgemux/pkg/handler"
	"github.com/edgemux/edgemux/pkg/metrics"
	"github.com/edgemux/edgemux/pkg/ratelimit"
	"github.com/edgemux/edgemux/pkg/session"
)

// RateLimitedHandler wraps a handler with a global token bucket on top of
// the gateway's per-session limiter.
type RateLimitedHandler struct {
	handler       handler.Handler
	globalLimiter *ratelimit.TokenBucket
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// Handle rejects the message when the global rate limit is exhausted.
func (h *RateLimitedHandler) Handle(ctx context.Context, msg *adapter.Message, sess *session.Session) ([]byte, error) {
	if !h.globalLimiter.Allow() {
		h.metrics.RateLimitedRequests.WithLabelValues(msg.Protocol.String(), "global").Inc()
		h.logger.Warn("global rate limit exceeded",
			slog.String("session", msg.SessionID),
			slog.String("protocol", msg.Protocol.String()))
		return nil, errors.ErrRateLimited
	}
	return h.handler.Handle(ctx, msg, sess)
}

// OnConnect implements handler.Handler.
func (h *RateLimitedHandler) OnConnect(ctx context.Context, sess *session.Session) error {
	return h.handler.OnConnect(ctx, sess)
}

// OnDisconnect implements handler.Handler.
func (h *RateLimitedHandler) OnDisconnect(ctx context.Context, sess *session.Session) error {
	return h.handler.OnDisconnect(ctx, sess)
}

// InstrumentedHandler wraps a handler with metrics instrumentation.
type InstrumentedHandler struct {
	handler handler.Handler
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Handle implements handler.Handler with duration and failure metrics.
func (h *InstrumentedHandler) Handle(ctx context.Context, msg *adapter.Message, sess *session.Session) ([]byte, error) {
	start := time.Now()
	resp, err := h.handler.Handle(ctx, msg, sess)

	proto := msg.Protocol.String()
	h.metrics.HandlerDuration.WithLabelValues(proto).Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.HandlerErrors.WithLabelValues(proto).Inc()
	}

	return resp, err
}

// OnConnect implements handler.Handler.
func (h *InstrumentedHandler) OnConnect(ctx context.Context, sess *session.Session) error {
	return h.handler.OnConnect(ctx, sess)
}

// OnDisconnect implements handler.Handler.
func (h *InstrumentedHandler) OnDisconnect(ctx context.Context, sess *session.Session) error {
	return h.handler.OnDisconnect(ctx, sess)
}
