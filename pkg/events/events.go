// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package events defines the structured event sink the gateway emits into.
// The gateway owns only the emission side; sink implementations and their
// transports are external. A slog-backed sink and a no-op sink are provided.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Well-known event names emitted by the gateway.
const (
	ProtocolSwitch    = "protocol_switch"
	MigrationComplete = "migration_complete"
	HealthCheckResult = "health_check_result"
	RoutingDecision   = "routing_decision"
)

// Event is one structured gateway event.
type Event struct {
	// Name is one of the well-known event names.
	Name string

	// Attributes carries event-specific key/value detail.
	Attributes map[string]string

	// At is the emission time.
	At time.Time
}

// Sink consumes gateway events. Implementations must be safe for concurrent
// use and must not block the caller for long; slow transports should buffer.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Emit is a convenience helper that stamps the event time and forwards to
// the sink. A nil sink is a no-op.
func Emit(ctx context.Context, sink Sink, name string, attrs map[string]string) {
	if sink == nil {
		return
	}
	sink.Emit(ctx, Event{
		Name:       name,
		Attributes: attrs,
		At:         time.Now(),
	})
}

// SlogSink writes events to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink backed by the given logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit implements Sink.
func (s *SlogSink) Emit(ctx context.Context, e Event) {
	attrs := make([]any, 0, len(e.Attributes)*2)
	for k, v := range e.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, e.Name, slog.Group("event", attrs...))
}

// NoopSink discards all events.
type NoopSink struct{}

// Emit implements Sink.
func (NoopSink) Emit(ctx context.Context, e Event) {}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}
