// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package balance

import (
	"log/slog"
	"sync"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
)

// Lease is one granted dispatch slot on an endpoint. The caller must call
// Release exactly once when the dispatch completes, passing the dispatch
// error (or nil) so load accounting and the endpoint's circuit breaker stay
// correct. Release is idempotent.
type Lease struct {
	// Endpoint is a copy of the chosen endpoint at selection time.
	Endpoint adapter.Endpoint

	registry *Registry
	entry    *entry
	once     sync.Once
}

// Release returns the dispatch slot and records the outcome.
func (l *Lease) Release(dispatchErr error) {
	l.once.Do(func() {
		l.registry.release(l.entry, dispatchErr)
	})
}

// Balancer selects endpoints for dispatches using a pluggable strategy.
type Balancer struct {
	registry *Registry
	strategy Strategy
	logger   *slog.Logger
}

// NewBalancer creates a balancer over the given registry. A nil strategy
// defaults to round-robin.
func NewBalancer(registry *Registry, strategy Strategy, logger *slog.Logger) *Balancer {
	if strategy == nil {
		strategy = NewRoundRobin()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Balancer{
		registry: registry,
		strategy: strategy,
		logger:   logger,
	}
}

// Strategy returns the balancer's strategy name.
func (b *Balancer) Strategy() string {
	return b.strategy.Name()
}

// Select picks a healthy endpoint for the protocol and reserves a dispatch
// slot on it. When no healthy endpoint exists the caller gets
// errors.ErrNoHealthyEndpoint, a hard failure for that dispatch, never a
// silent fallback to an unhealthy endpoint.
func (b *Balancer) Select(protocol adapter.ProtocolKind) (*Lease, error) {
	e := b.registry.selectEntry(protocol, b.strategy)
	if e == nil {
		b.logger.Debug("no healthy endpoint",
			slog.String("protocol", protocol.String()),
			slog.String("strategy", b.strategy.Name()))
		return nil, errors.ErrNoHealthyEndpoint
	}

	b.registry.mu.Lock()
	ep := *e.ep
	b.registry.mu.Unlock()

	return &Lease{
		Endpoint: ep,
		registry: b.registry,
		entry:    e,
	}, nil
}
