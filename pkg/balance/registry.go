// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package balance

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/breaker"
	"github.com/edgemux/edgemux/pkg/metrics"
)

// entry is one registered endpoint plus its dispatch bookkeeping.
type entry struct {
	ep      *adapter.Endpoint
	breaker *breaker.CircuitBreaker
}

// Registry tracks backend endpoints per protocol. It is the only gateway
// structure mutated by multiple independent workers (the health checker
// writes healthy, the load balancer writes currentLoad); one mutex guards
// both fields and is held only across field access, never across a network
// call.
type Registry struct {
	mu         sync.Mutex
	entries    map[adapter.ProtocolKind][]*entry // registration order
	breakerCfg breaker.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewRegistry creates an endpoint registry. Each registered endpoint gets
// its own circuit breaker built from breakerCfg.
func NewRegistry(logger *slog.Logger, breakerCfg breaker.Config) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:    make(map[adapter.ProtocolKind][]*entry),
		breakerCfg: breakerCfg,
		logger:     logger,
	}
}

// Instrument publishes per-endpoint load and breaker-state metrics. Call it
// before registering endpoints.
func (r *Registry) Instrument(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Register adds an endpoint. Weight must be positive; registration order is
// preserved per protocol and used for round-robin and tie-breaking.
func (r *Registry) Register(ep adapter.Endpoint) error {
	if !ep.Protocol.Valid() {
		return fmt.Errorf("invalid protocol %q", ep.Protocol)
	}
	if ep.Weight <= 0 {
		return fmt.Errorf("endpoint %s: weight must be positive, got %d", ep.Addr(), ep.Weight)
	}
	if ep.CurrentLoad != 0 {
		ep.CurrentLoad = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries[ep.Protocol] {
		if e.ep.Addr() == ep.Addr() {
			return fmt.Errorf("endpoint %s already registered for %s", ep.Addr(), ep.Protocol)
		}
	}

	cb := breaker.New(r.breakerCfg)
	if m := r.metrics; m != nil {
		addr := ep.Addr()
		cb.OnStateChange(func(_, to breaker.State) {
			m.CircuitBreakerState.WithLabelValues(addr).Set(float64(to))
			if to == breaker.StateOpen {
				m.CircuitBreakerTrips.WithLabelValues(addr).Inc()
			}
		})
		m.CircuitBreakerState.WithLabelValues(addr).Set(float64(breaker.StateClosed))
		m.EndpointLoad.WithLabelValues(ep.Protocol.String(), addr).Set(0)
	}

	r.entries[ep.Protocol] = append(r.entries[ep.Protocol], &entry{
		ep:      &ep,
		breaker: cb,
	})

	r.logger.Info("endpoint registered",
		slog.String("protocol", ep.Protocol.String()),
		slog.String("endpoint", ep.Addr()),
		slog.Int("weight", ep.Weight))

	return nil
}

// Deregister removes the endpoint with the given address.
func (r *Registry) Deregister(protocol adapter.ProtocolKind, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[protocol]
	for i, e := range list {
		if e.ep.Addr() == addr {
			r.entries[protocol] = append(list[:i], list[i+1:]...)
			if m := r.metrics; m != nil {
				m.EndpointLoad.DeleteLabelValues(protocol.String(), addr)
				m.CircuitBreakerState.DeleteLabelValues(addr)
			}
			r.logger.Info("endpoint deregistered",
				slog.String("protocol", protocol.String()),
				slog.String("endpoint", addr))
			return
		}
	}
}

// Endpoints returns copies of the endpoints registered for a protocol, in
// registration order.
func (r *Registry) Endpoints(protocol adapter.ProtocolKind) []adapter.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[protocol]
	out := make([]adapter.Endpoint, 0, len(list))
	for _, e := range list {
		out = append(out, *e.ep)
	}
	return out
}

// Snapshot returns copies of every registered endpoint across protocols.
func (r *Registry) Snapshot() []adapter.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []adapter.Endpoint
	for _, kind := range adapter.Kinds() {
		for _, e := range r.entries[kind] {
			out = append(out, *e.ep)
		}
	}
	return out
}

// SetHealthy updates an endpoint's health. The health checker is the only
// caller writing this field.
func (r *Registry) SetHealthy(protocol adapter.ProtocolKind, addr string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries[protocol] {
		if e.ep.Addr() == addr {
			if e.ep.Healthy != healthy {
				r.logger.Info("endpoint health changed",
					slog.String("protocol", protocol.String()),
					slog.String("endpoint", addr),
					slog.Bool("healthy", healthy))
			}
			e.ep.Healthy = healthy
			return
		}
	}
}

// selectEntry filters the protocol's endpoints to those eligible for
// dispatch (healthy, breaker admitting traffic), lets the strategy pick one,
// and increments its in-flight load, all under the registry mutex so the
// strategy sees consistent load values. Returns nil when nothing is
// eligible or the strategy declines every candidate.
func (r *Registry) selectEntry(protocol adapter.ProtocolKind, s Strategy) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	eligible := make([]*entry, 0, len(r.entries[protocol]))
	for _, e := range r.entries[protocol] {
		if e.ep.Healthy && e.breaker.Allow() {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	e := s.pick(protocol, eligible)
	if e == nil {
		return nil
	}
	e.ep.CurrentLoad++
	if m := r.metrics; m != nil {
		m.EndpointLoad.WithLabelValues(protocol.String(), e.ep.Addr()).Set(float64(e.ep.CurrentLoad))
	}
	return e
}

// release decrements the endpoint's in-flight load, never below zero, and
// feeds the dispatch outcome to the endpoint's breaker.
func (r *Registry) release(e *entry, dispatchErr error) {
	r.mu.Lock()
	if e.ep.CurrentLoad > 0 {
		e.ep.CurrentLoad--
	}
	if m := r.metrics; m != nil {
		m.EndpointLoad.WithLabelValues(e.ep.Protocol.String(), e.ep.Addr()).Set(float64(e.ep.CurrentLoad))
	}
	r.mu.Unlock()

	e.breaker.Record(dispatchErr)
}

// BreakerState returns the breaker state for an endpoint, for health
// surfaces and metrics.
func (r *Registry) BreakerState(protocol adapter.ProtocolKind, addr string) (breaker.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries[protocol] {
		if e.ep.Addr() == addr {
			return e.breaker.State(), true
		}
	}
	return 0, false
}
