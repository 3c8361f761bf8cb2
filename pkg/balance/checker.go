// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package balance

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/events"
	"github.com/edgemux/edgemux/pkg/metrics"
)

const (
	// DefaultCheckInterval is the default period between probe rounds.
	DefaultCheckInterval = 30 * time.Second

	// DefaultProbeTimeout bounds one connect probe.
	DefaultProbeTimeout = 5 * time.Second
)

// CheckerConfig holds health checker configuration.
type CheckerConfig struct {
	// Interval between probe rounds.
	Interval time.Duration

	// ProbeTimeout bounds each endpoint probe.
	ProbeTimeout time.Duration

	// Logger for checker events.
	Logger *slog.Logger

	// Sink receives health_check_result events. Optional.
	Sink events.Sink

	// Metrics records probe outcomes. Optional.
	Metrics *metrics.Metrics
}

// Checker periodically probes every registered endpoint by opening and
// closing an adapter connection. It is the sole writer of the endpoints'
// healthy field.
type Checker struct {
	config   CheckerConfig
	registry *Registry
	factory  *adapter.Factory
}

// NewChecker creates a health checker over the registry.
func NewChecker(cfg CheckerConfig, registry *Registry, factory *adapter.Factory) *Checker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultCheckInterval
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Checker{
		config:   cfg,
		registry: registry,
		factory:  factory,
	}
}

// Run probes all endpoints on the configured interval until the context is
// cancelled. The first round runs immediately so endpoints registered as
// unhealthy recover without waiting a full interval.
func (c *Checker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	c.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered endpoint once. Probes for different
// endpoints run concurrently; each is bounded by the probe timeout.
func (c *Checker) CheckAll(ctx context.Context) {
	endpoints := c.registry.Snapshot()

	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep adapter.Endpoint) {
			defer wg.Done()
			c.probe(ctx, ep)
		}(ep)
	}
	wg.Wait()
}

// probe connects and disconnects once, recording the outcome.
func (c *Checker) probe(ctx context.Context, ep adapter.Endpoint) {
	a, err := c.factory.Adapter(ep.Protocol)
	if err != nil {
		c.config.Logger.Error("no adapter for endpoint",
			slog.String("protocol", ep.Protocol.String()),
			slog.String("endpoint", ep.Addr()))
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	conn, err := a.Connect(probeCtx, ep)
	if err == nil {
		a.Disconnect(conn)
	}

	healthy := err == nil
	c.registry.SetHealthy(ep.Protocol, ep.Addr(), healthy)

	result := "healthy"
	if !healthy {
		result = "unhealthy"
		c.config.Logger.Debug("endpoint probe failed",
			slog.String("protocol", ep.Protocol.String()),
			slog.String("endpoint", ep.Addr()),
			slog.String("error", err.Error()))
	}

	if c.config.Metrics != nil {
		c.config.Metrics.HealthChecks.WithLabelValues(ep.Protocol.String(), result).Inc()
		v := 0.0
		if healthy {
			v = 1.0
		}
		c.config.Metrics.EndpointHealthy.WithLabelValues(ep.Protocol.String(), ep.Addr()).Set(v)
	}

	events.Emit(ctx, c.config.Sink, events.HealthCheckResult, map[string]string{
		"protocol": ep.Protocol.String(),
		"endpoint": ep.Addr(),
		"healthy":  strconv.FormatBool(healthy),
	})
}
