// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
	"github.com/edgemux/edgemux/pkg/pool"
)

// AdapterConfig holds the TCP adapter configuration.
type AdapterConfig struct {
	// DialTimeout bounds establishing a backend connection when the
	// caller's context carries no deadline.
	DialTimeout time.Duration

	// Pool configures the per-endpoint connection pool.
	Pool pool.Config

	// Logger for adapter events.
	Logger *slog.Logger
}

// Adapter speaks length-prefixed TCP to backend endpoints. Backend sockets
// are drawn from a per-endpoint pool so short-lived sessions do not pay a
// dial per dispatch.
type Adapter struct {
	adapter.Base
	config AdapterConfig

	mu    sync.Mutex
	pools map[string]*pool.Pool
}

// NewAdapter creates a TCP adapter.
func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Pool.DialTimeout == 0 {
		cfg.Pool.DialTimeout = cfg.DialTimeout
	}

	return &Adapter{
		Base:   adapter.NewBase(cfg.Logger),
		config: cfg,
		pools:  make(map[string]*pool.Pool),
	}
}

// Kind returns the protocol this adapter speaks.
func (a *Adapter) Kind() adapter.ProtocolKind {
	return adapter.TCP
}

// Connect checks a pooled connection out for the target endpoint, dialing a
// new socket when the pool has no idle one.
func (a *Adapter) Connect(ctx context.Context, target adapter.Endpoint) (adapter.Conn, error) {
	p := a.poolFor(target.Addr())

	pc, err := p.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: tcp %s: %v", errors.ErrTransportUnavailable, target.Addr(), err)
	}

	conn := NewConn(pc)
	conn.release = func() error {
		return pc.Close()
	}
	conn.discard = func() error {
		return pc.Discard()
	}

	a.config.Logger.Debug("tcp backend connected",
		slog.String("endpoint", target.Addr()),
		slog.String("local", pc.LocalAddr().String()))

	return conn, nil
}

// poolFor returns the pool for an endpoint address, creating it on first use.
func (a *Adapter) poolFor(addr string) *pool.Pool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.pools[addr]; ok {
		return p
	}

	dial := func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	p := pool.New(dial, a.config.Pool)
	a.pools[addr] = p
	return p
}

// Close shuts down every endpoint pool.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for addr, p := range a.pools {
		if err := p.Close(); err != nil {
			a.config.Logger.Warn("closing tcp pool", slog.String("endpoint", addr), slog.String("error", err.Error()))
		}
	}
	a.pools = make(map[string]*pool.Pool)
	return nil
}
