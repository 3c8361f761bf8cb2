// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package pool provides connection pooling for backend transport connections.
// The TCP adapter draws its backend sockets from a per-endpoint pool so that
// short-lived sessions do not pay a dial per dispatch.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	// ErrPoolClosed is returned when the pool is closed.
	ErrPoolClosed = errors.New("connection pool is closed")
	// ErrPoolExhausted is returned when no connections are available.
	ErrPoolExhausted = errors.New("connection pool exhausted")
)

// Config holds connection pool configuration.
type Config struct {
	// MaxIdle is the maximum number of idle connections kept in the pool.
	MaxIdle int
	// MaxActive caps concurrently checked-out connections. 0 means no limit.
	MaxActive int
	// IdleTimeout closes connections idle longer than this.
	IdleTimeout time.Duration
	// MaxConnLifetime retires connections older than this.
	MaxConnLifetime time.Duration
	// DialTimeout bounds establishing new connections.
	DialTimeout time.Duration
	// WaitTimeout bounds waiting for a connection when the pool is
	// exhausted. 0 fails immediately.
	WaitTimeout time.Duration
}

// Conn wraps a net.Conn checked out of a pool. Close returns it to the pool
// rather than closing the socket.
type Conn struct {
	net.Conn
	createdAt time.Time
	idleSince time.Time
	pool      *Pool
}

// Close returns the connection to the pool.
func (c *Conn) Close() error {
	return c.pool.put(c)
}

// Discard closes the underlying socket instead of returning it to the pool.
// Used when the connection is known bad (read error, protocol violation).
func (c *Conn) Discard() error {
	c.pool.mu.Lock()
	c.pool.active--
	c.pool.mu.Unlock()
	return c.Conn.Close()
}

// DialFunc creates a new backend connection.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Pool is a bounded pool of backend connections for one endpoint.
type Pool struct {
	mu       sync.Mutex
	idle     []*Conn
	active   int
	dial     DialFunc
	config   Config
	closed   bool
	waitCh   chan struct{}
	cleanerC chan struct{}
}

// New creates a new connection pool.
func New(dial DialFunc, config Config) *Pool {
	if config.MaxIdle <= 0 {
		config.MaxIdle = 10
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.MaxConnLifetime == 0 {
		config.MaxConnLifetime = 30 * time.Minute
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	p := &Pool{
		dial:     dial,
		config:   config,
		waitCh:   make(chan struct{}, 1),
		cleanerC: make(chan struct{}),
	}

	go p.cleanIdle()

	return p
}

// Get retrieves an idle connection or dials a new one.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	// Reuse the most recently returned idle connection.
	for len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if p.usable(conn) {
			p.active++
			p.mu.Unlock()
			return conn, nil
		}
		conn.Conn.Close()
	}

	if p.config.MaxActive > 0 && p.active >= p.config.MaxActive {
		p.mu.Unlock()

		if p.config.WaitTimeout > 0 {
			timer := time.NewTimer(p.config.WaitTimeout)
			defer timer.Stop()

			select {
			case <-p.waitCh:
				return p.Get(ctx)
			case <-timer.C:
				return nil, ErrPoolExhausted
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, ErrPoolExhausted
	}

	p.active++
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.config.DialTimeout)
	defer cancel()

	raw, err := p.dial(dialCtx)
	if err != nil {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return &Conn{
		Conn:      raw,
		createdAt: time.Now(),
		pool:      p,
	}, nil
}

// put returns a connection to the pool.
func (p *Pool) put(conn *Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active--

	if p.closed || !p.usable(conn) || len(p.idle) >= p.config.MaxIdle {
		return conn.Conn.Close()
	}

	conn.idleSince = time.Now()
	p.idle = append(p.idle, conn)

	select {
	case p.waitCh <- struct{}{}:
	default:
	}

	return nil
}

// usable reports whether the connection may still be handed out.
func (p *Pool) usable(conn *Conn) bool {
	if p.config.MaxConnLifetime > 0 && time.Since(conn.createdAt) > p.config.MaxConnLifetime {
		return false
	}
	return true
}

// cleanIdle periodically closes connections idle beyond IdleTimeout.
func (p *Pool) cleanIdle() {
	ticker := time.NewTicker(p.config.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.cleanerC:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}

		var kept []*Conn
		now := time.Now()
		for _, conn := range p.idle {
			if !conn.idleSince.IsZero() && now.Sub(conn.idleSince) > p.config.IdleTimeout {
				conn.Conn.Close()
			} else {
				kept = append(kept, conn)
			}
		}
		p.idle = kept
		p.mu.Unlock()
	}
}

// Close closes the pool and all idle connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.cleanerC)

	for _, conn := range p.idle {
		conn.Conn.Close()
	}
	p.idle = nil

	return nil
}

// Stats returns the idle and active connection counts.
func (p *Pool) Stats() (idle, active int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), p.active
}
