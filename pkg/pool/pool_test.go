// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// pipeDialer hands out one side of a fresh net.Pipe per dial and counts
// dials so tests can assert on reuse.
type pipeDialer struct {
	dials atomic.Int32
}

func (d *pipeDialer) dial(context.Context) (net.Conn, error) {
	d.dials.Add(1)
	client, server := net.Pipe()
	go func() {
		// Drain the server side so writes never block.
		buf := make([]byte, 256)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()
	return client, nil
}

func TestPool_ReusesIdleConnection(t *testing.T) {
	d := &pipeDialer{}
	p := New(d.dial, Config{MaxIdle: 2})
	defer p.Close()

	c1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer c2.Close()

	if got := d.dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1 (idle connection reused)", got)
	}
}

func TestPool_DiscardDropsConnection(t *testing.T) {
	d := &pipeDialer{}
	p := New(d.dial, Config{MaxIdle: 2})
	defer p.Close()

	c1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := c1.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("Get after Discard: %v", err)
	}
	if got := d.dials.Load(); got != 2 {
		t.Fatalf("dials = %d, want 2 (discarded connection not reused)", got)
	}
}

func TestPool_MaxActiveExhaustion(t *testing.T) {
	d := &pipeDialer{}
	p := New(d.dial, Config{MaxActive: 1})
	defer p.Close()

	c1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer c1.Close()

	if _, err := p.Get(context.Background()); err != ErrPoolExhausted {
		t.Fatalf("Get at MaxActive = %v, want ErrPoolExhausted", err)
	}
}

func TestPool_WaitsForFreedSlot(t *testing.T) {
	d := &pipeDialer{}
	p := New(d.dial, Config{MaxActive: 1, WaitTimeout: time.Second})
	defer p.Close()

	c1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		c1.Close()
	}()

	c2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get while waiting: %v", err)
	}
	c2.Close()
}

func TestPool_GetAfterClose(t *testing.T) {
	d := &pipeDialer{}
	p := New(d.dial, Config{})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Get(context.Background()); err != ErrPoolClosed {
		t.Fatalf("Get on closed pool = %v, want ErrPoolClosed", err)
	}
}

func TestPool_LifetimeRetirement(t *testing.T) {
	d := &pipeDialer{}
	p := New(d.dial, Config{MaxConnLifetime: 30 * time.Millisecond})
	defer p.Close()

	c1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c1.Close()

	time.Sleep(50 * time.Millisecond)

	c2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer c2.Close()

	if got := d.dials.Load(); got != 2 {
		t.Fatalf("dials = %d, want 2 (expired connection retired)", got)
	}
}
