// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/pool"
)

// closingBackend accepts connections and drops each one immediately, the
// way a crashing backend would.
func closingBackend(t *testing.T) adapter.Endpoint {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	return adapter.Endpoint{
		Protocol: adapter.TCP,
		Address:  "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		Weight:   1,
	}
}

func TestAdapter_ErroredConnFreesPoolSlot(t *testing.T) {
	ep := closingBackend(t)

	a := NewAdapter(AdapterConfig{
		Pool:   pool.Config{MaxIdle: 1, MaxActive: 1},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer a.Close()

	ctx := context.Background()

	c1, err := a.Connect(ctx, ep)
	if err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if _, err := c1.Receive(ctx); err != io.EOF {
		t.Fatalf("Receive on dropped backend = %v, want io.EOF", err)
	}
	if c1.Connected() {
		t.Fatal("errored connection must report disconnected")
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// With MaxActive of one, the next checkout only succeeds if Close gave
	// the slot back instead of parking the dead socket.
	c2, err := a.Connect(ctx, ep)
	if err != nil {
		t.Fatalf("Connect after errored close: %v", err)
	}
	c2.Close()
}
