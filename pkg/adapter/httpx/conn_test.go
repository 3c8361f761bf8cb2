// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package httpx

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/edgemux/edgemux/pkg/adapter"
)

func TestConn_CloseKeepsSharedClientSockets(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			dials.Add(1)
		}
	}
	srv.Start()
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	ep := adapter.Endpoint{Protocol: adapter.HTTP, Address: host, Port: port, Weight: 1}

	a := NewAdapter(AdapterConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx := context.Background()

	c1, err := a.Connect(ctx, ep)
	if err != nil {
		t.Fatalf("Connect c1: %v", err)
	}
	c2, err := a.Connect(ctx, ep)
	if err != nil {
		t.Fatalf("Connect c2: %v", err)
	}

	if err := c1.Send(ctx, []byte("warm")); err != nil {
		t.Fatalf("Send on c1: %v", err)
	}
	base := dials.Load()

	// Closing one logical connection must not tear down the client's
	// keep-alive sockets; the next exchange reuses the idle one.
	if err := c1.Close(); err != nil {
		t.Fatalf("Close c1: %v", err)
	}
	if err := c2.Send(ctx, []byte("reuse")); err != nil {
		t.Fatalf("Send on c2: %v", err)
	}
	if got := dials.Load(); got != base {
		t.Fatalf("backend saw %d new sockets after close, want %d (idle socket reused)", got, base)
	}

	resp, err := c2.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive on c2: %v", err)
	}
	if !bytes.Equal(resp, []byte("reuse")) {
		t.Fatalf("resp = %q, want %q", resp, "reuse")
	}
}
