// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
)

// AdapterConfig holds the UDP adapter configuration.
type AdapterConfig struct {
	// ReadBufferSize sets the socket receive buffer size (SO_RCVBUF).
	// If 0, uses system default.
	ReadBufferSize int

	// WriteBufferSize sets the socket send buffer size (SO_SNDBUF).
	// If 0, uses system default.
	WriteBufferSize int

	// Logger for adapter events.
	Logger *slog.Logger
}

// Adapter speaks datagrams to backend endpoints over connected UDP sockets.
type Adapter struct {
	adapter.Base
	config AdapterConfig
}

// NewAdapter creates a UDP adapter.
func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		Base:   adapter.NewBase(cfg.Logger),
		config: cfg,
	}
}

// Kind returns the protocol this adapter speaks.
func (a *Adapter) Kind() adapter.ProtocolKind {
	return adapter.UDP
}

// Connect resolves the endpoint and opens a connected UDP socket. UDP is
// connectionless, so this validates resolution and local socket creation
// only; delivery failures surface on Send and Receive.
func (a *Adapter) Connect(ctx context.Context, target adapter.Endpoint) (adapter.Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", target.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: udp %s: %v", errors.ErrTransportUnavailable, target.Addr(), err)
	}

	raw, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: udp %s: %v", errors.ErrTransportUnavailable, target.Addr(), err)
	}

	if a.config.ReadBufferSize > 0 {
		if err := raw.SetReadBuffer(a.config.ReadBufferSize); err != nil {
			a.config.Logger.Warn("failed to set read buffer size", slog.String("error", err.Error()))
		}
	}
	if a.config.WriteBufferSize > 0 {
		if err := raw.SetWriteBuffer(a.config.WriteBufferSize); err != nil {
			a.config.Logger.Warn("failed to set write buffer size", slog.String("error", err.Error()))
		}
	}

	a.config.Logger.Debug("udp backend socket opened",
		slog.String("endpoint", target.Addr()),
		slog.String("local", raw.LocalAddr().String()))

	return &Conn{raw: raw}, nil
}
