// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
)

// AdapterConfig holds the WebSocket adapter configuration.
type AdapterConfig struct {
	// Path is the request path for the upgrade handshake. Defaults to "/".
	Path string

	// HandshakeTimeout bounds the upgrade handshake when the caller's
	// context carries no deadline.
	HandshakeTimeout time.Duration

	// TLSConfig enables wss dialing when set.
	TLSConfig *tls.Config

	// Logger for adapter events.
	Logger *slog.Logger
}

// Adapter dials backend endpoints over WebSocket.
type Adapter struct {
	adapter.Base
	config AdapterConfig
	dialer *websocket.Dialer
}

// NewAdapter creates a WebSocket adapter.
func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  cfg.TLSConfig,
	}

	return &Adapter{
		Base:   adapter.NewBase(cfg.Logger),
		config: cfg,
		dialer: dialer,
	}
}

// Kind returns the protocol this adapter speaks.
func (a *Adapter) Kind() adapter.ProtocolKind {
	return adapter.WebSocket
}

// Connect performs the upgrade handshake against the target endpoint.
func (a *Adapter) Connect(ctx context.Context, target adapter.Endpoint) (adapter.Conn, error) {
	scheme := "ws"
	if a.config.TLSConfig != nil {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: target.Addr(), Path: a.config.Path}

	wsConn, resp, err := a.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: ws %s: handshake rejected with %s", errors.ErrTransportUnavailable, target.Addr(), resp.Status)
		}
		return nil, fmt.Errorf("%w: ws %s: %v", errors.ErrTransportUnavailable, target.Addr(), err)
	}

	a.config.Logger.Debug("ws backend connected",
		slog.String("endpoint", target.Addr()),
		slog.String("url", u.String()))

	return NewConn(wsConn), nil
}
