// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package httpx

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
)

// AdapterConfig holds configuration shared by the HTTP/1.1 and HTTP/2
// adapters.
type AdapterConfig struct {
	// Path is the request path dispatches are posted to. Defaults to "/".
	Path string

	// DialTimeout bounds the reachability probe performed by Connect.
	DialTimeout time.Duration

	// RequestTimeout bounds each exchange when the caller's context
	// carries no deadline.
	RequestTimeout time.Duration

	// TLSConfig enables https dialing when set.
	TLSConfig *tls.Config

	// Logger for adapter events.
	Logger *slog.Logger
}

func (cfg *AdapterConfig) setDefaults() {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
}

// Adapter speaks HTTP/1.1 to backend endpoints. Each dispatch is one POST
// exchange; keep-alive connections are pooled by the http.Client.
type Adapter struct {
	adapter.Base
	config AdapterConfig
	client *http.Client
}

// NewAdapter creates an HTTP/1.1 adapter.
func NewAdapter(cfg AdapterConfig) *Adapter {
	cfg.setDefaults()

	transport := &http.Transport{
		TLSClientConfig:     cfg.TLSConfig,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Adapter{
		Base:   adapter.NewBase(cfg.Logger),
		config: cfg,
		client: &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
	}
}

// Kind returns the protocol this adapter speaks.
func (a *Adapter) Kind() adapter.ProtocolKind {
	return adapter.HTTP
}

// Connect probes the endpoint with a TCP dial, then binds a logical
// connection for later exchanges. HTTP has no session handshake, so the
// probe is the reachability check.
func (a *Adapter) Connect(ctx context.Context, target adapter.Endpoint) (adapter.Conn, error) {
	if err := probe(ctx, target.Addr(), a.config.DialTimeout); err != nil {
		return nil, fmt.Errorf("%w: http %s: %v", errors.ErrTransportUnavailable, target.Addr(), err)
	}

	a.config.Logger.Debug("http backend reachable", slog.String("endpoint", target.Addr()))
	return newConn(a.client, a.baseURL(target), target.Addr()), nil
}

func (a *Adapter) baseURL(target adapter.Endpoint) string {
	scheme := "http"
	if a.config.TLSConfig != nil {
		scheme = "https"
	}
	return scheme + "://" + target.Addr() + a.config.Path
}

// H2Adapter speaks HTTP/2 to backend endpoints. Without TLS it uses h2c
// (cleartext HTTP/2 with prior knowledge), so the backend must speak h2c
// on the same port.
type H2Adapter struct {
	adapter.Base
	config AdapterConfig
	client *http.Client
}

// NewH2Adapter creates an HTTP/2 adapter.
func NewH2Adapter(cfg AdapterConfig) *H2Adapter {
	cfg.setDefaults()

	transport := &http2.Transport{
		TLSClientConfig: cfg.TLSConfig,
	}
	if cfg.TLSConfig == nil {
		transport.AllowHTTP = true
		transport.DialTLSContext = func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
	}

	return &H2Adapter{
		Base:   adapter.NewBase(cfg.Logger),
		config: cfg,
		client: &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
	}
}

// Kind returns the protocol this adapter speaks.
func (a *H2Adapter) Kind() adapter.ProtocolKind {
	return adapter.HTTP2
}

// Connect probes the endpoint with a TCP dial, then binds a logical
// connection whose exchanges ride multiplexed HTTP/2 streams.
func (a *H2Adapter) Connect(ctx context.Context, target adapter.Endpoint) (adapter.Conn, error) {
	if err := probe(ctx, target.Addr(), a.config.DialTimeout); err != nil {
		return nil, fmt.Errorf("%w: http2 %s: %v", errors.ErrTransportUnavailable, target.Addr(), err)
	}

	scheme := "http"
	if a.config.TLSConfig != nil {
		scheme = "https"
	}
	url := scheme + "://" + target.Addr() + a.config.Path

	a.config.Logger.Debug("http2 backend reachable", slog.String("endpoint", target.Addr()))
	return newConn(a.client, url, target.Addr()), nil
}

// probe dials and immediately closes a TCP connection to verify the
// endpoint accepts connections.
func probe(ctx context.Context, addr string, timeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
