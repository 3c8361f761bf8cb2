// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"log/slog"

	"github.com/edgemux/edgemux/pkg/errors"
)

// ProtocolKind identifies one of the fixed transport protocols the gateway
// can speak. The set is known at build time and compared by value.
type ProtocolKind string

const (
	HTTP      ProtocolKind = "http"
	HTTP2     ProtocolKind = "http2"
	WebSocket ProtocolKind = "websocket"
	TCP       ProtocolKind = "tcp"
	UDP       ProtocolKind = "udp"
)

// Kinds lists every supported protocol in registration order.
func Kinds() []ProtocolKind {
	return []ProtocolKind{HTTP, HTTP2, WebSocket, TCP, UDP}
}

// Valid reports whether k is one of the supported protocols.
func (k ProtocolKind) Valid() bool {
	switch k {
	case HTTP, HTTP2, WebSocket, TCP, UDP:
		return true
	default:
		return false
	}
}

// String returns the protocol name.
func (k ProtocolKind) String() string {
	return string(k)
}

// Conn is a protocol-agnostic transport connection. Framing (length prefixes
// for TCP, WebSocket frame boundaries, HTTP request/response pairing) is
// fully hidden behind Send and Receive.
type Conn interface {
	// Send writes one complete payload to the transport.
	Send(ctx context.Context, payload []byte) error

	// Receive blocks until one complete payload arrives, the context is
	// cancelled, or the connection's read deadline elapses.
	Receive(ctx context.Context) ([]byte, error)

	// Close tears down the transport connection. Safe to call more than once.
	Close() error

	// Connected reports whether the connection is usable. Pure query.
	Connected() bool

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// Adapter establishes and operates connections for exactly one protocol.
// Implementations are selected at construction time via the Factory, never
// via runtime type inspection.
type Adapter interface {
	// Kind returns the protocol this adapter implements.
	Kind() ProtocolKind

	// Connect establishes a transport-level connection to the target.
	// For connectionless protocols (UDP) this validates reachability only.
	// Fails with errors.ErrTransportUnavailable when the endpoint is
	// unreachable.
	Connect(ctx context.Context, target Endpoint) (Conn, error)

	// Send writes one payload on the connection.
	// Fails with errors.ErrSendFailed when the transport rejects or times out.
	Send(ctx context.Context, conn Conn, payload []byte) error

	// Receive reads the next payload from the connection.
	// Fails with errors.ErrReceiveTimeout when the deadline elapses.
	Receive(ctx context.Context, conn Conn) ([]byte, error)

	// Disconnect closes the connection. Idempotent; never fails observably,
	// logs on error.
	Disconnect(conn Conn)

	// IsConnected reports whether the connection is live. No side effects.
	IsConnected(conn Conn) bool
}

// Base provides the connection-scoped operations shared by every adapter.
// Concrete adapters embed Base and implement Kind and Connect.
type Base struct {
	Logger *slog.Logger
}

// NewBase creates a Base with the given logger, defaulting to slog.Default().
func NewBase(logger *slog.Logger) Base {
	if logger == nil {
		logger = slog.Default()
	}
	return Base{Logger: logger}
}

// Send writes one payload via the connection.
func (b Base) Send(ctx context.Context, conn Conn, payload []byte) error {
	if conn == nil || !conn.Connected() {
		return errors.ErrConnectionClosed
	}
	return conn.Send(ctx, payload)
}

// Receive reads the next payload from the connection.
func (b Base) Receive(ctx context.Context, conn Conn) ([]byte, error) {
	if conn == nil || !conn.Connected() {
		return nil, errors.ErrConnectionClosed
	}
	return conn.Receive(ctx)
}

// Disconnect closes the connection, logging any close error.
func (b Base) Disconnect(conn Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		b.Logger.Debug("connection close error",
			slog.String("remote", conn.RemoteAddr()),
			slog.String("error", err.Error()))
	}
}

// IsConnected reports whether the connection is live.
func (b Base) IsConnected(conn Conn) bool {
	return conn != nil && conn.Connected()
}
