// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
var ErrShutdownTimeout = stderrors.New("shutdown timeout exceeded")

// Config holds the TCP listener configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// ShutdownTimeout is the maximum time to wait for active connections to
	// drain during graceful shutdown. After this timeout, remaining
	// connections are forcefully closed.
	ShutdownTimeout time.Duration

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts length-prefixed TCP connections and feeds each decoded
// frame to the gateway ingress.
type Server struct {
	config  Config
	ingress adapter.Ingress
	wg      sync.WaitGroup
}

// NewServer creates a TCP listener backed by the given ingress.
func NewServer(cfg Config, ingress adapter.Ingress) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Server{
		config:  cfg,
		ingress: ingress,
	}
}

// Listen starts the TCP listener and blocks until the context is cancelled.
// It implements graceful shutdown with connection draining.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", s.config.Address))
	}

	s.config.Logger.Info("TCP listener started", slog.String("address", s.config.Address))

	// Separate context for active connections so shutdown can drain them
	// before forcing closure.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.handleConn(connCtx, conn); err != nil && !stderrors.Is(err, io.EOF) {
					s.config.Logger.Debug("connection handler error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()
		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(1 * time.Second):
			return ErrShutdownTimeout
		}
	}
}

// handleConn runs the frame loop for one client connection: open a session,
// decode frames, hand each one to the ingress, write responses back.
func (s *Server) handleConn(ctx context.Context, raw net.Conn) error {
	conn := NewConn(raw)
	defer conn.Close()

	remote := raw.RemoteAddr().String()

	if tlsConn, ok := raw.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
	}

	sessionID, err := s.ingress.OpenSession(ctx, adapter.TCP, remote)
	if err != nil {
		return fmt.Errorf("session rejected: %w", err)
	}
	defer s.ingress.CloseSession(context.Background(), sessionID)

	s.config.Logger.Debug("connection established",
		slog.String("session", sessionID),
		slog.String("client", remote))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := conn.Receive(ctx)
		if err != nil {
			return err
		}

		msg := &adapter.Message{
			SessionID:  sessionID,
			Protocol:   adapter.TCP,
			Payload:    payload,
			Headers:    map[string]string{"remote_addr": remote},
			ReceivedAt: time.Now(),
		}

		resp, err := s.ingress.HandleMessage(ctx, msg)
		if err != nil {
			if stderrors.Is(err, errors.ErrSessionNotFound) {
				return err
			}
			s.config.Logger.Warn("message failed",
				slog.String("session", sessionID),
				slog.String("error", err.Error()))
			continue
		}
		if resp == nil {
			continue
		}
		if err := conn.Send(ctx, resp); err != nil {
			return err
		}
	}
}
