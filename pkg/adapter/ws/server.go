// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgemux/edgemux/pkg/adapter"
)

// Config holds the WebSocket listener configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// Path is the upgrade endpoint. Defaults to "/".
	Path string

	// TLSConfig enables wss when set.
	TLSConfig *tls.Config

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration

	// ReadBufferSize and WriteBufferSize size the upgrader's buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin overrides the upgrader's origin policy. Defaults to
	// accepting any origin, which suits a gateway fronting non-browser
	// clients as well as browsers.
	CheckOrigin func(r *http.Request) bool

	// Logger for server events
	Logger *slog.Logger
}

// Server upgrades HTTP requests to WebSocket connections and runs a message
// loop per connection against the gateway ingress.
type Server struct {
	config   Config
	ingress  adapter.Ingress
	upgrader websocket.Upgrader
	server   *http.Server
	wg       sync.WaitGroup
}

// NewServer creates a WebSocket listener backed by the given ingress.
func NewServer(cfg Config, ingress adapter.Ingress) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	s := &Server{
		config:  cfg,
		ingress: ingress,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     checkOrigin,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.serveUpgrade)

	s.server = &http.Server{
		Addr:      cfg.Address,
		Handler:   mux,
		TLSConfig: cfg.TLSConfig,
	}

	return s
}

// Listen starts the WebSocket listener and blocks until the context is
// cancelled.
func (s *Server) Listen(ctx context.Context) error {
	s.config.Logger.Info("WebSocket listener started",
		slog.String("address", s.config.Address),
		slog.String("path", s.config.Path))

	errCh := make(chan error, 1)
	go func() {
		if s.server.TLSConfig != nil {
			errCh <- s.server.ListenAndServeTLS("", "")
		} else {
			errCh <- s.server.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		s.config.Logger.Info("shutdown signal received, closing WebSocket listener")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.config.Logger.Error("error during shutdown", slog.String("error", err.Error()))
			return err
		}

		s.wg.Wait()
		s.config.Logger.Info("WebSocket listener shutdown complete")
		return nil

	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// serveUpgrade upgrades one request and runs its message loop.
func (s *Server) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.config.Logger.Warn("upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	conn := NewConn(wsConn)
	defer conn.Close()

	ctx := r.Context()
	remote := wsConn.RemoteAddr().String()

	sessionID, err := s.ingress.OpenSession(ctx, adapter.WebSocket, remote)
	if err != nil {
		s.config.Logger.Warn("session rejected",
			slog.String("remote", remote),
			slog.String("error", err.Error()))
		return
	}
	defer s.ingress.CloseSession(context.Background(), sessionID)

	s.config.Logger.Debug("connection established",
		slog.String("session", sessionID),
		slog.String("client", remote))

	headers := map[string]string{
		"remote_addr": remote,
		"path":        r.URL.Path,
	}
	if sub := r.Header.Get("Sec-WebSocket-Protocol"); sub != "" {
		headers["subprotocol"] = sub
	}

	for {
		payload, err := conn.Receive(ctx)
		if err != nil {
			if !stderrors.Is(err, io.EOF) {
				s.config.Logger.Debug("receive loop ended",
					slog.String("session", sessionID),
					slog.String("error", err.Error()))
			}
			return
		}

		msg := &adapter.Message{
			SessionID:  sessionID,
			Protocol:   adapter.WebSocket,
			Payload:    payload,
			Headers:    headers,
			ReceivedAt: time.Now(),
		}

		resp, err := s.ingress.HandleMessage(ctx, msg)
		if err != nil {
			s.config.Logger.Warn("message failed",
				slog.String("session", sessionID),
				slog.String("error", err.Error()))
			continue
		}
		if resp == nil {
			continue
		}
		if err := conn.Send(ctx, resp); err != nil {
			return
		}
	}
}
