// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package httpx

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
)

// SessionHeader lets HTTP clients pin requests to a long-lived gateway
// session. Without it each request gets a session of its own.
const SessionHeader = "X-Edgemux-Session"

// maxBodySize bounds inbound request bodies.
const maxBodySize = 16 << 20

// Config holds the HTTP listener configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// Kind is the protocol label for inbound messages: HTTP or HTTP2.
	Kind adapter.ProtocolKind

	// TLSConfig enables https when set. An HTTP2 listener without TLS
	// serves h2c alongside HTTP/1.1.
	TLSConfig *tls.Config

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// Logger for server events
	Logger *slog.Logger
}

// Server converts HTTP requests into gateway messages. Each request either
// joins the session named by the session header or gets a per-request
// session that is closed when the response is written.
type Server struct {
	config  Config
	ingress adapter.Ingress
	server  *http.Server
}

// NewServer creates an HTTP listener backed by the given ingress.
func NewServer(cfg Config, ingress adapter.Ingress) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Kind == "" {
		cfg.Kind = adapter.HTTP
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		config:  cfg,
		ingress: ingress,
	}

	var handler http.Handler = http.HandlerFunc(s.serveHTTP)
	if cfg.Kind == adapter.HTTP2 && cfg.TLSConfig == nil {
		// Cleartext HTTP/2 with prior knowledge; HTTP/1.1 requests on the
		// same port still work.
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	s.server = &http.Server{
		Addr:      cfg.Address,
		Handler:   handler,
		TLSConfig: cfg.TLSConfig,
	}

	return s
}

// Listen starts the HTTP listener and blocks until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	s.config.Logger.Info("HTTP listener started",
		slog.String("address", s.config.Address),
		slog.String("protocol", s.config.Kind.String()))

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
		s.config.Logger.Info("shutdown signal received, closing HTTP listener")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.config.Logger.Error("error during shutdown", slog.String("error", err.Error()))
			return err
		}

		s.config.Logger.Info("HTTP listener shutdown complete")
		return nil

	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// serveHTTP converts one request into a gateway message and writes the
// response payload back.
func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(payload) > maxBodySize {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	kind := s.config.Kind
	if kind == adapter.HTTP2 && r.ProtoMajor < 2 {
		kind = adapter.HTTP
	}

	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		sessionID, err = s.ingress.OpenSession(ctx, kind, r.RemoteAddr)
		if err != nil {
			s.writeError(w, err)
			return
		}
		defer s.ingress.CloseSession(context.Background(), sessionID)
	}

	headers := map[string]string{
		"remote_addr":  r.RemoteAddr,
		"method":       r.Method,
		"path":         r.URL.Path,
		"content_type": r.Header.Get("Content-Type"),
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		headers["authorization"] = auth
	}

	msg := &adapter.Message{
		SessionID:  sessionID,
		Protocol:   kind,
		Payload:    payload,
		Headers:    headers,
		ReceivedAt: time.Now(),
	}

	resp, err := s.ingress.HandleMessage(ctx, msg)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set(SessionHeader, sessionID)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(resp); err != nil {
		s.config.Logger.Debug("failed to write response",
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
	}
}

// writeError maps gateway errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, errors.ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case stderrors.Is(err, errors.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case stderrors.Is(err, errors.ErrNoHealthyEndpoint), stderrors.Is(err, errors.ErrTransportUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case stderrors.Is(err, errors.ErrUnsupportedProtocol):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}
