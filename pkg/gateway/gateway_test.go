// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/balance"
	"github.com/edgemux/edgemux/pkg/breaker"
	"github.com/edgemux/edgemux/pkg/errors"
	"github.com/edgemux/edgemux/pkg/events"
	"github.com/edgemux/edgemux/pkg/fsm"
	"github.com/edgemux/edgemux/pkg/handler"
	"github.com/edgemux/edgemux/pkg/metrics"
	"github.com/edgemux/edgemux/pkg/migrate"
	"github.com/edgemux/edgemux/pkg/ratelimit"
	"github.com/edgemux/edgemux/pkg/router"
	"github.com/edgemux/edgemux/pkg/session"
)

// stubConn answers every relayed payload with a fixed prefix, standing in
// for a backend of the given protocol.
type stubConn struct {
	kind   adapter.ProtocolKind
	remote string
	closed atomic.Bool
	last   atomic.Value // []byte
}

func (c *stubConn) Send(_ context.Context, payload []byte) error {
	if c.closed.Load() {
		return errors.ErrConnectionClosed
	}
	c.last.Store(append([]byte(nil), payload...))
	return nil
}

func (c *stubConn) Receive(context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, errors.ErrConnectionClosed
	}
	payload, _ := c.last.Load().([]byte)
	return append([]byte("backend/"+string(c.kind)+":"), payload...), nil
}

func (c *stubConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *stubConn) Connected() bool { return !c.closed.Load() }

func (c *stubConn) RemoteAddr() string { return c.remote }

type stubAdapter struct {
	kind       adapter.ProtocolKind
	connectErr error
	dials      atomic.Int32
}

func (a *stubAdapter) Kind() adapter.ProtocolKind { return a.kind }

func (a *stubAdapter) Connect(_ context.Context, target adapter.Endpoint) (adapter.Conn, error) {
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	a.dials.Add(1)
	return &stubConn{kind: a.kind, remote: target.Addr()}, nil
}

func (a *stubAdapter) Send(ctx context.Context, conn adapter.Conn, payload []byte) error {
	return conn.Send(ctx, payload)
}

func (a *stubAdapter) Receive(ctx context.Context, conn adapter.Conn) ([]byte, error) {
	return conn.Receive(ctx)
}

func (a *stubAdapter) Disconnect(conn adapter.Conn) {
	if conn != nil {
		conn.Close()
	}
}

func (a *stubAdapter) IsConnected(conn adapter.Conn) bool {
	return conn != nil && conn.Connected()
}

type env struct {
	gw       *Gateway
	registry *balance.Registry
	http     *stubAdapter
	ws       *stubAdapter
}

// newEnv builds a gateway over stub http and websocket adapters. Protocols
// listed in backends get one healthy endpoint; the rest run handler-only.
func newEnv(t *testing.T, cfg Config, rtr *router.Router, h handler.Handler, backends ...adapter.ProtocolKind) *env {
	t.Helper()

	httpAd := &stubAdapter{kind: adapter.HTTP}
	wsAd := &stubAdapter{kind: adapter.WebSocket}
	factory, err := adapter.NewFactory(httpAd, wsAd)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	registry := balance.NewRegistry(nil, breaker.Config{})
	for _, kind := range backends {
		ep := adapter.Endpoint{Protocol: kind, Address: "10.0.0.1", Port: 9000, Weight: 1}
		if err := registry.Register(ep); err != nil {
			t.Fatalf("Register: %v", err)
		}
		registry.SetHealthy(kind, ep.Addr(), true)
	}

	if rtr == nil {
		rtr = router.New(adapter.HTTP)
	}

	return &env{
		gw:       New(cfg, factory, rtr, h, registry, balance.NewRoundRobin()),
		registry: registry,
		http:     httpAd,
		ws:       wsAd,
	}
}

func openSession(t *testing.T, gw *Gateway, kind adapter.ProtocolKind) string {
	t.Helper()
	id, err := gw.OpenSession(context.Background(), kind, "192.0.2.1:5000")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return id
}

func TestGateway_HandlerOnlyEcho(t *testing.T) {
	e := newEnv(t, Config{}, nil, handler.EchoHandler{})
	ctx := context.Background()

	id := openSession(t, e.gw, adapter.HTTP)

	sess, err := e.gw.Sessions().Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Machine.State() != fsm.StateConnected {
		t.Fatalf("state = %s, want connected", sess.Machine.State())
	}
	if sess.Conn() != nil {
		t.Fatal("no endpoints registered, session must not dial a backend")
	}

	resp, err := e.gw.HandleMessage(ctx, &adapter.Message{
		SessionID: id,
		Protocol:  adapter.HTTP,
		Payload:   []byte("ping"),
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !bytes.Equal(resp, []byte("ping")) {
		t.Fatalf("resp = %q, want echo", resp)
	}

	e.gw.CloseSession(ctx, id)
	if _, err := e.gw.Sessions().Get(id); !stderrors.Is(err, errors.ErrSessionNotFound) {
		t.Fatalf("Get after close = %v, want ErrSessionNotFound", err)
	}
}

func TestGateway_RelayToBackend(t *testing.T) {
	e := newEnv(t, Config{}, nil, handler.NoopHandler{}, adapter.HTTP)
	ctx := context.Background()

	id := openSession(t, e.gw, adapter.HTTP)

	sess, _ := e.gw.Sessions().Get(id)
	if sess.Conn() == nil {
		t.Fatal("session on a protocol with endpoints must be bound to a backend")
	}

	resp, err := e.gw.HandleMessage(ctx, &adapter.Message{
		SessionID: id,
		Protocol:  adapter.HTTP,
		Payload:   []byte("ping"),
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if want := []byte("backend/http:ping"); !bytes.Equal(resp, want) {
		t.Fatalf("resp = %q, want %q", resp, want)
	}
}

func TestGateway_RoutedSwitch(t *testing.T) {
	rtr := router.New(adapter.HTTP)
	rtr.Register(router.Rule{
		Condition: func(msg *adapter.Message, _ *router.Context) bool {
			return msg.Header("x-route") == "websocket"
		},
		TargetProtocol: adapter.WebSocket,
		Priority:       100,
		Description:    "route header",
	})

	e := newEnv(t, Config{SwitchStrategy: migrate.ImmediateSwitch}, rtr, handler.NoopHandler{},
		adapter.HTTP, adapter.WebSocket)
	ctx := context.Background()

	id := openSession(t, e.gw, adapter.HTTP)

	resp, err := e.gw.HandleMessage(ctx, &adapter.Message{
		SessionID: id,
		Protocol:  adapter.HTTP,
		Payload:   []byte("upgrade me"),
		Headers:   map[string]string{"x-route": "websocket"},
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	sess, _ := e.gw.Sessions().Get(id)
	if sess.Protocol() != adapter.WebSocket {
		t.Fatalf("protocol = %s, want websocket after routed switch", sess.Protocol())
	}
	if sess.Machine.State() != fsm.StateConnected {
		t.Fatalf("state = %s, want connected", sess.Machine.State())
	}
	if want := []byte("backend/websocket:upgrade me"); !bytes.Equal(resp, want) {
		t.Fatalf("resp = %q, want relay on the new protocol", resp)
	}

	// Subsequent messages without the header stay put: the default
	// protocol is http, so the router asks to switch back.
	if _, err := e.gw.HandleMessage(ctx, &adapter.Message{
		SessionID: id,
		Protocol:  adapter.WebSocket,
		Payload:   []byte("again"),
	}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	sess, _ = e.gw.Sessions().Get(id)
	if sess.Protocol() != adapter.HTTP {
		t.Fatalf("protocol = %s, want http after default routing", sess.Protocol())
	}
}

// captureSink records emitted events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Emit(_ context.Context, e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) find(name string) (events.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Name == name {
			return e, true
		}
	}
	return events.Event{}, false
}

func TestGateway_RoutedSwitchDrainsWithoutWaitingOnItself(t *testing.T) {
	rtr := router.New(adapter.HTTP)
	rtr.Register(router.Rule{
		Condition: func(msg *adapter.Message, _ *router.Context) bool {
			return msg.Header("x-route") == "websocket"
		},
		TargetProtocol: adapter.WebSocket,
		Priority:       100,
		Description:    "route header",
	})

	sink := &captureSink{}
	e := newEnv(t, Config{
		SwitchStrategy: migrate.GracefulDrain,
		DrainTimeout:   5 * time.Second,
		Sink:           sink,
	}, rtr, handler.NoopHandler{}, adapter.HTTP, adapter.WebSocket)
	ctx := context.Background()

	id := openSession(t, e.gw, adapter.HTTP)

	// The message that triggers the switch is itself in flight; the drain
	// must not count it, or it would sit out the full drain timeout and
	// then drop it.
	start := time.Now()
	if _, err := e.gw.HandleMessage(ctx, &adapter.Message{
		SessionID: id,
		Protocol:  adapter.HTTP,
		Payload:   []byte("upgrade me"),
		Headers:   map[string]string{"x-route": "websocket"},
	}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("routed graceful switch took %v, the drain is waiting on its own message", took)
	}

	sess, _ := e.gw.Sessions().Get(id)
	if sess.Protocol() != adapter.WebSocket {
		t.Fatalf("protocol = %s, want websocket", sess.Protocol())
	}
	ev, ok := sink.find(events.ProtocolSwitch)
	if !ok {
		t.Fatal("no protocol_switch event emitted")
	}
	if got := ev.Attributes["dropped"]; got != "0" {
		t.Fatalf("dropped = %s, want 0 (nothing may be dropped by a clean drain)", got)
	}
}

func TestGateway_SwitchFailureKeepsSessionUsable(t *testing.T) {
	e := newEnv(t, Config{SwitchStrategy: migrate.ImmediateSwitch}, nil, handler.EchoHandler{},
		adapter.HTTP)
	ctx := context.Background()

	id := openSession(t, e.gw, adapter.HTTP)

	// No websocket endpoints exist, so the switch fails inside the
	// migrator and the session rolls back through its error row.
	_, err := e.gw.SwitchProtocol(ctx, id, adapter.WebSocket, migrate.ImmediateSwitch)
	if err == nil {
		t.Fatal("switch to an endpoint-less protocol must fail")
	}

	sess, _ := e.gw.Sessions().Get(id)
	if sess.Protocol() != adapter.HTTP {
		t.Fatalf("protocol = %s, want http after failed switch", sess.Protocol())
	}
	if sess.Conn() == nil || !sess.Conn().Connected() {
		t.Fatal("old backend connection must survive a failed switch")
	}
	if sess.Migrating() {
		t.Fatal("migration mark must be cleared after failure")
	}
}

func TestGateway_SwitchRejectsSameProtocol(t *testing.T) {
	e := newEnv(t, Config{}, nil, handler.EchoHandler{}, adapter.HTTP)

	id := openSession(t, e.gw, adapter.HTTP)

	_, err := e.gw.SwitchProtocol(context.Background(), id, adapter.HTTP, migrate.ImmediateSwitch)
	if err == nil {
		t.Fatal("switch to the current protocol must be rejected by the guard")
	}

	sess, _ := e.gw.Sessions().Get(id)
	if sess.Machine.State() != fsm.StateConnected {
		t.Fatalf("state = %s, want connected (guard rejection leaves state)", sess.Machine.State())
	}
}

func TestGateway_ExplicitSwitch(t *testing.T) {
	e := newEnv(t, Config{}, nil, handler.NoopHandler{}, adapter.HTTP, adapter.WebSocket)
	ctx := context.Background()

	id := openSession(t, e.gw, adapter.HTTP)

	res, err := e.gw.SwitchProtocol(ctx, id, adapter.WebSocket, migrate.GracefulDrain)
	if err != nil {
		t.Fatalf("SwitchProtocol: %v", err)
	}
	if res.DroppedConnections != 0 {
		t.Fatalf("dropped = %d, want 0", res.DroppedConnections)
	}

	sess, _ := e.gw.Sessions().Get(id)
	if sess.Protocol() != adapter.WebSocket {
		t.Fatalf("protocol = %s, want websocket", sess.Protocol())
	}
	if e.ws.dials.Load() != 1 {
		t.Fatalf("websocket dials = %d, want 1", e.ws.dials.Load())
	}
}

func TestGateway_RateLimitedMessage(t *testing.T) {
	e := newEnv(t, Config{
		Limiter: ratelimit.NewSessionLimiter(1, 1, 0),
	}, nil, handler.EchoHandler{})
	ctx := context.Background()

	id := openSession(t, e.gw, adapter.HTTP)

	msg := &adapter.Message{SessionID: id, Protocol: adapter.HTTP, Payload: []byte("x")}
	if _, err := e.gw.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("first message: %v", err)
	}
	_, err := e.gw.HandleMessage(ctx, msg)
	if !stderrors.Is(err, errors.ErrRateLimited) {
		t.Fatalf("second message = %v, want ErrRateLimited", err)
	}
}

func TestGateway_UnknownSession(t *testing.T) {
	e := newEnv(t, Config{}, nil, handler.EchoHandler{})

	_, err := e.gw.HandleMessage(context.Background(), &adapter.Message{
		SessionID: "no-such-session",
		Protocol:  adapter.HTTP,
		Payload:   []byte("x"),
	})
	if !stderrors.Is(err, errors.ErrSessionNotFound) {
		t.Fatalf("HandleMessage = %v, want ErrSessionNotFound", err)
	}
}

func TestGateway_OpenSessionUnsupportedProtocol(t *testing.T) {
	e := newEnv(t, Config{}, nil, handler.EchoHandler{})

	_, err := e.gw.OpenSession(context.Background(), adapter.UDP, "192.0.2.1:5000")
	if !stderrors.Is(err, errors.ErrUnsupportedProtocol) {
		t.Fatalf("OpenSession = %v, want ErrUnsupportedProtocol", err)
	}
}

func TestGateway_OpenSessionBackendDown(t *testing.T) {
	e := newEnv(t, Config{}, nil, handler.EchoHandler{}, adapter.HTTP)
	e.http.connectErr = fmt.Errorf("%w: connection refused", errors.ErrTransportUnavailable)

	_, err := e.gw.OpenSession(context.Background(), adapter.HTTP, "192.0.2.1:5000")
	if err == nil {
		t.Fatal("OpenSession must fail when the backend dial fails")
	}
	if e.gw.Sessions().Count() != 0 {
		t.Fatalf("Count = %d, want 0 after failed open", e.gw.Sessions().Count())
	}
}

func TestGateway_OpenSessionAllEndpointsUnhealthy(t *testing.T) {
	e := newEnv(t, Config{}, nil, handler.EchoHandler{}, adapter.HTTP)
	e.registry.SetHealthy(adapter.HTTP, "10.0.0.1:9000", false)

	_, err := e.gw.OpenSession(context.Background(), adapter.HTTP, "192.0.2.1:5000")
	if !stderrors.Is(err, errors.ErrNoHealthyEndpoint) {
		t.Fatalf("OpenSession = %v, want ErrNoHealthyEndpoint", err)
	}
	if e.gw.Sessions().Count() != 0 {
		t.Fatalf("Count = %d, want 0", e.gw.Sessions().Count())
	}

	// Recovery path: once an endpoint is healthy again, sessions open.
	e.registry.SetHealthy(adapter.HTTP, "10.0.0.1:9000", true)
	if _, err := e.gw.OpenSession(context.Background(), adapter.HTTP, "192.0.2.1:5000"); err != nil {
		t.Fatalf("OpenSession after recovery: %v", err)
	}
}

func TestGateway_SessionHandlerError(t *testing.T) {
	failing := handlerFunc(func(context.Context, *adapter.Message, *session.Session) ([]byte, error) {
		return nil, fmt.Errorf("business rule violated")
	})
	e := newEnv(t, Config{}, nil, failing)
	ctx := context.Background()

	id := openSession(t, e.gw, adapter.HTTP)

	_, err := e.gw.HandleMessage(ctx, &adapter.Message{
		SessionID: id,
		Protocol:  adapter.HTTP,
		Payload:   []byte("x"),
	})
	if !stderrors.Is(err, errors.ErrHandlerFailed) {
		t.Fatalf("HandleMessage = %v, want ErrHandlerFailed", err)
	}

	// The session survives a handler error.
	if _, err := e.gw.Sessions().Get(id); err != nil {
		t.Fatalf("session gone after handler error: %v", err)
	}
}

// rejectConnect refuses every session at connect time.
type rejectConnect struct {
	handler.NoopHandler
}

func (rejectConnect) OnConnect(context.Context, *session.Session) error {
	return fmt.Errorf("not authorized")
}

func TestGateway_RejectedConnectLeavesGaugesBalanced(t *testing.T) {
	m := metrics.NewWith(prometheus.NewRegistry(), "test")
	e := newEnv(t, Config{Metrics: m}, nil, rejectConnect{})

	_, err := e.gw.OpenSession(context.Background(), adapter.HTTP, "192.0.2.1:5000")
	if !stderrors.Is(err, errors.ErrHandlerFailed) {
		t.Fatalf("OpenSession = %v, want ErrHandlerFailed", err)
	}

	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("http")); got != 0 {
		t.Fatalf("active_sessions = %v, want 0 after a rejected connect", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("http", "opened")); got != 1 {
		t.Fatalf("sessions_total = %v, want 1", got)
	}
}

func TestGateway_ConnectionGaugeTracksBackendLifecycle(t *testing.T) {
	m := metrics.NewWith(prometheus.NewRegistry(), "test")
	e := newEnv(t, Config{Metrics: m}, nil, handler.NoopHandler{}, adapter.HTTP)
	ctx := context.Background()

	id := openSession(t, e.gw, adapter.HTTP)
	if got := testutil.ToFloat64(m.ActiveConnections.WithLabelValues("http")); got != 1 {
		t.Fatalf("active_connections = %v, want 1 while the session is bound", got)
	}

	e.gw.CloseSession(ctx, id)
	if got := testutil.ToFloat64(m.ActiveConnections.WithLabelValues("http")); got != 0 {
		t.Fatalf("active_connections = %v, want 0 after close", got)
	}

	e.http.connectErr = fmt.Errorf("%w: connection refused", errors.ErrTransportUnavailable)
	if _, err := e.gw.OpenSession(ctx, adapter.HTTP, "192.0.2.1:5000"); err == nil {
		t.Fatal("OpenSession must fail when the backend dial fails")
	}
	if got := testutil.ToFloat64(m.ConnectionErrors.WithLabelValues("http", "connect")); got != 1 {
		t.Fatalf("connection_errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveConnections.WithLabelValues("http")); got != 0 {
		t.Fatalf("active_connections = %v, want 0 after a failed dial", got)
	}
}

// handlerFunc adapts a function to the handler interface.
type handlerFunc func(ctx context.Context, msg *adapter.Message, sess *session.Session) ([]byte, error)

func (f handlerFunc) Handle(ctx context.Context, msg *adapter.Message, sess *session.Session) ([]byte, error) {
	return f(ctx, msg, sess)
}

func (handlerFunc) OnConnect(context.Context, *session.Session) error    { return nil }
func (handlerFunc) OnDisconnect(context.Context, *session.Session) error { return nil }
