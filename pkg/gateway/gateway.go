// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/adapter/httpx"
	"github.com/edgemux/edgemux/pkg/adapter/tcp"
	"github.com/edgemux/edgemux/pkg/adapter/udp"
	"github.com/edgemux/edgemux/pkg/adapter/ws"
	"github.com/edgemux/edgemux/pkg/balance"
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

// Config holds gateway configuration.
type Config struct {
	// SwitchStrategy is the migration strategy used for router-driven
	// protocol switches.
	SwitchStrategy migrate.Strategy

	// RetryBackoff is the minimum wait before a session in the error state
	// may retry.
	RetryBackoff time.Duration

	// DispatchTimeout bounds one backend exchange.
	DispatchTimeout time.Duration

	// DrainTimeout bounds the graceful-drain migration strategy.
	DrainTimeout time.Duration

	// OverlapWindow is the dual-connection period of an overlap-transition
	// migration.
	OverlapWindow time.Duration

	// ConnectTimeout bounds opening backend connections.
	ConnectTimeout time.Duration

	// SessionIdleTimeout expires sessions with no activity. Zero disables
	// expiry.
	SessionIdleTimeout time.Duration

	// MaxSessions caps concurrent sessions. 0 means unlimited.
	MaxSessions int

	// ShutdownTimeout bounds listener shutdown and session draining.
	ShutdownTimeout time.Duration

	// TLSConfig, when set, applies to the TCP, WebSocket, and HTTP
	// listeners.
	TLSConfig *tls.Config

	// Limiter applies per-session rate limiting when set.
	Limiter *ratelimit.SessionLimiter

	// Logger for gateway events.
	Logger *slog.Logger

	// Sink receives structured gateway events. Optional.
	Sink events.Sink

	// Metrics records gateway metrics. Optional.
	Metrics *metrics.Metrics
}

// server is the common surface of the per-protocol listeners.
type server interface {
	Listen(ctx context.Context) error
}

// listener tracks one running protocol listener.
type listener struct {
	address string
	cancel  context.CancelFunc
	done    chan struct{}
}

// Gateway fronts a set of protocol listeners with rule-based routing,
// session lifecycle management, and live protocol migration. It implements
// adapter.Ingress, which is how the listeners feed it.
type Gateway struct {
	config    Config
	factory   *adapter.Factory
	router    *router.Router
	handler   handler.Handler
	sessions  *session.Registry
	endpoints *balance.Registry
	balancer  *balance.Balancer
	migrator  *migrate.Migrator

	mu        sync.Mutex
	listeners map[adapter.ProtocolKind]*listener
}

// New creates a gateway. The endpoint registry may be empty; sessions on a
// protocol with no registered endpoints run in handler-only mode, with no
// backend connection bound.
func New(cfg Config, factory *adapter.Factory, rtr *router.Router, h handler.Handler, endpoints *balance.Registry, lb balance.Strategy) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SwitchStrategy == "" {
		cfg.SwitchStrategy = migrate.GracefulDrain
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if h == nil {
		h = handler.NoopHandler{}
	}

	balancer := balance.NewBalancer(endpoints, lb, cfg.Logger)

	migrator := migrate.New(migrate.Config{
		DrainTimeout:   cfg.DrainTimeout,
		OverlapWindow:  cfg.OverlapWindow,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         cfg.Logger,
		Sink:           cfg.Sink,
		Metrics:        cfg.Metrics,
	}, factory, balancer)

	return &Gateway{
		config:    cfg,
		factory:   factory,
		router:    rtr,
		handler:   h,
		sessions:  session.NewRegistry(cfg.Logger, cfg.MaxSessions),
		endpoints: endpoints,
		balancer:  balancer,
		migrator:  migrator,
		listeners: make(map[adapter.ProtocolKind]*listener),
	}
}

// Sessions exposes the session registry.
func (g *Gateway) Sessions() *session.Registry {
	return g.sessions
}

// Listen starts the listener for one protocol and blocks until the context
// is cancelled. Listening twice on the same protocol and address is a
// no-op; a different address restarts the listener there.
func (g *Gateway) Listen(ctx context.Context, kind adapter.ProtocolKind, address string) error {
	if !g.factory.Supports(kind) {
		return fmt.Errorf("%w: %s", errors.ErrUnsupportedProtocol, kind)
	}

	g.mu.Lock()
	if l, ok := g.listeners[kind]; ok {
		if l.address == address {
			g.mu.Unlock()
			g.config.Logger.Debug("listener already running",
				slog.String("protocol", kind.String()),
				slog.String("address", address))
			return nil
		}
		delete(g.listeners, kind)
		g.mu.Unlock()

		g.config.Logger.Info("restarting listener",
			slog.String("protocol", kind.String()),
			slog.String("old_address", l.address),
			slog.String("new_address", address))
		l.cancel()
		<-l.done

		g.mu.Lock()
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &listener{address: address, cancel: cancel, done: make(chan struct{})}
	g.listeners[kind] = l
	g.mu.Unlock()

	defer func() {
		close(l.done)
		g.mu.Lock()
		if g.listeners[kind] == l {
			delete(g.listeners, kind)
		}
		g.mu.Unlock()
		cancel()
	}()

	return g.buildServer(kind, address).Listen(lctx)
}

// buildServer constructs the listener for a protocol.
func (g *Gateway) buildServer(kind adapter.ProtocolKind, address string) server {
	switch kind {
	case adapter.TCP:
		return tcp.NewServer(tcp.Config{
			Address:         address,
			TLSConfig:       g.config.TLSConfig,
			ShutdownTimeout: g.config.ShutdownTimeout,
			Logger:          g.config.Logger,
		}, g)
	case adapter.UDP:
		return udp.NewServer(udp.Config{
			Address:       address,
			ClientTimeout: g.config.SessionIdleTimeout,
			MaxClients:    g.config.MaxSessions,
			Logger:        g.config.Logger,
		}, g)
	case adapter.WebSocket:
		return ws.NewServer(ws.Config{
			Address:         address,
			TLSConfig:       g.config.TLSConfig,
			ShutdownTimeout: g.config.ShutdownTimeout,
			Logger:          g.config.Logger,
		}, g)
	default:
		return httpx.NewServer(httpx.Config{
			Address:         address,
			Kind:            kind,
			TLSConfig:       g.config.TLSConfig,
			ShutdownTimeout: g.config.ShutdownTimeout,
			Logger:          g.config.Logger,
		}, g)
	}
}

// Run performs background session maintenance until the context ends.
// Idle sessions past SessionIdleTimeout are expired; migrating sessions
// are never expired.
func (g *Gateway) Run(ctx context.Context) error {
	if g.config.SessionIdleTimeout <= 0 {
		<-ctx.Done()
		return nil
	}
	g.sessions.Cleanup(ctx, g.config.SessionIdleTimeout, func(sess *session.Session) {
		g.teardown(sess)
	})
	return nil
}

// Shutdown stops every listener, then drains active sessions. Sessions
// still open after the timeout are forcibly closed and ErrDrainTimeout is
// returned.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	if timeout == 0 {
		timeout = g.config.ShutdownTimeout
	}

	g.mu.Lock()
	running := make([]*listener, 0, len(g.listeners))
	for _, l := range g.listeners {
		running = append(running, l)
	}
	g.mu.Unlock()

	for _, l := range running {
		l.cancel()
	}
	deadline := time.After(timeout)
	for _, l := range running {
		select {
		case <-l.done:
		case <-deadline:
		}
	}

	return g.sessions.DrainAll(timeout, func(sess *session.Session) {
		g.teardown(sess)
	})
}

// machineFactory builds the lifecycle state machine for one session. The
// hooks close over the session; the staged connection carries the backend
// socket from the connect action to the bind action.
func (g *Gateway) machineFactory(sess *session.Session) *fsm.Machine {
	var staged adapter.Conn

	hooks := fsm.Hooks{
		OpenConnection: func(ctx context.Context) error {
			conn, err := g.dialBackend(ctx, sess.Protocol())
			if err != nil {
				return err
			}
			staged = conn
			return nil
		},
		BindSession: func(ctx context.Context) error {
			if staged != nil {
				sess.Bind(staged)
				staged = nil
			}
			sess.Touch()
			return nil
		},
		RecordFailure: func(ctx context.Context) error {
			sess.RecordFailure()
			return nil
		},
		CanSwitch: func(ctx context.Context) error {
			target := sess.PendingSwitch()
			if !g.factory.Supports(target) {
				return fmt.Errorf("%w: %s", errors.ErrUnsupportedProtocol, target)
			}
			if target == sess.Protocol() {
				return fmt.Errorf("already on %s", target)
			}
			return nil
		},
		BeginMigration: func(ctx context.Context) error {
			sess.Touch()
			return nil
		},
		CommitMigration: func(ctx context.Context) error {
			sess.SetPendingSwitch("")
			sess.Touch()
			return nil
		},
		RollbackMigration: func(ctx context.Context) error {
			if c := sess.ClearOverlap(); c != nil {
				c.Close()
			}
			sess.SetPendingSwitch("")
			sess.RecordFailure()
			return nil
		},
		ReleaseResources: func(ctx context.Context) error {
			if c := sess.ClearOverlap(); c != nil {
				c.Close()
			}
			if c := sess.Conn(); c != nil {
				c.Close()
			}
			return nil
		},
		BackoffElapsed: func(ctx context.Context) error {
			if !sess.BackoffElapsed(g.config.RetryBackoff) {
				return fmt.Errorf("retry backoff not elapsed")
			}
			return nil
		},
		ResetSession: func(ctx context.Context) error {
			sess.Reset()
			return nil
		},
	}

	return fsm.New(g.config.Logger, fsm.Table(hooks))
}

// dialBackend opens a backend connection for the protocol through the load
// balancer. A protocol with no registered endpoints runs handler-only and
// gets no connection.
func (g *Gateway) dialBackend(ctx context.Context, kind adapter.ProtocolKind) (adapter.Conn, error) {
	if len(g.endpoints.Endpoints(kind)) == 0 {
		return nil, nil
	}

	lease, err := g.balancer.Select(kind)
	if err != nil {
		return nil, err
	}

	ad, err := g.factory.Adapter(kind)
	if err != nil {
		lease.Release(err)
		return nil, err
	}

	dialCtx := ctx
	if g.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, g.config.ConnectTimeout)
		defer cancel()
	}

	conn, err := ad.Connect(dialCtx, lease.Endpoint)
	lease.Release(err)
	if err != nil {
		if g.config.Metrics != nil {
			g.config.Metrics.ConnectionErrors.WithLabelValues(kind.String(), "connect").Inc()
		}
		return nil, err
	}
	if g.config.Metrics != nil {
		g.config.Metrics.ActiveConnections.WithLabelValues(kind.String()).Inc()
	}
	return conn, nil
}

// teardown releases a session's resources outside the normal disconnect
// path (idle expiry, forced shutdown).
func (g *Gateway) teardown(sess *session.Session) {
	ctx := context.Background()

	// Best effort: a session mid-lifecycle may not accept these events.
	if sess.Machine != nil {
		if _, err := sess.Machine.Fire(ctx, fsm.EventDisconnect); err == nil {
			sess.Machine.Fire(ctx, fsm.EventDisconnected) //nolint:errcheck
		}
	}

	if c := sess.ClearOverlap(); c != nil {
		c.Close()
	}
	if c := sess.Conn(); c != nil {
		c.Close()
		if g.config.Metrics != nil {
			g.config.Metrics.ActiveConnections.WithLabelValues(sess.Protocol().String()).Dec()
		}
	}

	if err := g.handler.OnDisconnect(ctx, sess); err != nil {
		g.config.Logger.Warn("disconnect handler error",
			slog.String("session", sess.ID),
			slog.String("error", err.Error()))
	}
	if g.config.Limiter != nil {
		g.config.Limiter.Remove(sess.ID)
	}

	if g.config.Metrics != nil {
		proto := sess.Protocol().String()
		g.config.Metrics.ActiveSessions.WithLabelValues(proto).Dec()
		g.config.Metrics.SessionDuration.WithLabelValues(proto).Observe(time.Since(sess.CreatedAt()).Seconds())
	}
}
