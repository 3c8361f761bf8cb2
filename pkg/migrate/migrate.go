// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/balance"
	"github.com/edgemux/edgemux/pkg/errors"
	"github.com/edgemux/edgemux/pkg/events"
	"github.com/edgemux/edgemux/pkg/metrics"
	"github.com/edgemux/edgemux/pkg/session"
)

// Strategy selects how a session moves between protocols.
type Strategy string

const (
	// GracefulDrain waits for in-flight work to complete before switching.
	// Zero dropped connections; latency proportional to in-flight work.
	GracefulDrain Strategy = "graceful_drain"

	// ImmediateSwitch closes the old connection and opens the new one
	// without waiting. In-flight exchanges are dropped and must be retried.
	ImmediateSwitch Strategy = "immediate_switch"

	// OverlapTransition opens the new connection before closing the old
	// one, leaving both briefly live. The old connection stays
	// authoritative for writes until it closes.
	OverlapTransition Strategy = "overlap_transition"

	// StatePreserving serializes the session's application state, switches
	// connections, and restores the state before accepting new traffic.
	StatePreserving Strategy = "state_preserving"
)

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case GracefulDrain, ImmediateSwitch, OverlapTransition, StatePreserving:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown migration strategy %q", s)
	}
}

// Result reports one completed migration. All strategies report the same
// shape so callers can compare trade-offs uniformly.
type Result struct {
	// DroppedConnections counts connections whose in-flight exchanges were
	// cut during the switch.
	DroppedConnections int

	// MigrationTime is the wall time the switch took.
	MigrationTime time.Duration
}

// Plan is the ephemeral record of one in-flight switch. It exists only for
// the duration of the migration and is discarded on completion or failure.
type Plan struct {
	Session       *session.Session
	From          adapter.ProtocolKind
	To            adapter.ProtocolKind
	Strategy      Strategy
	StartedAt     time.Time
	CapturedState []byte
}

// Config holds migrator configuration.
type Config struct {
	// DrainTimeout bounds the graceful-drain wait.
	DrainTimeout time.Duration

	// OverlapWindow is the fixed period both connections stay live during
	// an overlap transition.
	OverlapWindow time.Duration

	// ConnectTimeout bounds opening the new-protocol connection.
	ConnectTimeout time.Duration

	// Logger for migration events.
	Logger *slog.Logger

	// Sink receives migration_complete events. Optional.
	Sink events.Sink

	// Metrics records migration outcomes. Optional.
	Metrics *metrics.Metrics
}

// Migrator executes protocol switches for live sessions.
type Migrator struct {
	config   Config
	factory  *adapter.Factory
	balancer *balance.Balancer
}

// New creates a migrator.
func New(cfg Config, factory *adapter.Factory, balancer *balance.Balancer) *Migrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.OverlapWindow == 0 {
		cfg.OverlapWindow = 2 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Migrator{
		config:   cfg,
		factory:  factory,
		balancer: balancer,
	}
}

// Migrate moves the session from one protocol to another using the given
// strategy. On failure the old connection, if still open, remains
// authoritative; the caller feeds the error into the session's state
// machine as an Error event.
func (m *Migrator) Migrate(ctx context.Context, sess *session.Session, from, to adapter.ProtocolKind, strategy Strategy) (Result, error) {
	plan := &Plan{
		Session:   sess,
		From:      from,
		To:        to,
		Strategy:  strategy,
		StartedAt: time.Now(),
	}

	result, err := m.run(ctx, plan)
	result.MigrationTime = time.Since(plan.StartedAt)

	if m.config.Metrics != nil {
		m.config.Metrics.ObserveMigration(string(strategy), result.DroppedConnections, result.MigrationTime, err)
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	events.Emit(ctx, m.config.Sink, events.MigrationComplete, map[string]string{
		"session":  sess.ID,
		"from":     from.String(),
		"to":       to.String(),
		"strategy": string(strategy),
		"status":   status,
		"dropped":  strconv.Itoa(result.DroppedConnections),
	})

	if err != nil {
		m.config.Logger.Warn("migration failed",
			slog.String("session", sess.ID),
			slog.String("strategy", string(strategy)),
			slog.String("error", err.Error()))
		return result, fmt.Errorf("%w: strategy %s: %v", errors.ErrMigrationFailed, strategy, err)
	}

	m.config.Logger.Info("migration complete",
		slog.String("session", sess.ID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("strategy", string(strategy)),
		slog.Int("dropped", result.DroppedConnections),
		slog.Duration("took", result.MigrationTime))

	return result, nil
}

// run dispatches to the strategy implementation after opening the
// new-protocol connection, which every strategy needs first.
func (m *Migrator) run(ctx context.Context, plan *Plan) (Result, error) {
	fromAdapter, err := m.factory.Adapter(plan.From)
	if err != nil {
		return Result{}, err
	}
	toAdapter, err := m.factory.Adapter(plan.To)
	if err != nil {
		return Result{}, err
	}

	lease, err := m.balancer.Select(plan.To)
	if err != nil {
		return Result{}, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	newConn, err := toAdapter.Connect(connectCtx, lease.Endpoint)
	cancel()
	if err != nil {
		// The old connection remains authoritative.
		lease.Release(err)
		if m.config.Metrics != nil {
			m.config.Metrics.ConnectionErrors.WithLabelValues(plan.To.String(), "connect").Inc()
		}
		return Result{}, fmt.Errorf("opening %s connection: %w", plan.To, err)
	}

	hadOld := plan.Session.Conn() != nil

	var result Result
	switch plan.Strategy {
	case GracefulDrain:
		result, err = m.gracefulDrain(ctx, plan, fromAdapter, newConn)
	case ImmediateSwitch:
		result, err = m.immediateSwitch(plan, fromAdapter, newConn)
	case OverlapTransition:
		result, err = m.overlapTransition(ctx, plan, fromAdapter, toAdapter, newConn)
	case StatePreserving:
		result, err = m.statePreserving(plan, fromAdapter, newConn)
	default:
		err = fmt.Errorf("unknown migration strategy %q", plan.Strategy)
	}

	if err != nil {
		toAdapter.Disconnect(newConn)
		lease.Release(err)
		return result, err
	}

	plan.Session.SetProtocol(plan.To)
	plan.Session.Touch()
	lease.Release(nil)

	// The old-protocol connection, when there was one, is gone and the
	// session is now served by the new-protocol one.
	if m.config.Metrics != nil {
		if hadOld {
			m.config.Metrics.ActiveConnections.WithLabelValues(plan.From.String()).Dec()
		}
		m.config.Metrics.ActiveConnections.WithLabelValues(plan.To.String()).Inc()
	}

	return result, nil
}

// gracefulDrain waits for in-flight exchanges to finish, bounded by the
// drain timeout, then switches bindings. A timed-out drain cuts whatever
// was still in flight and counts the old connection as dropped.
func (m *Migrator) gracefulDrain(ctx context.Context, plan *Plan, fromAdapter adapter.Adapter, newConn adapter.Conn) (Result, error) {
	sess := plan.Session
	drained := m.awaitDrain(ctx, sess)

	old := sess.Conn()
	sess.Bind(newConn)
	if old != nil {
		fromAdapter.Disconnect(old)
	}

	dropped := 0
	if !drained {
		dropped = 1
	}
	return Result{DroppedConnections: dropped}, nil
}

// awaitDrain polls until the session has no in-flight work, the drain
// timeout fires, or the context is cancelled.
func (m *Migrator) awaitDrain(ctx context.Context, sess *session.Session) bool {
	if sess.InFlight() == 0 {
		return true
	}

	deadline := time.After(m.config.DrainTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if sess.InFlight() == 0 {
				return true
			}
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// immediateSwitch closes the old connection first and binds the new one.
// Every exchange in flight on the old connection is dropped.
func (m *Migrator) immediateSwitch(plan *Plan, fromAdapter adapter.Adapter, newConn adapter.Conn) (Result, error) {
	sess := plan.Session

	dropped := 0
	if old := sess.Conn(); old != nil {
		if sess.InFlight() > 0 {
			dropped = 1
		}
		fromAdapter.Disconnect(old)
	}

	sess.Bind(newConn)
	return Result{DroppedConnections: dropped}, nil
}

// overlapTransition binds the new connection alongside the old one, keeps
// the old connection authoritative for writes during the overlap window,
// then promotes the new one and closes the old.
func (m *Migrator) overlapTransition(ctx context.Context, plan *Plan, fromAdapter, toAdapter adapter.Adapter, newConn adapter.Conn) (Result, error) {
	sess := plan.Session
	sess.BindOverlap(newConn)

	select {
	case <-time.After(m.config.OverlapWindow):
	case <-ctx.Done():
		// Roll back: drop the overlap binding, old stays authoritative.
		if c := sess.ClearOverlap(); c != nil {
			toAdapter.Disconnect(c)
		}
		return Result{}, ctx.Err()
	}

	old := sess.PromoteOverlap()
	if old != nil {
		fromAdapter.Disconnect(old)
	}
	return Result{DroppedConnections: 0}, nil
}

// statePreserving serializes the application state, switches connections,
// and restores the state before the session accepts new traffic.
func (m *Migrator) statePreserving(plan *Plan, fromAdapter adapter.Adapter, newConn adapter.Conn) (Result, error) {
	sess := plan.Session

	state := sess.AppState()
	if state != nil {
		captured, err := json.Marshal(state)
		if err != nil {
			return Result{}, fmt.Errorf("capturing session state: %w", err)
		}
		plan.CapturedState = captured
	}

	old := sess.Conn()
	sess.Bind(newConn)
	if old != nil {
		fromAdapter.Disconnect(old)
	}

	if plan.CapturedState != nil {
		var restored any
		if err := json.Unmarshal(plan.CapturedState, &restored); err != nil {
			return Result{}, fmt.Errorf("restoring session state: %w", err)
		}
		sess.SetAppState(restored)
	}

	return Result{DroppedConnections: 0}, nil
}
