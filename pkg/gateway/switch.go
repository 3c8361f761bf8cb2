// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
	"github.com/edgemux/edgemux/pkg/events"
	"github.com/edgemux/edgemux/pkg/fsm"
	"github.com/edgemux/edgemux/pkg/migrate"
	"github.com/edgemux/edgemux/pkg/session"
)

// SwitchProtocol migrates a live session to the target protocol using the
// given strategy. A second switch on a session already mid-migration is
// rejected with ErrMigrationInProgress rather than queued.
func (g *Gateway) SwitchProtocol(ctx context.Context, sessionID string, target adapter.ProtocolKind, strategy migrate.Strategy) (migrate.Result, error) {
	sess, err := g.sessions.Get(sessionID)
	if err != nil {
		return migrate.Result{}, errors.New("switch", target.String(), sessionID, "", err)
	}
	return g.switchSession(ctx, sess, target, strategy)
}

// switchSession runs a migration under the session's state machine: Switch
// opens the switching state, the migrator moves the connection, and
// Switched (or Error, on failure) closes it.
func (g *Gateway) switchSession(ctx context.Context, sess *session.Session, target adapter.ProtocolKind, strategy migrate.Strategy) (migrate.Result, error) {
	if err := sess.BeginMigration(); err != nil {
		return migrate.Result{}, errors.New("switch", target.String(), sess.ID, "", err)
	}
	defer sess.EndMigration()

	from := sess.Protocol()
	sess.SetPendingSwitch(target)

	if _, err := sess.Machine.Fire(ctx, fsm.EventSwitch); err != nil {
		sess.SetPendingSwitch("")
		return migrate.Result{}, errors.New("switch", target.String(), sess.ID, "", err)
	}

	res, err := g.migrator.Migrate(ctx, sess, from, target, strategy)
	if err != nil {
		// Roll back through the machine's error row; the old connection,
		// when still open, remains authoritative.
		sess.Machine.Fire(ctx, fsm.EventError) //nolint:errcheck
		return res, errors.New("switch", target.String(), sess.ID, "", err)
	}

	if _, err := sess.Machine.Fire(ctx, fsm.EventSwitched); err != nil {
		return res, errors.New("switch", target.String(), sess.ID, "", err)
	}

	if g.config.Metrics != nil {
		g.config.Metrics.ActiveSessions.WithLabelValues(from.String()).Dec()
		g.config.Metrics.ActiveSessions.WithLabelValues(target.String()).Inc()
	}
	events.Emit(ctx, g.config.Sink, events.ProtocolSwitch, map[string]string{
		"session":  sess.ID,
		"from":     from.String(),
		"to":       target.String(),
		"strategy": string(strategy),
		"dropped":  strconv.Itoa(res.DroppedConnections),
		"took":     res.MigrationTime.String(),
	})

	g.config.Logger.Info("protocol switched",
		slog.String("session", sess.ID),
		slog.String("from", from.String()),
		slog.String("to", target.String()),
		slog.String("strategy", string(strategy)),
		slog.Int("dropped", res.DroppedConnections),
		slog.Duration("took", res.MigrationTime))

	return res, nil
}
