// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
	"github.com/edgemux/edgemux/pkg/events"
	"github.com/edgemux/edgemux/pkg/fsm"
	"github.com/edgemux/edgemux/pkg/handler"
	"github.com/edgemux/edgemux/pkg/router"
	"github.com/edgemux/edgemux/pkg/session"
)

// OpenSession registers a session for an accepted connection and walks it
// to the connected state, dialing a backend when endpoints are registered
// for the protocol.
func (g *Gateway) OpenSession(ctx context.Context, kind adapter.ProtocolKind, remoteAddr string) (string, error) {
	if !g.factory.Supports(kind) {
		return "", errors.New("open", kind.String(), "", remoteAddr, errors.ErrUnsupportedProtocol)
	}

	sess, err := g.sessions.Create(kind, g.machineFactory)
	if err != nil {
		return "", errors.New("open", kind.String(), "", remoteAddr, err)
	}

	if _, err := sess.Machine.Fire(ctx, fsm.EventConnect); err != nil {
		g.sessions.Remove(sess.ID)
		return "", errors.New("open", kind.String(), sess.ID, remoteAddr, err)
	}
	if _, err := sess.Machine.Fire(ctx, fsm.EventConnected); err != nil {
		g.sessions.Remove(sess.ID)
		return "", errors.New("open", kind.String(), sess.ID, remoteAddr, err)
	}

	// Counted before the connect handler runs: a rejection tears the
	// session down through the same path as any other close, which
	// decrements the gauge.
	if g.config.Metrics != nil {
		g.config.Metrics.ActiveSessions.WithLabelValues(kind.String()).Inc()
		g.config.Metrics.SessionsTotal.WithLabelValues(kind.String(), "opened").Inc()
	}

	if err := g.handler.OnConnect(ctx, sess); err != nil {
		g.closeSession(ctx, sess)
		return "", errors.New("open", kind.String(), sess.ID, remoteAddr, fmt.Errorf("%w: %v", errors.ErrHandlerFailed, err))
	}

	g.config.Logger.Debug("session opened",
		slog.String("session", sess.ID),
		slog.String("protocol", kind.String()),
		slog.String("remote", remoteAddr))

	return sess.ID, nil
}

// HandleMessage routes one inbound message, switching the session's
// protocol when a rule demands it, and produces the response payload.
//
// The business handler runs first. A nil handler response on a session
// with a bound backend connection relays the payload to the backend and
// returns the backend's reply.
func (g *Gateway) HandleMessage(ctx context.Context, msg *adapter.Message) ([]byte, error) {
	sess, err := g.sessions.Get(msg.SessionID)
	if err != nil {
		return nil, errors.New("dispatch", msg.Protocol.String(), msg.SessionID, msg.Header("remote_addr"), err)
	}

	if g.config.Limiter != nil && !g.config.Limiter.Allow(sess.ID) {
		if g.config.Metrics != nil {
			g.config.Metrics.RateLimitedRequests.WithLabelValues(msg.Protocol.String(), "session").Inc()
		}
		return nil, errors.New("dispatch", msg.Protocol.String(), sess.ID, msg.Header("remote_addr"), errors.ErrRateLimited)
	}

	sess.BeginWork()
	defer sess.EndWork()

	target, rule := g.route(ctx, msg)

	// A routing decision for a different protocol migrates the session
	// before dispatch. The message that triggered the switch completes on
	// the new protocol, so it leaves the in-flight count for the duration
	// of the switch; a graceful drain must not wait on it. Failure to
	// migrate is not fatal to the message; it proceeds on the current
	// protocol and the error is logged.
	if target != sess.Protocol() && !sess.Migrating() {
		sess.EndWork()
		_, err := g.switchSession(ctx, sess, target, g.config.SwitchStrategy)
		sess.BeginWork()
		if err != nil {
			g.config.Logger.Warn("routed switch failed, continuing on current protocol",
				slog.String("session", sess.ID),
				slog.String("from", sess.Protocol().String()),
				slog.String("to", target.String()),
				slog.String("rule", rule),
				slog.String("error", err.Error()))
		}
	}

	resp, err := g.handler.Handle(ctx, msg, sess)
	if err != nil {
		return nil, errors.New("dispatch", msg.Protocol.String(), sess.ID, msg.Header("remote_addr"),
			fmt.Errorf("%w: %v", errors.ErrHandlerFailed, err))
	}

	if resp == nil && sess.Conn() != nil {
		resp, err = g.relay(ctx, sess, msg.Payload)
		if err != nil {
			return nil, errors.New("dispatch", sess.Protocol().String(), sess.ID, msg.Header("remote_addr"), err)
		}
	}

	return resp, nil
}

// route resolves the target protocol for a message and emits the routing
// decision.
func (g *Gateway) route(ctx context.Context, msg *adapter.Message) (adapter.ProtocolKind, string) {
	rctx := &router.Context{}
	if id, ok := handler.IdentityFromContext(ctx); ok {
		rctx.Subject = id.Subject
		rctx.Attributes = id.Attributes
	}

	target, rule := g.router.Route(msg, rctx)

	if g.config.Metrics != nil {
		label := rule
		if label == "" {
			label = "default"
		}
		g.config.Metrics.RoutingDecisions.WithLabelValues(target.String(), label).Inc()
	}
	events.Emit(ctx, g.config.Sink, events.RoutingDecision, map[string]string{
		"session": msg.SessionID,
		"inbound": msg.Protocol.String(),
		"target":  target.String(),
		"rule":    rule,
	})

	return target, rule
}

// relay forwards the payload on the session's backend connection and waits
// for the reply.
func (g *Gateway) relay(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	proto := sess.Protocol()
	ad, err := g.factory.Adapter(proto)
	if err != nil {
		return nil, err
	}

	conn := sess.Conn()
	if conn == nil {
		return nil, errors.ErrConnectionClosed
	}

	exCtx := ctx
	if g.config.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		exCtx, cancel = context.WithTimeout(ctx, g.config.DispatchTimeout)
		defer cancel()
	}

	var resp []byte
	dispatch := func() error {
		if err := ad.Send(exCtx, conn, payload); err != nil {
			return err
		}
		var rerr error
		resp, rerr = ad.Receive(exCtx, conn)
		return rerr
	}

	if g.config.Metrics != nil {
		err = g.config.Metrics.ObserveDispatch(proto.String(), dispatch)
	} else {
		err = dispatch()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CloseSession tears the session down through its disconnect transitions.
func (g *Gateway) CloseSession(ctx context.Context, sessionID string) {
	sess, err := g.sessions.Get(sessionID)
	if err != nil {
		return
	}
	g.closeSession(ctx, sess)
}

func (g *Gateway) closeSession(ctx context.Context, sess *session.Session) {
	g.sessions.Remove(sess.ID)
	g.teardown(sess)

	g.config.Logger.Debug("session closed",
		slog.String("session", sess.ID),
		slog.String("protocol", sess.Protocol().String()))
}
