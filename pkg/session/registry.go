// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
	"github.com/edgemux/edgemux/pkg/fsm"
	"github.com/google/uuid"
)

// ErrDrainTimeout is returned when draining exceeds its timeout.
var ErrDrainTimeout = fmt.Errorf("session drain timeout exceeded")

// MachineFactory builds the state machine for a new session. The gateway
// supplies it so transition actions can close over the session.
type MachineFactory func(s *Session) *fsm.Machine

// Registry owns every active session. There is exactly one Registry per
// gateway instance, passed explicitly to components that need it; no
// process-wide singletons.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	logger      *slog.Logger
	maxSessions int
}

// NewRegistry creates a session registry. maxSessions of 0 means unlimited.
func NewRegistry(logger *slog.Logger, maxSessions int) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		logger:      logger,
		maxSessions: maxSessions,
	}
}

// Create registers a new session on the given protocol. The machine factory
// may be nil for sessions that do not need lifecycle management (tests).
func (r *Registry) Create(protocol adapter.ProtocolKind, mf MachineFactory) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, fmt.Errorf("session limit reached (%d), rejecting new session", r.maxSessions)
	}

	sess := New(uuid.New().String(), protocol, nil)
	if mf != nil {
		sess.Machine = mf(sess)
	}
	r.sessions[sess.ID] = sess

	r.logger.Debug("session created",
		slog.String("session", sess.ID),
		slog.String("protocol", protocol.String()))

	return sess, nil
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return sess, nil
}

// Remove drops a session from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Range calls fn for every active session, stopping early if fn returns
// false. fn must not call back into the registry.
func (r *Registry) Range(fn func(*Session) bool) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

// Cleanup removes idle sessions on a timer until the context is cancelled.
// onExpire is invoked for each removed session, outside the registry lock.
func (r *Registry) Cleanup(ctx context.Context, idleTimeout time.Duration, onExpire func(*Session)) {
	ticker := time.NewTicker(idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.expireIdle(idleTimeout, onExpire)
		}
	}
}

func (r *Registry) expireIdle(idleTimeout time.Duration, onExpire func(*Session)) {
	now := time.Now()
	var expired []*Session

	r.mu.Lock()
	for id, sess := range r.sessions {
		// A mid-migration session is never expired from under the migrator.
		if sess.Migrating() {
			continue
		}
		if now.Sub(sess.LastActivity()) > idleTimeout {
			expired = append(expired, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		r.logger.Debug("session expired",
			slog.String("session", sess.ID),
			slog.String("protocol", sess.Protocol().String()))
		if onExpire != nil {
			onExpire(sess)
		}
	}
}

// DrainAll waits for every session to be removed or forces closure after
// the timeout. onClose is invoked for each forcibly closed session.
func (r *Registry) DrainAll(timeout time.Duration, onClose func(*Session)) error {
	r.logger.Info("draining all sessions", slog.Int("count", r.Count()))

	if r.Count() == 0 {
		return nil
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.Count() == 0 {
				r.logger.Info("all sessions drained")
				return nil
			}
		case <-deadline:
			r.logger.Warn("drain timeout exceeded, forcing session closure")
			r.ForceCloseAll(onClose)
			return ErrDrainTimeout
		}
	}
}

// ForceCloseAll removes every session, invoking onClose for each.
func (r *Registry) ForceCloseAll(onClose func(*Session)) {
	r.mu.Lock()
	closing := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		closing = append(closing, sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, sess := range closing {
		r.logger.Debug("force closing session", slog.String("session", sess.ID))
		if onClose != nil {
			onClose(sess)
		}
	}
}
