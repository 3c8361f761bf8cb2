// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
	"github.com/edgemux/edgemux/pkg/fsm"
)

// Session is a logical unit of communication that may outlive a single
// transport connection. It is owned exclusively by the gateway while active
// and handed to the migrator during a protocol switch.
//
// Exactly one adapter connection is bound to a session at any instant,
// except during the overlap window of an overlap-transition migration,
// where a secondary connection is explicitly allowed.
type Session struct {
	// ID uniquely identifies this session.
	ID string

	// Machine governs the session lifecycle.
	Machine *fsm.Machine

	mu           sync.Mutex
	protocol     adapter.ProtocolKind
	appState     any
	createdAt    time.Time
	lastActivity time.Time
	conn         adapter.Conn
	overlap      adapter.Conn
	migrating    bool
	inflight     int
	lastFailure  time.Time
	pendingSwap  adapter.ProtocolKind
}

// New creates a session on the given protocol with a fresh state machine.
func New(id string, protocol adapter.ProtocolKind, machine *fsm.Machine) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Machine:      machine,
		protocol:     protocol,
		createdAt:    now,
		lastActivity: now,
	}
}

// Protocol returns the session's current protocol.
func (s *Session) Protocol() adapter.ProtocolKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocol
}

// SetProtocol records the protocol after a committed migration.
func (s *Session) SetProtocol(p adapter.ProtocolKind) {
	s.mu.Lock()
	s.protocol = p
	s.mu.Unlock()
}

// Conn returns the authoritative bound connection, which may be nil.
func (s *Session) Conn() adapter.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Bind makes conn the authoritative connection.
func (s *Session) Bind(conn adapter.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// BindOverlap attaches a secondary connection for the overlap window of an
// overlap-transition migration. The old connection stays authoritative for
// writes until promoted.
func (s *Session) BindOverlap(conn adapter.Conn) {
	s.mu.Lock()
	s.overlap = conn
	s.mu.Unlock()
}

// Overlap returns the secondary connection, if any.
func (s *Session) Overlap() adapter.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlap
}

// PromoteOverlap makes the overlap connection authoritative and returns the
// previous connection for the caller to close.
func (s *Session) PromoteOverlap() adapter.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.conn
	s.conn = s.overlap
	s.overlap = nil
	return old
}

// ClearOverlap detaches the overlap connection without promoting it, for
// rollback, and returns it for the caller to close.
func (s *Session) ClearOverlap() adapter.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.overlap
	s.overlap = nil
	return c
}

// AppState returns the opaque application state owned by the business layer.
func (s *Session) AppState() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appState
}

// SetAppState replaces the application state.
func (s *Session) SetAppState(state any) {
	s.mu.Lock()
	s.appState = state
	s.mu.Unlock()
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the last-activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// BeginMigration marks the session as mid-migration. A second concurrent
// switch on the same session is rejected rather than queued.
func (s *Session) BeginMigration() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrating {
		return errors.ErrMigrationInProgress
	}
	s.migrating = true
	return nil
}

// EndMigration clears the mid-migration mark.
func (s *Session) EndMigration() {
	s.mu.Lock()
	s.migrating = false
	s.mu.Unlock()
}

// Migrating reports whether a migration is in flight.
func (s *Session) Migrating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrating
}

// BeginWork marks one in-flight exchange on the session's connection.
func (s *Session) BeginWork() {
	s.mu.Lock()
	s.inflight++
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// EndWork marks an exchange complete.
func (s *Session) EndWork() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// InFlight returns the number of exchanges currently in flight. The
// graceful-drain migration strategy waits for this to reach zero.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// SetPendingSwitch records the protocol a requested switch targets, read by
// the switch guard before the migration starts.
func (s *Session) SetPendingSwitch(target adapter.ProtocolKind) {
	s.mu.Lock()
	s.pendingSwap = target
	s.mu.Unlock()
}

// PendingSwitch returns the requested switch target, if any.
func (s *Session) PendingSwitch() adapter.ProtocolKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingSwap
}

// RecordFailure stamps the failure time used by the retry backoff guard.
func (s *Session) RecordFailure() {
	s.mu.Lock()
	s.lastFailure = time.Now()
	s.mu.Unlock()
}

// BackoffElapsed reports whether the retry backoff has passed since the last
// recorded failure.
func (s *Session) BackoffElapsed(backoff time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFailure.IsZero() {
		return true
	}
	return time.Since(s.lastFailure) >= backoff
}

// Reset clears connection bindings and failure state for session reuse
// after a Retry transition.
func (s *Session) Reset() {
	s.mu.Lock()
	s.conn = nil
	s.overlap = nil
	s.migrating = false
	s.lastFailure = time.Time{}
	s.pendingSwap = ""
	s.lastActivity = time.Now()
	s.mu.Unlock()
}
