// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgemux/edgemux/pkg/errors"
)

// State is the lifecycle state of one logical session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateSwitching
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSwitching:
		return "switching"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Event drives the session lifecycle.
type Event int

const (
	EventConnect Event = iota
	EventConnected
	EventError
	EventSwitch
	EventSwitched
	EventDisconnect
	EventDisconnected
	EventRetry
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventConnected:
		return "connected"
	case EventError:
		return "error"
	case EventSwitch:
		return "switch"
	case EventSwitched:
		return "switched"
	case EventDisconnect:
		return "disconnect"
	case EventDisconnected:
		return "disconnected"
	case EventRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Guard decides whether a transition may proceed. A non-nil error rejects
// the event and leaves the state unchanged.
type Guard func(ctx context.Context) error

// Action runs as part of a transition. A failing action routes the machine
// to StateError via an internally dispatched EventError.
type Action func(ctx context.Context) error

// Transition is one row of the transition table.
type Transition struct {
	From   State
	Event  Event
	To     State
	Guard  Guard
	Action Action
}

type transitionKey struct {
	from  State
	event Event
}

// Machine enforces the session transition table. All methods are safe for
// concurrent use; events for one machine are strictly ordered by its lock.
type Machine struct {
	mu      sync.Mutex
	state   State
	table   map[transitionKey]Transition
	lastErr error
	logger  *slog.Logger
}

// New creates a machine in StateIdle with the given transition table.
func New(logger *slog.Logger, transitions []Transition) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(map[transitionKey]Transition, len(transitions))
	for _, t := range transitions {
		table[transitionKey{t.From, t.Event}] = t
	}
	return &Machine{
		state:  StateIdle,
		table:  table,
		logger: logger,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the most recent action or transition failure, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Fire dispatches an event. Events not present in the table for the current
// state are rejected with errors.ErrInvalidTransition and the state does not
// change. A guard failure likewise leaves the state unchanged. An action
// failure is caught and re-dispatched as EventError carrying the triggering
// event and cause, so the machine never sticks mid-action.
func (m *Machine) Fire(ctx context.Context, ev Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fire(ctx, ev)
}

// fire dispatches with the lock held so internal error dispatch stays atomic.
func (m *Machine) fire(ctx context.Context, ev Event) (State, error) {
	t, ok := m.table[transitionKey{m.state, ev}]
	if !ok {
		return m.state, fmt.Errorf("%w: event %s in state %s",
			errors.ErrInvalidTransition, ev, m.state)
	}

	if t.Guard != nil {
		if err := t.Guard(ctx); err != nil {
			return m.state, fmt.Errorf("%w: event %s in state %s: %v",
				errors.ErrInvalidTransition, ev, m.state, err)
		}
	}

	if t.Action != nil {
		if err := t.Action(ctx); err != nil {
			m.lastErr = fmt.Errorf("action for event %s failed: %w", ev, err)
			m.logger.Warn("transition action failed",
				slog.String("event", ev.String()),
				slog.String("from", m.state.String()),
				slog.String("error", err.Error()))
			m.failover(ctx, t.To)
			return m.state, m.lastErr
		}
	}

	m.state = t.To
	return m.state, nil
}

// failover routes the machine to StateError after a failed action, running
// the destination state's Error transition when the table defines one.
func (m *Machine) failover(ctx context.Context, reached State) {
	m.state = reached
	if t, ok := m.table[transitionKey{m.state, EventError}]; ok {
		if t.Action != nil {
			if err := t.Action(ctx); err != nil {
				m.logger.Warn("error-transition action failed",
					slog.String("from", m.state.String()),
					slog.String("error", err.Error()))
			}
		}
		m.state = t.To
		return
	}
	m.state = StateError
}
