// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package fsm

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/edgemux/edgemux/pkg/errors"
)

func newTestMachine(h Hooks) *Machine {
	return New(nil, Table(h))
}

func TestMachine_HappyPath(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(Hooks{})

	steps := []struct {
		event Event
		want  State
	}{
		{EventConnect, StateConnecting},
		{EventConnected, StateConnected},
		{EventSwitch, StateSwitching},
		{EventSwitched, StateConnected},
		{EventDisconnect, StateDisconnecting},
		{EventDisconnected, StateIdle},
	}

	for _, step := range steps {
		got, err := m.Fire(ctx, step.event)
		if err != nil {
			t.Fatalf("Fire(%s) error: %v", step.event, err)
		}
		if got != step.want {
			t.Fatalf("Fire(%s) = %s, want %s", step.event, got, step.want)
		}
	}
}

func TestMachine_InvalidPairsRejected(t *testing.T) {
	ctx := context.Background()

	// Every (state, event) pair not in the table must be rejected with the
	// state unchanged.
	allStates := []State{StateIdle, StateConnecting, StateConnected, StateSwitching, StateDisconnecting, StateError}
	allEvents := []Event{EventConnect, EventConnected, EventError, EventSwitch, EventSwitched, EventDisconnect, EventDisconnected, EventRetry}

	legal := map[string]bool{}
	for _, tr := range Table(Hooks{}) {
		legal[fmt.Sprintf("%s/%s", tr.From, tr.Event)] = true
	}

	for _, from := range allStates {
		for _, ev := range allEvents {
			if legal[fmt.Sprintf("%s/%s", from, ev)] {
				continue
			}

			m := newTestMachine(Hooks{})
			m.state = from

			got, err := m.Fire(ctx, ev)
			if !stderrors.Is(err, errors.ErrInvalidTransition) {
				t.Errorf("Fire(%s) in %s: error = %v, want ErrInvalidTransition", ev, from, err)
			}
			if got != from {
				t.Errorf("Fire(%s) in %s moved state to %s", ev, from, got)
			}
		}
	}
}

func TestMachine_GuardFailureLeavesState(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(Hooks{
		CanSwitch: func(ctx context.Context) error {
			return fmt.Errorf("target not supported")
		},
	})
	m.state = StateConnected

	got, err := m.Fire(ctx, EventSwitch)
	if !stderrors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
	if got != StateConnected {
		t.Fatalf("state = %s, want Connected", got)
	}
}

func TestMachine_ActionFailureRoutesToError(t *testing.T) {
	ctx := context.Background()

	var failureRecorded bool
	m := newTestMachine(Hooks{
		OpenConnection: func(ctx context.Context) error {
			return fmt.Errorf("dial refused")
		},
		RecordFailure: func(ctx context.Context) error {
			failureRecorded = true
			return nil
		},
	})

	_, err := m.Fire(ctx, EventConnect)
	if err == nil {
		t.Fatal("expected error from failing action")
	}
	if m.State() != StateError {
		t.Fatalf("state = %s, want Error", m.State())
	}
	if !failureRecorded {
		t.Error("destination state's error action was not run")
	}
	if m.Err() == nil {
		t.Error("machine did not record the action error")
	}
}

func TestMachine_SwitchingActionFailureRollsBack(t *testing.T) {
	ctx := context.Background()

	var rolledBack bool
	m := newTestMachine(Hooks{
		CommitMigration: func(ctx context.Context) error {
			return fmt.Errorf("commit failed")
		},
		RollbackMigration: func(ctx context.Context) error {
			rolledBack = true
			return nil
		},
	})
	m.state = StateSwitching

	if _, err := m.Fire(ctx, EventSwitched); err == nil {
		t.Fatal("expected error from failing commit")
	}
	if m.State() != StateError {
		t.Fatalf("state = %s, want Error", m.State())
	}
	if !rolledBack {
		t.Error("rollback action was not run")
	}
}

func TestMachine_RetryGuard(t *testing.T) {
	ctx := context.Background()

	blocked := true
	m := newTestMachine(Hooks{
		BackoffElapsed: func(ctx context.Context) error {
			if blocked {
				return fmt.Errorf("backoff not elapsed")
			}
			return nil
		},
	})
	m.state = StateError

	if _, err := m.Fire(ctx, EventRetry); !stderrors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition while backoff holds", err)
	}
	if m.State() != StateError {
		t.Fatalf("state = %s, want Error", m.State())
	}

	blocked = false
	got, err := m.Fire(ctx, EventRetry)
	if err != nil {
		t.Fatalf("Fire(Retry) error: %v", err)
	}
	if got != StateIdle {
		t.Fatalf("state = %s, want Idle", got)
	}
}
