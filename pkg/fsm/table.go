// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package fsm

// Hooks supplies the guard and action behavior bound to each row of the
// session transition table. Unset fields mean "no guard" / "no action".
type Hooks struct {
	// OpenConnection opens the adapter connection (Idle + Connect).
	OpenConnection Action

	// BindSession binds the session to the connection (Connecting + Connected).
	BindSession Action

	// RecordFailure records a connect failure (Connecting + Error).
	RecordFailure Action

	// CanSwitch verifies the target protocol is supported and differs from
	// the current one (Connected + Switch guard).
	CanSwitch Guard

	// BeginMigration starts the migration plan (Connected + Switch).
	BeginMigration Action

	// CommitMigration commits the new binding and discards the plan
	// (Switching + Switched).
	CommitMigration Action

	// RollbackMigration restores the previous binding when possible
	// (Switching + Error).
	RollbackMigration Action

	// BeginTeardown starts graceful teardown (Connected + Disconnect).
	BeginTeardown Action

	// ReleaseResources frees the session's resources (Disconnecting +
	// Disconnected).
	ReleaseResources Action

	// BackoffElapsed verifies the retry backoff has passed (Error + Retry
	// guard).
	BackoffElapsed Guard

	// ResetSession resets the session for reuse (Error + Retry).
	ResetSession Action
}

// Table returns the fixed session transition table bound to the given hooks:
//
//	Idle          + Connect      → Connecting
//	Connecting    + Connected    → Connected
//	Connecting    + Error        → Error
//	Connected     + Switch       → Switching     (guarded)
//	Switching     + Switched     → Connected
//	Switching     + Error        → Error
//	Connected     + Disconnect   → Disconnecting
//	Disconnecting + Disconnected → Idle
//	Error         + Retry        → Idle          (guarded)
//
// Any other (state, event) pair is rejected without a state change.
func Table(h Hooks) []Transition {
	return []Transition{
		{From: StateIdle, Event: EventConnect, To: StateConnecting, Action: h.OpenConnection},
		{From: StateConnecting, Event: EventConnected, To: StateConnected, Action: h.BindSession},
		{From: StateConnecting, Event: EventError, To: StateError, Action: h.RecordFailure},
		{From: StateConnected, Event: EventSwitch, To: StateSwitching, Guard: h.CanSwitch, Action: h.BeginMigration},
		{From: StateSwitching, Event: EventSwitched, To: StateConnected, Action: h.CommitMigration},
		{From: StateSwitching, Event: EventError, To: StateError, Action: h.RollbackMigration},
		{From: StateConnected, Event: EventDisconnect, To: StateDisconnecting, Action: h.BeginTeardown},
		{From: StateDisconnecting, Event: EventDisconnected, To: StateIdle, Action: h.ReleaseResources},
		{From: StateError, Event: EventRetry, To: StateIdle, Guard: h.BackoffElapsed, Action: h.ResetSession},
	}
}
