// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package fsm implements the gateway state machine governing the lifecycle
// of a logical session across protocol transitions.
//
// # Overview
//
// The protocol lifecycle is a data structure (a fixed transition table)
// rather than callback logic scattered across connection handlers. Each
// session owns one Machine; events are dispatched into it and either move
// the session along a legal edge or are rejected without a state change.
//
// # States
//
//	          Connect            Connected
//	 Idle ───────────→ Connecting ───────→ Connected ⇄ Switching
//	  ↑                    │                  │            │
//	  │ Retry (backoff)    │ Error            │ Disconnect │ Error
//	  │                    ↓                  ↓            ↓
//	 Error ←──────────── Error         Disconnecting     Error
//	  ↑                                       │
//	  └───────────────────────────────────────┘ Disconnected → Idle
//
// # Guarantees
//
//   - Events not in the table for the current state return
//     errors.ErrInvalidTransition and leave the state untouched.
//   - Guard failures reject the event the same way.
//   - Action failures are caught and re-dispatched as EventError with the
//     triggering event and cause attached; the machine ends in StateError
//     (or wherever the destination state's Error row leads), never stuck
//     mid-action.
//   - Events for one machine are strictly ordered by its internal lock;
//     machines for different sessions proceed fully in parallel.
package fsm
