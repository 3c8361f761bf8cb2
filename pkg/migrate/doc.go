// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package migrate moves live sessions from one protocol adapter to another
// without dropping application state.
//
// # Strategies
//
// Four interchangeable strategies with different availability/consistency
// trade-offs, all reporting the same Result shape:
//
//	Strategy            Dropped      Latency      Notes
//	graceful_drain      zero*        highest      waits for in-flight work
//	immediate_switch    in-flight    near-zero    callers must retry
//	overlap_transition  near-zero    fixed window both connections live
//	state_preserving    zero         state-sized  serialize/restore state
//
//	* unless the drain timeout cuts remaining work
//
// # Failure semantics
//
// Opening the new-protocol connection happens before anything touches the
// old binding. If it fails, the migration aborts, the old connection
// remains authoritative, and the caller dispatches an Error event carrying
// the strategy and reason into the session's state machine.
//
// # Overlap window
//
// During an overlap transition the session is intentionally bound to two
// connections. The old connection stays authoritative for writes until it
// closes; the new connection only takes over when the window ends.
package migrate
