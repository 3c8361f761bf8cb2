// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

/*
Package gateway wires the protocol listeners, router, session registry,
migrator, and load balancer into one service.

	          ┌────────────────────────── Gateway ──────────────────────────┐
	HTTP  ──▶ │                                                             │
	HTTP2 ──▶ │ listeners ─▶ Ingress ─▶ router ─▶ session ─▶ handler/relay  │ ──▶ backends
	WS    ──▶ │                           │          │                      │
	TCP   ──▶ │                           │        fsm + migrator           │
	UDP   ──▶ │                     routing rules     │                     │
	          │                                  load balancer ◀─ health    │
	          └─────────────────────────────────────────────────────────────┘

Listeners accept transport connections and feed normalized messages
through the adapter.Ingress interface, which Gateway implements. Each
accepted connection gets a session whose lifecycle is governed by the
fixed transition table in pkg/fsm.

Per message the router picks a target protocol; when it differs from the
session's current protocol the session is migrated live (pkg/migrate)
before dispatch. The business handler produces the response; a nil
handler response on a session with a bound backend connection relays the
payload to the backend instead.

Backend connections are leased through the load balancer (pkg/balance).
Protocols with no registered endpoints run handler-only: sessions carry
no backend connection and a routed switch to such a protocol fails.

Shutdown stops listeners first, then drains sessions, bounded by
ShutdownTimeout.
*/
package gateway
