// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

/*
Package udp provides the UDP protocol adapter and listener.

UDP has no connections, so the listener synthesizes sessions from remote
addresses: the first datagram from an address opens a gateway session, and
later datagrams from the same address reuse it until the client goes idle
for ClientTimeout.

	              ┌──────────────────────────────────────┐
	datagram ───▶ │ read loop ─▶ buffer pool ─▶ job chan │
	              └───────────────────┬──────────────────┘
	                       worker pool│(N goroutines)
	                                  ▼
	                      addr → session table ─▶ Ingress

The read loop never blocks on processing: datagrams are queued to a
bounded channel served by a worker pool, and are dropped with a warning
when the pool is saturated. Read buffers come from a sync.Pool.

Adapter opens connected UDP sockets to backend endpoints. Connect only
validates resolution and socket creation; UDP gives no handshake, so
delivery failures surface on Send and Receive.
*/
package udp
