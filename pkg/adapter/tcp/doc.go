// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

/*
Package tcp provides the TCP protocol adapter and listener.

Payloads travel as length-prefixed frames so message boundaries survive the
byte stream:

	+----------------+------------------------+
	| length (4B BE) | payload (length bytes) |
	+----------------+------------------------+

# Listener

Server accepts client connections, opens one gateway session per
connection, and runs a frame loop:

	client ──frame──▶ Server ──Message──▶ Ingress ──▶ router/handler
	client ◀─frame─── Server ◀─payload───┘

Shutdown closes the listener first, then waits up to ShutdownTimeout for
in-flight connections to drain before forcing closure, mirroring the rest
of the listeners in this module.

# Adapter

Adapter dials backend endpoints with the same framing. Sockets are checked
out of a per-endpoint pool (see pkg/pool); Close on a connection returns
the socket to its pool rather than closing it, so repeated dispatches to
the same endpoint reuse warm connections.

Frames above MaxFrameSize are rejected and the connection is closed, on
both the client and backend side.
*/
package tcp
