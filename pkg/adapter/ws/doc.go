// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

/*
Package ws provides the WebSocket protocol adapter and listener, built on
gorilla/websocket.

The listener upgrades HTTP requests on a configurable path, opens one
gateway session per connection, and runs a message loop:

	client ──binary msg──▶ Server ──Message──▶ Ingress
	client ◀─binary msg─── Server ◀─payload───┘

Payloads map one-to-one onto websocket messages, so no additional framing
is applied. The adapter dials backend endpoints with the upgrade
handshake (ws or wss, per TLSConfig) and exposes the same connection
contract as the other transports.
*/
package ws
