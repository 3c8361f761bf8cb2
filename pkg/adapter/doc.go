// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter defines the protocol-agnostic transport abstraction for
// edgemux.
//
// # Overview
//
// Every protocol the gateway speaks (HTTP/1.1, HTTP/2, WebSocket, raw TCP,
// raw UDP) is implemented once as an Adapter. The rest of the gateway only
// ever sees the five-operation Adapter contract and the Conn interface, so
// the router, state machine, and migrator are identical for all protocols.
//
// # Architecture
//
//	┌──────────┐        ┌──────────┐        ┌──────────┐
//	│ Gateway  │ ─────→ │ Adapter  │ ─────→ │ Backend  │
//	└──────────┘        └──────────┘        └──────────┘
//	                         ↓
//	                    ┌──────────┐
//	                    │   Conn   │  (framed transport)
//	                    └──────────┘
//
// # Contract
//
//   - Connect: establish a transport connection to an Endpoint. For UDP this
//     validates reachability only.
//   - Send / Receive: one complete payload per call. Framing differences
//     (length prefixes, WebSocket frames, HTTP bodies) are hidden here.
//   - Disconnect: idempotent, never fails observably, logs on error.
//   - IsConnected: pure query.
//
// Every blocking operation takes a context; on deadline expiry it returns a
// timeout error and releases any partially-acquired resource.
//
// # Selection
//
// Concrete adapters are registered with a Factory at construction time:
//
//	factory, err := adapter.NewFactory(
//		tcp.NewAdapter(tcpCfg),
//		udp.NewAdapter(udpCfg),
//		ws.NewAdapter(wsCfg),
//		httpx.NewAdapter(httpCfg),
//		httpx.NewH2Adapter(httpCfg),
//	)
//
// The factory is the only place a protocol name maps to an implementation.
package adapter
