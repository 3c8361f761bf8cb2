// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package handler defines the business-logic boundary of the gateway.
//
// # Overview
//
// The gateway is transport plumbing: listeners accept connections, adapters
// deframe payloads into Messages, and every Message crosses exactly one
// interface into application code, Handler.Handle. The response payload
// travels back the same way. The gateway never interprets handler errors
// beyond mapping them to a generic handler failure.
//
// # Flow
//
//	┌──────────┐   Message    ┌──────────┐   payload   ┌──────────┐
//	│ Listener │ ───────────→ │ Handler  │ ──────────→ │   Conn   │
//	└──────────┘              └──────────┘             └──────────┘
//
// # Identity
//
// Authentication happens outside the gateway. The authenticated identity is
// attached to the request context with WithIdentity and read by handlers
// with IdentityFromContext.
//
// # Lifecycle hooks
//
// OnConnect and OnDisconnect bracket the session. An OnConnect error
// rejects the session before it accepts traffic; OnDisconnect errors are
// logged and the close proceeds.
package handler
