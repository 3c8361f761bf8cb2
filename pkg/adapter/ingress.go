// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import "context"

// Ingress is the listener-facing side of the gateway. Protocol listeners
// accept transport connections, deframe payloads, and push them through
// this interface; the gateway owns sessions, routing, and dispatch.
type Ingress interface {
	// OpenSession registers a new logical session for an accepted
	// connection and returns its ID. An error rejects the connection.
	OpenSession(ctx context.Context, kind ProtocolKind, remoteAddr string) (string, error)

	// HandleMessage processes one inbound payload and returns the response
	// payload to write back, which may be nil.
	HandleMessage(ctx context.Context, msg *Message) ([]byte, error)

	// CloseSession tears down the session when its connection goes away.
	CloseSession(ctx context.Context, sessionID string)
}
