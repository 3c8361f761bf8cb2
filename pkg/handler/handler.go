// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/session"
)

// Identity is the already-authenticated caller identity. Authentication is
// external to the gateway; the identity arrives via the request context.
type Identity struct {
	// Subject is the authenticated principal.
	Subject string

	// Attributes carries additional identity claims.
	Attributes map[string]string
}

type identityKey struct{}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext extracts the identity, if present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Handler is the business-logic boundary. The gateway decodes transport
// frames into Messages, hands them to the handler, and writes the returned
// payload back on the session's connection. Handler errors are not
// interpreted beyond being mapped to a generic handler failure that is
// logged and returned to the client.
type Handler interface {
	// Handle processes one decoded message for a session and returns the
	// response payload.
	Handle(ctx context.Context, msg *adapter.Message, sess *session.Session) ([]byte, error)

	// OnConnect is called after a session's connection is established.
	// A non-nil error rejects the session and closes it.
	OnConnect(ctx context.Context, sess *session.Session) error

	// OnDisconnect is called when a session's connection goes away,
	// gracefully or not. Errors are logged.
	OnDisconnect(ctx context.Context, sess *session.Session) error
}

// NoopHandler accepts every message and echoes nothing back.
// Useful for testing or for pure transport-level deployments.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (NoopHandler) Handle(ctx context.Context, msg *adapter.Message, sess *session.Session) ([]byte, error) {
	return nil, nil
}

func (NoopHandler) OnConnect(ctx context.Context, sess *session.Session) error {
	return nil
}

func (NoopHandler) OnDisconnect(ctx context.Context, sess *session.Session) error {
	return nil
}

// EchoHandler returns each payload unchanged. Used by transport tests.
type EchoHandler struct{}

var _ Handler = (*EchoHandler)(nil)

func (EchoHandler) Handle(ctx context.Context, msg *adapter.Message, sess *session.Session) ([]byte, error) {
	return msg.Payload, nil
}

func (EchoHandler) OnConnect(ctx context.Context, sess *session.Session) error {
	return nil
}

func (EchoHandler) OnDisconnect(ctx context.Context, sess *session.Session) error {
	return nil
}
