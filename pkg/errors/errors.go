// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for edgemux.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrTransportUnavailable indicates the target endpoint is unreachable.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrSendFailed indicates the underlying transport rejected a send or timed out.
	ErrSendFailed = errors.New("send failed")

	// ErrReceiveTimeout indicates a receive deadline elapsed before data arrived.
	ErrReceiveTimeout = errors.New("receive timeout")

	// ErrInvalidTransition indicates an event not permitted in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrMigrationFailed indicates a protocol migration could not complete.
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationInProgress indicates the session is already mid-migration.
	ErrMigrationInProgress = errors.New("migration in progress")

	// ErrNoHealthyEndpoint indicates no healthy endpoint exists for the protocol.
	ErrNoHealthyEndpoint = errors.New("no healthy endpoint")

	// ErrHandlerFailed indicates the business handler rejected or failed a message.
	ErrHandlerFailed = errors.New("handler failed")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRateLimited indicates rate limit exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrSessionNotFound indicates the session is unknown to the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnsupportedProtocol indicates the protocol is not in the fixed set.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// GatewayError wraps an error with additional context.
type GatewayError struct {
	Op         string // Operation that failed
	Protocol   string // Protocol (http, http2, websocket, tcp, udp)
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.Protocol, e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Protocol, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// New creates a new GatewayError.
func New(op, protocol, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{
		Op:         op,
		Protocol:   protocol,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
