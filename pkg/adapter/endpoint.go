// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"net"
	"strconv"
	"time"
)

// Endpoint represents one backend target a dispatch can be routed to.
//
// Healthy is written only by the health checker and CurrentLoad only by the
// load balancer; both are guarded by the endpoint registry's mutex. The
// remaining fields are set at registration time and never change.
type Endpoint struct {
	// Protocol the backend speaks.
	Protocol ProtocolKind

	// Address is the backend host or IP.
	Address string

	// Port is the backend port.
	Port int

	// Weight for weighted selection. Must be positive.
	Weight int

	// Healthy is maintained by the health checker.
	Healthy bool

	// CurrentLoad is the number of in-flight dispatches. Never negative.
	CurrentLoad int

	// MaxLoad caps concurrent dispatches for least-connections selection.
	// Zero means unlimited.
	MaxLoad int
}

// Addr returns the endpoint as a dialable host:port string.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Message is the normalized form of one inbound transport event. Adapters
// produce Messages; the router and business handler consume them.
type Message struct {
	// SessionID identifies the logical session this message belongs to.
	SessionID string

	// Protocol is the transport the message arrived on.
	Protocol ProtocolKind

	// Payload is the raw application payload after deframing.
	Payload []byte

	// Headers carries transport metadata (HTTP headers, WS subprotocol,
	// remote address). May be nil.
	Headers map[string]string

	// ReceivedAt is the arrival time.
	ReceivedAt time.Time
}

// Header returns the named header or the empty string.
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}
