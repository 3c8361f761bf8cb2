// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/edgemux/edgemux/pkg/errors"
)

// MaxDatagramSize is the maximum size of a UDP datagram.
const MaxDatagramSize = 65535

// Conn is a connected UDP socket to one backend endpoint. Each Send is one
// datagram and each Receive returns one datagram, so no extra framing is
// needed.
type Conn struct {
	raw    *net.UDPConn
	closed atomic.Bool
}

// Send writes one datagram. The context deadline, when set, bounds the write.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return errors.Wrap(errors.ErrConnectionClosed, "udp send")
	}
	if len(payload) > MaxDatagramSize {
		return fmt.Errorf("%w: datagram of %d bytes exceeds limit", errors.ErrSendFailed, len(payload))
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.raw.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrSendFailed, err)
		}
		defer c.raw.SetWriteDeadline(time.Time{})
	}

	if _, err := c.raw.Write(payload); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrSendFailed, err)
	}
	return nil
}

// Receive reads one datagram. The context deadline, when set, bounds the read.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, errors.Wrap(errors.ErrConnectionClosed, "udp receive")
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.raw.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrReceiveTimeout, err)
		}
		defer c.raw.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, MaxDatagramSize)
	n, err := c.raw.Read(buf)
	if err != nil {
		var nerr net.Error
		if stderrors.As(err, &nerr) && nerr.Timeout() {
			return nil, fmt.Errorf("%w: %v", errors.ErrReceiveTimeout, err)
		}
		c.closed.Store(true)
		return nil, fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err)
	}
	return buf[:n], nil
}

// Close closes the socket.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.raw.Close()
}

// Connected reports whether the socket is still open. UDP gives no liveness
// signal, so this only reflects local state.
func (c *Conn) Connected() bool {
	return !c.closed.Load()
}

// RemoteAddr returns the backend address.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}
