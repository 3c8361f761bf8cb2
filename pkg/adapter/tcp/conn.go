// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgemux/edgemux/pkg/errors"
)

// MaxFrameSize bounds a single length-prefixed frame. Frames above this
// size indicate a corrupt or hostile peer and close the connection.
const MaxFrameSize = 16 << 20

// Conn is a message-oriented connection over a TCP stream. Each payload is
// framed with a 4-byte big-endian length prefix so that message boundaries
// survive the byte stream.
type Conn struct {
	raw    net.Conn
	closed atomic.Bool
	broken atomic.Bool
	done   atomic.Bool

	// release returns the underlying connection to its pool instead of
	// closing the socket. Nil for server-side connections.
	release func() error

	// discard drops the underlying connection from its pool after a fatal
	// transport error, closing the socket. Nil for server-side connections.
	discard func() error

	readMu  sync.Mutex
	writeMu sync.Mutex
	lenBuf  [4]byte
}

// NewConn wraps a raw TCP connection with length-prefix framing.
func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw}
}

// fatal marks the connection unusable after a transport error. Close will
// drop it instead of returning it to a pool.
func (c *Conn) fatal() {
	c.closed.Store(true)
	c.broken.Store(true)
}

// Send writes one framed payload. The context deadline, when set, bounds
// the write.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return errors.Wrap(errors.ErrConnectionClosed, "tcp send")
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", errors.ErrSendFailed, len(payload))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.raw.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrSendFailed, err)
		}
		defer c.raw.SetWriteDeadline(time.Time{})
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := c.raw.Write(prefix[:]); err != nil {
		c.fatal()
		return fmt.Errorf("%w: %v", errors.ErrSendFailed, err)
	}
	if _, err := c.raw.Write(payload); err != nil {
		c.fatal()
		return fmt.Errorf("%w: %v", errors.ErrSendFailed, err)
	}
	return nil
}

// Receive reads one framed payload. The context deadline, when set, bounds
// the read; a deadline hit is reported as a receive timeout.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, errors.Wrap(errors.ErrConnectionClosed, "tcp receive")
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.raw.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrReceiveTimeout, err)
		}
		defer c.raw.SetReadDeadline(time.Time{})
	}

	if _, err := io.ReadFull(c.raw, c.lenBuf[:]); err != nil {
		return nil, c.readErr(err)
	}
	size := binary.BigEndian.Uint32(c.lenBuf[:])
	if size > MaxFrameSize {
		c.fatal()
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", errors.ErrReceiveTimeout, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.raw, payload); err != nil {
		return nil, c.readErr(err)
	}
	return payload, nil
}

func (c *Conn) readErr(err error) error {
	var nerr net.Error
	if stderrors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", errors.ErrReceiveTimeout, err)
	}
	c.fatal()
	if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err)
}

// Close releases the connection exactly once, whether or not an earlier
// transport error already marked it unusable. Healthy pool-backed
// connections return to their pool; error-tainted ones are dropped from it
// so the pool slot and socket are freed. Server-side connections close the
// socket.
func (c *Conn) Close() error {
	c.closed.Store(true)
	if !c.done.CompareAndSwap(false, true) {
		return nil
	}
	if c.broken.Load() {
		if c.discard != nil {
			return c.discard()
		}
		return c.raw.Close()
	}
	if c.release != nil {
		return c.release()
	}
	return c.raw.Close()
}

// Connected reports whether the connection is still usable.
func (c *Conn) Connected() bool {
	return !c.closed.Load()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}
