// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgemux/edgemux/pkg/errors"
)

// Conn adapts a gorilla websocket connection to the message-oriented
// connection contract. Payloads travel as binary websocket messages, so
// framing comes for free.
type Conn struct {
	ws     *websocket.Conn
	closed atomic.Bool

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewConn wraps an established websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes one binary message. The context deadline, when set, bounds
// the write.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return errors.Wrap(errors.ErrConnectionClosed, "ws send")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.ws.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrSendFailed, err)
		}
		defer c.ws.SetWriteDeadline(time.Time{})
	}

	if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		c.closed.Store(true)
		return fmt.Errorf("%w: %v", errors.ErrSendFailed, err)
	}
	return nil
}

// Receive reads one message. Control frames are handled by gorilla; text
// and binary payloads are returned as-is.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, errors.Wrap(errors.ErrConnectionClosed, "ws receive")
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.ws.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrReceiveTimeout, err)
		}
		defer c.ws.SetReadDeadline(time.Time{})
	}

	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		var nerr net.Error
		if stderrors.As(err, &nerr) && nerr.Timeout() {
			return nil, fmt.Errorf("%w: %v", errors.ErrReceiveTimeout, err)
		}
		c.closed.Store(true)
		return nil, fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err)
	}
	return payload, nil
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

// Connected reports whether the connection is still usable.
func (c *Conn) Connected() bool {
	return !c.closed.Load()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
