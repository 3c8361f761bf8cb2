// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/edgemux/edgemux/pkg/errors"
)

// responseQueueSize bounds buffered responses awaiting Receive.
const responseQueueSize = 16

// Conn maps the message-oriented connection contract onto HTTP
// request/response exchanges. Send issues a POST to the backend and queues
// the response body; Receive drains the queue. This keeps the
// request-driven transport interchangeable with the stream transports.
type Conn struct {
	client *http.Client
	url    string
	remote string

	pending chan []byte
	closed  atomic.Bool
}

func newConn(client *http.Client, url, remote string) *Conn {
	return &Conn{
		client:  client,
		url:     url,
		remote:  remote,
		pending: make(chan []byte, responseQueueSize),
	}
}

// Send posts the payload to the backend. The response body is queued for a
// later Receive; a full queue drops the oldest response.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return errors.Wrap(errors.ErrConnectionClosed, "http send")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: backend returned %s", errors.ErrSendFailed, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", errors.ErrSendFailed, err)
	}

	select {
	case c.pending <- body:
	default:
		select {
		case <-c.pending:
		default:
		}
		c.pending <- body
	}
	return nil
}

// Receive returns the next queued response body, blocking until one is
// available or the context ends.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, errors.Wrap(errors.ErrConnectionClosed, "http receive")
	}

	select {
	case body := <-c.pending:
		return body, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", errors.ErrReceiveTimeout, ctx.Err())
	}
}

// Close marks the connection closed. The underlying http.Client is shared
// across connections, so its transport and idle sockets stay up.
func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

// Connected reports whether the connection is still usable.
func (c *Conn) Connected() bool {
	return !c.closed.Load()
}

// RemoteAddr returns the backend address.
func (c *Conn) RemoteAddr() string {
	return c.remote
}
