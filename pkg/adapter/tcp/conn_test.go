// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"bytes"
	"context"
	"encoding/binary"
	stderrors "errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/edgemux/edgemux/pkg/errors"
)

func TestConn_FrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	a := NewConn(client)
	b := NewConn(server)
	defer a.Close()
	defer b.Close()

	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xAB}, 70000), // larger than one read buffer
	}

	done := make(chan error, 1)
	go func() {
		for _, want := range payloads {
			got, err := b.Receive(context.Background())
			if err != nil {
				done <- err
				return
			}
			if !bytes.Equal(got, want) {
				done <- io.ErrUnexpectedEOF
				return
			}
		}
		done <- nil
	}()

	for _, p := range payloads {
		if err := a.Send(context.Background(), p); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Receive side: %v", err)
	}
}

func TestConn_ReceiveTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	c := NewConn(server)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Receive(ctx)
	if !stderrors.Is(err, errors.ErrReceiveTimeout) {
		t.Fatalf("Receive = %v, want ErrReceiveTimeout", err)
	}
	if !c.Connected() {
		t.Fatal("a timed-out receive must not close the connection")
	}
}

func TestConn_OversizeFrameRejected(t *testing.T) {
	client, server := net.Pipe()
	c := NewConn(server)
	defer c.Close()

	go func() {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)
		client.Write(prefix[:])
	}()

	if _, err := c.Receive(context.Background()); err == nil {
		t.Fatal("oversize frame must be rejected")
	}
	if c.Connected() {
		t.Fatal("oversize frame must close the connection")
	}
}

func TestConn_OversizeSendRejected(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := NewConn(client)
	defer c.Close()

	err := c.Send(context.Background(), make([]byte, MaxFrameSize+1))
	if !stderrors.Is(err, errors.ErrSendFailed) {
		t.Fatalf("Send = %v, want ErrSendFailed", err)
	}
}

func TestConn_PeerCloseYieldsEOF(t *testing.T) {
	client, server := net.Pipe()
	c := NewConn(server)
	defer c.Close()

	client.Close()

	if _, err := c.Receive(context.Background()); err != io.EOF {
		t.Fatalf("Receive after peer close = %v, want io.EOF", err)
	}
	if c.Connected() {
		t.Fatal("EOF must mark the connection closed")
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := NewConn(client)
	c.Close()

	if err := c.Send(context.Background(), []byte("x")); !stderrors.Is(err, errors.ErrConnectionClosed) {
		t.Fatalf("Send after Close = %v, want ErrConnectionClosed", err)
	}
	// Close is idempotent.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
