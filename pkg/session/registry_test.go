// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
	"github.com/edgemux/edgemux/pkg/fsm"
)

type fakeConn struct {
	remote string
	closed atomic.Bool
}

func (c *fakeConn) Send(context.Context, []byte) error { return nil }

func (c *fakeConn) Receive(context.Context) ([]byte, error) { return nil, nil }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) Connected() bool { return !c.closed.Load() }

func (c *fakeConn) RemoteAddr() string { return c.remote }

func TestRegistry_CreateGetRemove(t *testing.T) {
	r := NewRegistry(nil, 0)

	sess, err := r.Create(adapter.TCP, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Create must assign an ID")
	}
	if sess.Protocol() != adapter.TCP {
		t.Fatalf("Protocol = %s, want tcp", sess.Protocol())
	}

	got, err := r.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != sess {
		t.Fatal("Get must return the created session")
	}

	r.Remove(sess.ID)
	if _, err := r.Get(sess.ID); err != errors.ErrSessionNotFound {
		t.Fatalf("Get after Remove = %v, want ErrSessionNotFound", err)
	}
	if r.Count() != 0 {
		t.Fatalf("Count = %d, want 0", r.Count())
	}
}

func TestRegistry_MaxSessions(t *testing.T) {
	r := NewRegistry(nil, 2)

	for i := 0; i < 2; i++ {
		if _, err := r.Create(adapter.HTTP, nil); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if _, err := r.Create(adapter.HTTP, nil); err == nil {
		t.Fatal("Create beyond limit must fail")
	}
	if r.Count() != 2 {
		t.Fatalf("Count = %d, want 2", r.Count())
	}
}

func TestRegistry_MachineFactoryReceivesSession(t *testing.T) {
	r := NewRegistry(nil, 0)

	var seen *Session
	sess, err := r.Create(adapter.WebSocket, func(s *Session) *fsm.Machine {
		seen = s
		return fsm.New(nil, fsm.Table(fsm.Hooks{}))
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if seen != sess {
		t.Fatal("factory must receive the session being created")
	}
}

func TestRegistry_ExpireIdleSkipsMigrating(t *testing.T) {
	r := NewRegistry(nil, 0)

	idle, _ := r.Create(adapter.TCP, nil)
	busy, _ := r.Create(adapter.TCP, nil)
	moving, _ := r.Create(adapter.TCP, nil)
	if err := moving.BeginMigration(); err != nil {
		t.Fatalf("BeginMigration: %v", err)
	}

	// Age the idle and migrating sessions past the timeout.
	past := time.Now().Add(-time.Minute)
	idle.mu.Lock()
	idle.lastActivity = past
	idle.mu.Unlock()
	moving.mu.Lock()
	moving.lastActivity = past
	moving.mu.Unlock()

	var expired []string
	r.expireIdle(time.Second, func(s *Session) {
		expired = append(expired, s.ID)
	})

	if len(expired) != 1 || expired[0] != idle.ID {
		t.Fatalf("expired = %v, want just %s", expired, idle.ID)
	}
	if _, err := r.Get(busy.ID); err != nil {
		t.Fatal("active session must survive expiry")
	}
	if _, err := r.Get(moving.ID); err != nil {
		t.Fatal("migrating session must survive expiry")
	}
}

func TestRegistry_DrainAllWaits(t *testing.T) {
	r := NewRegistry(nil, 0)
	sess, _ := r.Create(adapter.TCP, nil)

	go func() {
		time.Sleep(150 * time.Millisecond)
		r.Remove(sess.ID)
	}()

	if err := r.DrainAll(2*time.Second, nil); err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
}

func TestRegistry_DrainAllForcesOnTimeout(t *testing.T) {
	r := NewRegistry(nil, 0)
	r.Create(adapter.TCP, nil)
	r.Create(adapter.UDP, nil)

	var forced int
	err := r.DrainAll(200*time.Millisecond, func(*Session) { forced++ })
	if err != ErrDrainTimeout {
		t.Fatalf("DrainAll = %v, want ErrDrainTimeout", err)
	}
	if forced != 2 {
		t.Fatalf("forced closures = %d, want 2", forced)
	}
	if r.Count() != 0 {
		t.Fatalf("Count = %d, want 0 after forced drain", r.Count())
	}
}
