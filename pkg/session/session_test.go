// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/errors"
)

func TestSession_InFlightTracking(t *testing.T) {
	s := New("s1", adapter.TCP, nil)

	if got := s.InFlight(); got != 0 {
		t.Fatalf("InFlight = %d, want 0", got)
	}

	s.BeginWork()
	s.BeginWork()
	if got := s.InFlight(); got != 2 {
		t.Fatalf("InFlight = %d, want 2", got)
	}

	s.EndWork()
	s.EndWork()
	s.EndWork() // extra EndWork must not go negative
	if got := s.InFlight(); got != 0 {
		t.Fatalf("InFlight = %d, want 0", got)
	}
}

func TestSession_MigrationGuard(t *testing.T) {
	s := New("s1", adapter.HTTP, nil)

	if err := s.BeginMigration(); err != nil {
		t.Fatalf("BeginMigration: %v", err)
	}
	if !s.Migrating() {
		t.Fatal("Migrating = false after BeginMigration")
	}
	if err := s.BeginMigration(); err != errors.ErrMigrationInProgress {
		t.Fatalf("second BeginMigration = %v, want ErrMigrationInProgress", err)
	}

	s.EndMigration()
	if s.Migrating() {
		t.Fatal("Migrating = true after EndMigration")
	}
	if err := s.BeginMigration(); err != nil {
		t.Fatalf("BeginMigration after EndMigration: %v", err)
	}
}

func TestSession_OverlapPromotion(t *testing.T) {
	s := New("s1", adapter.HTTP, nil)
	old := &fakeConn{remote: "old"}
	next := &fakeConn{remote: "new"}

	s.Bind(old)
	s.BindOverlap(next)

	if s.Conn() != adapter.Conn(old) {
		t.Fatal("old connection must stay authoritative during overlap")
	}

	returned := s.PromoteOverlap()
	if returned != adapter.Conn(old) {
		t.Fatal("PromoteOverlap must return the previous connection")
	}
	if s.Conn() != adapter.Conn(next) {
		t.Fatal("overlap connection must be authoritative after promotion")
	}
	if s.Overlap() != nil {
		t.Fatal("overlap slot must be empty after promotion")
	}
}

func TestSession_OverlapRollback(t *testing.T) {
	s := New("s1", adapter.HTTP, nil)
	old := &fakeConn{remote: "old"}
	next := &fakeConn{remote: "new"}

	s.Bind(old)
	s.BindOverlap(next)

	returned := s.ClearOverlap()
	if returned != adapter.Conn(next) {
		t.Fatal("ClearOverlap must return the overlap connection")
	}
	if s.Conn() != adapter.Conn(old) {
		t.Fatal("rollback must leave the old connection bound")
	}
}

func TestSession_BackoffElapsed(t *testing.T) {
	s := New("s1", adapter.TCP, nil)

	if !s.BackoffElapsed(time.Hour) {
		t.Fatal("BackoffElapsed must be true with no recorded failure")
	}

	s.RecordFailure()
	if s.BackoffElapsed(time.Hour) {
		t.Fatal("BackoffElapsed must be false right after a failure")
	}
	if !s.BackoffElapsed(0) {
		t.Fatal("BackoffElapsed with zero backoff must be true")
	}
}

func TestSession_Reset(t *testing.T) {
	s := New("s1", adapter.TCP, nil)
	s.Bind(&fakeConn{})
	s.BindOverlap(&fakeConn{})
	s.RecordFailure()
	s.SetPendingSwitch(adapter.WebSocket)
	if err := s.BeginMigration(); err != nil {
		t.Fatalf("BeginMigration: %v", err)
	}

	s.Reset()

	if s.Conn() != nil || s.Overlap() != nil {
		t.Fatal("Reset must clear connection bindings")
	}
	if s.Migrating() {
		t.Fatal("Reset must clear the migration mark")
	}
	if s.PendingSwitch() != "" {
		t.Fatal("Reset must clear the pending switch target")
	}
	if !s.BackoffElapsed(time.Hour) {
		t.Fatal("Reset must clear the failure timestamp")
	}
}

func TestSession_PendingSwitch(t *testing.T) {
	s := New("s1", adapter.HTTP, nil)
	if s.PendingSwitch() != "" {
		t.Fatal("fresh session must have no pending switch")
	}
	s.SetPendingSwitch(adapter.UDP)
	if got := s.PendingSwitch(); got != adapter.UDP {
		t.Fatalf("PendingSwitch = %s, want udp", got)
	}
}
