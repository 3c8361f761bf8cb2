// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"testing"

	"github.com/edgemux/edgemux/pkg/adapter"
)

func headerIs(key, value string) Condition {
	return func(msg *adapter.Message, _ *Context) bool {
		return msg.Header(key) == value
	}
}

func TestRouter_DefaultProtocol(t *testing.T) {
	r := New(adapter.HTTP)

	msg := &adapter.Message{Protocol: adapter.TCP}
	got, rule := r.Route(msg, &Context{})
	if got != adapter.HTTP {
		t.Fatalf("Route = %s, want default http", got)
	}
	if rule != "" {
		t.Fatalf("rule = %q, want empty for default", rule)
	}
}

func TestRouter_PriorityOrder(t *testing.T) {
	r := New(adapter.HTTP)
	r.Register(
		Rule{
			Condition:      headerIs("content_type", "application/json"),
			TargetProtocol: adapter.WebSocket,
			Priority:       50,
			Description:    "json to websocket",
		},
		Rule{
			Condition:      headerIs("content_type", "application/json"),
			TargetProtocol: adapter.TCP,
			Priority:       100,
			Description:    "json to tcp",
		},
	)

	msg := &adapter.Message{
		Protocol: adapter.HTTP,
		Headers:  map[string]string{"content_type": "application/json"},
	}

	got, rule := r.Route(msg, &Context{})
	if got != adapter.TCP {
		t.Fatalf("Route = %s, want tcp (priority 100 over 50)", got)
	}
	if rule != "json to tcp" {
		t.Fatalf("rule = %q, want %q", rule, "json to tcp")
	}
}

func TestRouter_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	r := New(adapter.HTTP)
	r.Register(
		Rule{
			Condition:      headerIs("kind", "stream"),
			TargetProtocol: adapter.WebSocket,
			Priority:       10,
			Description:    "first",
		},
		Rule{
			Condition:      headerIs("kind", "stream"),
			TargetProtocol: adapter.UDP,
			Priority:       10,
			Description:    "second",
		},
	)

	msg := &adapter.Message{
		Protocol: adapter.HTTP,
		Headers:  map[string]string{"kind": "stream"},
	}

	got, rule := r.Route(msg, &Context{})
	if got != adapter.WebSocket || rule != "first" {
		t.Fatalf("Route = %s/%q, want websocket/first (stable tie-break)", got, rule)
	}
}

func TestRouter_Deterministic(t *testing.T) {
	r := New(adapter.HTTP)
	r.Register(
		Rule{
			Condition:      headerIs("x-route", "tcp"),
			TargetProtocol: adapter.TCP,
			Priority:       100,
			Description:    "route header",
		},
		Rule{
			Condition: func(msg *adapter.Message, rctx *Context) bool {
				return rctx.Attribute("tier") == "realtime"
			},
			TargetProtocol: adapter.WebSocket,
			Priority:       50,
			Description:    "realtime tier",
		},
	)

	msg := &adapter.Message{
		Protocol: adapter.HTTP,
		Headers:  map[string]string{"x-route": "tcp"},
	}
	rctx := &Context{Attributes: map[string]string{"tier": "realtime"}}

	first, _ := r.Route(msg, rctx)
	for i := 0; i < 100; i++ {
		got, _ := r.Route(msg, rctx)
		if got != first {
			t.Fatalf("Route not deterministic: %s then %s", first, got)
		}
	}
	if first != adapter.TCP {
		t.Fatalf("Route = %s, want tcp", first)
	}
}

func TestRouter_ConditionSeesIdentity(t *testing.T) {
	r := New(adapter.HTTP)
	r.Register(Rule{
		Condition: func(_ *adapter.Message, rctx *Context) bool {
			return rctx.Subject == "device-7"
		},
		TargetProtocol: adapter.UDP,
		Priority:       1,
		Description:    "device seven",
	})

	msg := &adapter.Message{Protocol: adapter.HTTP}

	if got, _ := r.Route(msg, &Context{Subject: "device-7"}); got != adapter.UDP {
		t.Fatalf("Route with matching subject = %s, want udp", got)
	}
	if got, _ := r.Route(msg, &Context{Subject: "other"}); got != adapter.HTTP {
		t.Fatalf("Route with other subject = %s, want default http", got)
	}
}
