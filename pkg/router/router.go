// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"sort"
	"sync"

	"github.com/edgemux/edgemux/pkg/adapter"
)

// Context carries the per-request routing inputs beyond the message itself:
// the authenticated subject and any connection attributes the listeners
// collected. Rule conditions read it; nothing writes it during evaluation.
type Context struct {
	// Subject is the authenticated principal, if any.
	Subject string

	// Attributes carries connection metadata (remote address, requested
	// path, negotiated subprotocol).
	Attributes map[string]string
}

// Attribute returns the named attribute or the empty string.
func (c *Context) Attribute(key string) string {
	if c == nil || c.Attributes == nil {
		return ""
	}
	return c.Attributes[key]
}

// Condition is a pure predicate over a message and routing context. It must
// be deterministic and side-effect-free: same inputs, same answer.
type Condition func(msg *adapter.Message, rctx *Context) bool

// Rule maps matching traffic to a target protocol. Rules are immutable once
// registered.
type Rule struct {
	// Condition decides whether the rule applies.
	Condition Condition

	// TargetProtocol is chosen when the condition matches.
	TargetProtocol adapter.ProtocolKind

	// Priority orders evaluation; higher evaluates first.
	Priority int

	// Description names the rule for logs and metrics.
	Description string
}

// Router evaluates prioritized rules against inbound messages to choose a
// target protocol. Evaluation is deterministic: rules are kept sorted by
// descending priority, with insertion order breaking ties, and the first
// match wins. No match yields the default protocol.
type Router struct {
	mu       sync.RWMutex
	rules    []Rule
	fallback adapter.ProtocolKind
}

// New creates a router with the given default protocol.
func New(defaultProtocol adapter.ProtocolKind) *Router {
	return &Router{
		fallback: defaultProtocol,
	}
}

// Register adds rules to the router. Re-sorting is stable, so rules with
// equal priority keep their registration order.
func (r *Router) Register(rules ...Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rules...)
	sort.SliceStable(r.rules, func(i, j int) bool {
		return r.rules[i].Priority > r.rules[j].Priority
	})
}

// Route returns the target protocol for the message. The matched rule
// description (or "" for the default) is returned for the caller to emit a
// routing-decision event; the router itself has no side effects.
func (r *Router) Route(msg *adapter.Message, rctx *Context) (adapter.ProtocolKind, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		if rule.Condition != nil && rule.Condition(msg, rctx) {
			return rule.TargetProtocol, rule.Description
		}
	}
	return r.fallback, ""
}

// DefaultProtocol returns the configured fallback protocol.
func (r *Router) DefaultProtocol() adapter.ProtocolKind {
	return r.fallback
}

// Rules returns a copy of the registered rules in evaluation order.
func (r *Router) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}
