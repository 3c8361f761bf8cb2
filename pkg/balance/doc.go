// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package balance provides the endpoint registry, health checker, and load
// balancer for backend dispatches.
//
// # Overview
//
//	┌───────────┐   Select    ┌──────────┐   probe    ┌──────────┐
//	│ Balancer  │ ──────────→ │ Registry │ ←───────── │ Checker  │
//	└───────────┘             └──────────┘            └──────────┘
//	      │                        │
//	      │ Lease.Release          │ breaker per endpoint
//	      ↓                        ↓
//	  load/breaker            eligible set
//
// # Registry
//
// One Registry instance tracks every backend endpoint per protocol. It is
// the only gateway structure shared between independent workers: the health
// checker writes the healthy flag and the balancer the in-flight load. A
// single mutex guards both, held only across field access.
//
// # Strategies
//
//   - Round-robin: cycles healthy endpoints in registration order, one
//     counter per protocol.
//   - Weighted random: draws proportionally to endpoint weight.
//   - Least-connections: smallest in-flight load below MaxLoad, ties broken
//     by registration order.
//
// Selection never falls back to an unhealthy endpoint; an empty eligible
// set is a hard ErrNoHealthyEndpoint for that dispatch.
//
// # Leases
//
// Select returns a Lease that reserves one dispatch slot. Releasing the
// lease decrements the endpoint load (never below zero) and feeds the
// dispatch outcome into the endpoint's circuit breaker, so an endpoint that
// keeps failing is skipped on subsequent selections until its breaker
// half-opens.
//
// # Health checking
//
// The Checker probes each endpoint on a fixed interval (default 30s) by
// opening and closing an adapter connection. It is the sole writer of
// healthy. Probes for different endpoints run concurrently, each bounded by
// the probe timeout.
package balance
