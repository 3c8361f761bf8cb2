// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package balance

import (
	"math/rand"
	"sync"

	"github.com/edgemux/edgemux/pkg/adapter"
)

// Strategy picks one entry from the eligible set. The slice is non-empty,
// filtered to healthy endpoints, and ordered by registration.
type Strategy interface {
	// Name identifies the strategy in config and logs.
	Name() string

	// pick selects one entry. Implementations may keep internal state
	// (round-robin counters) but must not touch endpoint fields.
	pick(protocol adapter.ProtocolKind, eligible []*entry) *entry
}

// RoundRobin cycles through healthy endpoints in registration order, with
// an independent counter per protocol.
type RoundRobin struct {
	mu       sync.Mutex
	counters map[adapter.ProtocolKind]int
}

// NewRoundRobin creates a round-robin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{
		counters: make(map[adapter.ProtocolKind]int),
	}
}

func (s *RoundRobin) Name() string { return "round_robin" }

func (s *RoundRobin) pick(protocol adapter.ProtocolKind, eligible []*entry) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.counters[protocol] % len(eligible)
	s.counters[protocol]++
	return eligible[idx]
}

// WeightedRandom draws an endpoint with probability proportional to its
// weight among the healthy endpoints.
type WeightedRandom struct{}

// NewWeightedRandom creates a weighted-random strategy.
func NewWeightedRandom() *WeightedRandom {
	return &WeightedRandom{}
}

func (s *WeightedRandom) Name() string { return "weighted_random" }

func (s *WeightedRandom) pick(protocol adapter.ProtocolKind, eligible []*entry) *entry {
	total := 0
	for _, e := range eligible {
		total += e.ep.Weight
	}

	n := rand.Intn(total)
	for _, e := range eligible {
		n -= e.ep.Weight
		if n < 0 {
			return e
		}
	}
	return eligible[len(eligible)-1]
}

// LeastConnections picks the healthy endpoint with the smallest in-flight
// load that is still below its MaxLoad; ties break by registration order.
type LeastConnections struct{}

// NewLeastConnections creates a least-connections strategy.
func NewLeastConnections() *LeastConnections {
	return &LeastConnections{}
}

func (s *LeastConnections) Name() string { return "least_connections" }

func (s *LeastConnections) pick(protocol adapter.ProtocolKind, eligible []*entry) *entry {
	var best *entry
	for _, e := range eligible {
		if e.ep.MaxLoad > 0 && e.ep.CurrentLoad >= e.ep.MaxLoad {
			continue
		}
		if best == nil || e.ep.CurrentLoad < best.ep.CurrentLoad {
			best = e
		}
	}
	return best
}
