// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package edgemux

import (
	"testing"

	"github.com/caarlos0/env/v11"

	"github.com/edgemux/edgemux/pkg/adapter"
)

func TestParseEndpoints(t *testing.T) {
	eps, err := ParseEndpoints("tcp://10.0.0.1:9000?weight=5&max_load=100, ws://10.0.0.2:8080, h2c://10.0.0.3:8443")
	if err != nil {
		t.Fatalf("ParseEndpoints: %v", err)
	}
	if len(eps) != 3 {
		t.Fatalf("got %d endpoints, want 3", len(eps))
	}

	first := eps[0]
	if first.Protocol != adapter.TCP || first.Address != "10.0.0.1" || first.Port != 9000 {
		t.Fatalf("first endpoint = %+v", first)
	}
	if first.Weight != 5 || first.MaxLoad != 100 {
		t.Fatalf("first endpoint weight/max_load = %d/%d, want 5/100", first.Weight, first.MaxLoad)
	}

	if eps[1].Protocol != adapter.WebSocket || eps[1].Weight != 1 {
		t.Fatalf("second endpoint = %+v, want websocket with default weight", eps[1])
	}
	if eps[2].Protocol != adapter.HTTP2 {
		t.Fatalf("third endpoint protocol = %s, want http2", eps[2].Protocol)
	}
}

func TestParseEndpoints_Invalid(t *testing.T) {
	cases := []string{
		"gopher://10.0.0.1:70",
		"tcp://10.0.0.1",
		"tcp://10.0.0.1:notaport",
		"tcp://10.0.0.1:9000?weight=heavy",
	}
	for _, raw := range cases {
		if _, err := ParseEndpoints(raw); err == nil {
			t.Errorf("ParseEndpoints(%q) succeeded, want error", raw)
		}
	}
}

func TestParseEndpoints_Empty(t *testing.T) {
	eps, err := ParseEndpoints("  ")
	if err != nil {
		t.Fatalf("ParseEndpoints: %v", err)
	}
	if eps != nil {
		t.Fatalf("got %v, want nil for blank input", eps)
	}
}

func TestListenerConfig_Address(t *testing.T) {
	t.Setenv("GW_TEST_HOST", "0.0.0.0")
	t.Setenv("GW_TEST_PORT", "8080")

	cfg, err := NewListenerConfig(env.Options{Prefix: "GW_TEST_"})
	if err != nil {
		t.Fatalf("NewListenerConfig: %v", err)
	}
	if got := cfg.Address(); got != "0.0.0.0:8080" {
		t.Fatalf("Address = %q, want 0.0.0.0:8080", got)
	}

	if (ListenerConfig{}).Address() != "" {
		t.Fatal("unconfigured listener must have an empty address")
	}
}

func TestListenerConfig_TLSDisabled(t *testing.T) {
	tlsCfg, err := ListenerConfig{}.TLSConfig()
	if err != nil {
		t.Fatalf("TLSConfig: %v", err)
	}
	if tlsCfg != nil {
		t.Fatal("TLSConfig must be nil without cert material")
	}
}
