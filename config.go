// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package edgemux provides shared configuration for gateway deployments.
package edgemux

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/edgemux/edgemux/pkg/adapter"
)

// ListenerConfig holds the environment-driven settings for one protocol
// listener. Each listener reads its own prefixed variables, so a
// deployment enables a protocol by configuring its port.
type ListenerConfig struct {
	Host string `env:"HOST" envDefault:""`
	Port string `env:"PORT" envDefault:""`

	// CertFile and KeyFile enable TLS on the listener.
	CertFile string `env:"CERT_FILE" envDefault:""`
	KeyFile  string `env:"KEY_FILE"  envDefault:""`

	// ClientCAFile enables mTLS when set.
	ClientCAFile string `env:"CLIENT_CA_FILE" envDefault:""`
}

// NewListenerConfig parses a listener configuration from the environment.
func NewListenerConfig(opts env.Options) (ListenerConfig, error) {
	var cfg ListenerConfig
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return ListenerConfig{}, err
	}
	return cfg, nil
}

// Address returns the listen address, or "" when the listener is not
// configured.
func (c ListenerConfig) Address() string {
	if c.Port == "" {
		return ""
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// TLSConfig loads the listener's TLS material. Returns nil when TLS is not
// configured.
func (c ListenerConfig) TLSConfig() (*tls.Config, error) {
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if c.ClientCAFile != "" {
		pem, err := os.ReadFile(c.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("reading client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", c.ClientCAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// ParseEndpoints parses a comma-separated list of backend endpoint URLs
// into registrable endpoints:
//
//	tcp://10.0.0.1:9000?weight=5&max_load=100,ws://10.0.0.2:8080
//
// The URL scheme names the protocol (http, http2, ws, tcp, udp). Weight
// defaults to 1 and max_load to unlimited.
func ParseEndpoints(s string) ([]adapter.Endpoint, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var endpoints []adapter.Endpoint
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", raw, err)
		}

		kind, err := protocolFromScheme(u.Scheme)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", raw, err)
		}

		host, portStr, err := net.SplitHostPort(u.Host)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", raw, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: invalid port: %w", raw, err)
		}

		ep := adapter.Endpoint{
			Protocol: kind,
			Address:  host,
			Port:     port,
			Weight:   1,
		}

		q := u.Query()
		if w := q.Get("weight"); w != "" {
			ep.Weight, err = strconv.Atoi(w)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: invalid weight: %w", raw, err)
			}
		}
		if ml := q.Get("max_load"); ml != "" {
			ep.MaxLoad, err = strconv.Atoi(ml)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: invalid max_load: %w", raw, err)
			}
		}

		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func protocolFromScheme(scheme string) (adapter.ProtocolKind, error) {
	switch strings.ToLower(scheme) {
	case "http":
		return adapter.HTTP, nil
	case "http2", "h2c":
		return adapter.HTTP2, nil
	case "ws", "websocket":
		return adapter.WebSocket, nil
	case "tcp":
		return adapter.TCP, nil
	case "udp":
		return adapter.UDP, nil
	default:
		return "", fmt.Errorf("unknown protocol scheme %q", scheme)
	}
}
