// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

// Package main runs the edgemux protocol gateway: multi-protocol listeners
// behind rule-based routing, with live protocol migration, load balancing,
// endpoint health checking, metrics, and rate limiting.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/edgemux/edgemux"
	"github.com/edgemux/edgemux/examples/simple"
	"github.com/edgemux/edgemux/pkg/adapter"
	"github.com/edgemux/edgemux/pkg/adapter/httpx"
	"github.com/edgemux/edgemux/pkg/adapter/tcp"
	"github.com/edgemux/edgemux/pkg/adapter/udp"
	"github.com/edgemux/edgemux/pkg/adapter/ws"
	"github.com/edgemux/edgemux/pkg/balance"
	"github.com/edgemux/edgemux/pkg/breaker"
	"github.com/edgemux/edgemux/pkg/events"
	"github.com/edgemux/edgemux/pkg/gateway"
	"github.com/edgemux/edgemux/pkg/health"
	"github.com/edgemux/edgemux/pkg/metrics"
	"github.com/edgemux/edgemux/pkg/migrate"
	"github.com/edgemux/edgemux/pkg/pool"
	"github.com/edgemux/edgemux/pkg/ratelimit"
	"github.com/edgemux/edgemux/pkg/router"
)

const (
	httpPrefix  = "EDGEMUX_HTTP_"
	http2Prefix = "EDGEMUX_HTTP2_"
	wsPrefix    = "EDGEMUX_WS_"
	tcpPrefix   = "EDGEMUX_TCP_"
	udpPrefix   = "EDGEMUX_UDP_"
)

// Config holds the application configuration.
type Config struct {
	// Observability
	MetricsPort int    `env:"EDGEMUX_METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"EDGEMUX_HEALTH_PORT"  envDefault:"8081"`
	LogLevel    string `env:"EDGEMUX_LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"EDGEMUX_LOG_FORMAT"   envDefault:"json"`

	// Routing
	DefaultProtocol string `env:"EDGEMUX_DEFAULT_PROTOCOL" envDefault:"http"`
	RouteHeader     string `env:"EDGEMUX_ROUTE_HEADER"     envDefault:"x-route"`

	// Migration
	SwitchStrategy string        `env:"EDGEMUX_SWITCH_STRATEGY" envDefault:"graceful_drain"`
	DrainTimeout   time.Duration `env:"EDGEMUX_DRAIN_TIMEOUT"   envDefault:"30s"`
	OverlapWindow  time.Duration `env:"EDGEMUX_OVERLAP_WINDOW"  envDefault:"2s"`

	// Load Balancing
	Endpoints   string        `env:"EDGEMUX_ENDPOINTS"      envDefault:""`
	LBStrategy  string        `env:"EDGEMUX_LB_STRATEGY"    envDefault:"round_robin"`
	HealthEvery time.Duration `env:"EDGEMUX_HEALTH_EVERY"   envDefault:"30s"`
	ProbeWithin time.Duration `env:"EDGEMUX_PROBE_TIMEOUT"  envDefault:"5s"`

	// Circuit Breaker
	BreakerMaxFailures  int           `env:"EDGEMUX_BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"EDGEMUX_BREAKER_RESET_TIMEOUT" envDefault:"60s"`

	// Rate Limiting
	RateLimitCapacity  int64 `env:"EDGEMUX_RATE_LIMIT_CAPACITY"  envDefault:"100"`
	RateLimitRefill    int64 `env:"EDGEMUX_RATE_LIMIT_REFILL"    envDefault:"10"`
	GlobalRateCapacity int64 `env:"EDGEMUX_GLOBAL_RATE_CAPACITY" envDefault:"10000"`
	GlobalRateRefill   int64 `env:"EDGEMUX_GLOBAL_RATE_REFILL"   envDefault:"1000"`

	// Sessions
	MaxSessions        int           `env:"EDGEMUX_MAX_SESSIONS"         envDefault:"10000"`
	SessionIdleTimeout time.Duration `env:"EDGEMUX_SESSION_IDLE_TIMEOUT" envDefault:"5m"`
	MaxGoroutines      int           `env:"EDGEMUX_MAX_GOROUTINES"       envDefault:"50000"`

	// Connection Pooling (TCP backend sockets)
	PoolMaxIdle     int           `env:"EDGEMUX_POOL_MAX_IDLE"     envDefault:"100"`
	PoolMaxActive   int           `env:"EDGEMUX_POOL_MAX_ACTIVE"   envDefault:"1000"`
	PoolIdleTimeout time.Duration `env:"EDGEMUX_POOL_IDLE_TIMEOUT" envDefault:"5m"`

	// Timeouts
	DispatchTimeout time.Duration `env:"EDGEMUX_DISPATCH_TIMEOUT" envDefault:"30s"`
	ConnectTimeout  time.Duration `env:"EDGEMUX_CONNECT_TIMEOUT"  envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"EDGEMUX_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		// .env file is optional
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	defaultProtocol := adapter.ProtocolKind(cfg.DefaultProtocol)
	if !defaultProtocol.Valid() {
		logger.Error("invalid default protocol", slog.String("protocol", cfg.DefaultProtocol))
		os.Exit(1)
	}
	switchStrategy, err := migrate.ParseStrategy(cfg.SwitchStrategy)
	if err != nil {
		logger.Error("invalid switch strategy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	m := metrics.New("edgemux")
	go startMetricsServer(cfg.MetricsPort, logger)

	// Protocol adapters
	factory, err := adapter.NewFactory(
		httpx.NewAdapter(httpx.AdapterConfig{Logger: logger}),
		httpx.NewH2Adapter(httpx.AdapterConfig{Logger: logger}),
		ws.NewAdapter(ws.AdapterConfig{Logger: logger}),
		tcp.NewAdapter(tcp.AdapterConfig{
			Logger: logger,
			Pool: pool.Config{
				MaxIdle:     cfg.PoolMaxIdle,
				MaxActive:   cfg.PoolMaxActive,
				IdleTimeout: cfg.PoolIdleTimeout,
				DialTimeout: cfg.ConnectTimeout,
				WaitTimeout: 5 * time.Second,
			},
		}),
		udp.NewAdapter(udp.AdapterConfig{Logger: logger}),
	)
	if err != nil {
		logger.Error("failed to build adapter factory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Backend endpoints with per-endpoint circuit breakers
	endpoints := balance.NewRegistry(logger, breaker.Config{
		MaxFailures:      cfg.BreakerMaxFailures,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: 2,
	})
	endpoints.Instrument(m)
	parsed, err := edgemux.ParseEndpoints(cfg.Endpoints)
	if err != nil {
		logger.Error("failed to parse endpoints", slog.String("error", err.Error()))
		os.Exit(1)
	}
	for _, ep := range parsed {
		if err := endpoints.Register(ep); err != nil {
			logger.Error("failed to register endpoint",
				slog.String("endpoint", ep.Addr()),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("endpoint registered",
			slog.String("protocol", ep.Protocol.String()),
			slog.String("endpoint", ep.Addr()),
			slog.Int("weight", ep.Weight))
	}

	// Routing rules: the route header names the target protocol; the
	// default protocol catches everything else.
	rtr := router.New(defaultProtocol)
	for _, kind := range adapter.Kinds() {
		kind := kind
		rtr.Register(router.Rule{
			Condition: func(msg *adapter.Message, _ *router.Context) bool {
				return strings.EqualFold(msg.Header(cfg.RouteHeader), kind.String())
			},
			TargetProtocol: kind,
			Priority:       100,
			Description:    "route header " + kind.String(),
		})
	}

	// Business handler with rate limiting and metrics decorators
	limiter := ratelimit.NewSessionLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.MaxSessions)
	base := simple.New(logger)
	rateLimited := &RateLimitedHandler{
		handler:       base,
		globalLimiter: ratelimit.NewTokenBucket(cfg.GlobalRateCapacity, cfg.GlobalRateRefill),
		metrics:       m,
		logger:        logger,
	}
	instrumented := &InstrumentedHandler{handler: rateLimited, metrics: m, logger: logger}

	sink := events.NewSlogSink(logger)

	// Global TLS material, applied to the TCP, WebSocket, and HTTP
	// listeners when configured.
	tlsSource, err := edgemux.NewListenerConfig(env.Options{Prefix: "EDGEMUX_"})
	if err != nil {
		logger.Error("failed to parse TLS config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	tlsCfg, err := tlsSource.TLSConfig()
	if err != nil {
		logger.Error("failed to load TLS material", slog.String("error", err.Error()))
		os.Exit(1)
	}

	gw := gateway.New(gateway.Config{
		SwitchStrategy:     switchStrategy,
		DispatchTimeout:    cfg.DispatchTimeout,
		DrainTimeout:       cfg.DrainTimeout,
		OverlapWindow:      cfg.OverlapWindow,
		ConnectTimeout:     cfg.ConnectTimeout,
		SessionIdleTimeout: cfg.SessionIdleTimeout,
		MaxSessions:        cfg.MaxSessions,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		TLSConfig:          tlsCfg,
		Limiter:            limiter,
		Logger:             logger,
		Sink:               sink,
		Metrics:            m,
	}, factory, rtr, instrumented, endpoints, lbStrategy(cfg.LBStrategy))

	checker := balance.NewChecker(balance.CheckerConfig{
		Interval:     cfg.HealthEvery,
		ProbeTimeout: cfg.ProbeWithin,
		Logger:       logger,
		Sink:         sink,
		Metrics:      m,
	}, endpoints, factory)

	healthChecker := health.NewChecker(10 * time.Second)
	registerHealthChecks(healthChecker, cfg, gw, endpoints, m)
	go startHealthServer(cfg.HealthPort, healthChecker, logger)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return gw.Run(ctx) })
	g.Go(func() error { return checker.Run(ctx) })

	startListener(g, ctx, gw, adapter.HTTP, httpPrefix, logger)
	startListener(g, ctx, gw, adapter.HTTP2, http2Prefix, logger)
	startListener(g, ctx, gw, adapter.WebSocket, wsPrefix, logger)
	startListener(g, ctx, gw, adapter.TCP, tcpPrefix, logger)
	startListener(g, ctx, gw, adapter.UDP, udpPrefix, logger)

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("edgemux terminated with error", slog.String("error", err.Error()))
	}

	if err := gw.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("edgemux stopped")
}

// startListener reads the listener's prefixed environment and starts it
// when a port is configured.
func startListener(g *errgroup.Group, ctx context.Context, gw *gateway.Gateway, kind adapter.ProtocolKind, prefix string, logger *slog.Logger) {
	cfg, err := edgemux.NewListenerConfig(env.Options{Prefix: prefix})
	if err != nil {
		logger.Warn("listener not started",
			slog.String("protocol", kind.String()),
			slog.String("error", err.Error()))
		return
	}
	address := cfg.Address()
	if address == "" {
		logger.Info("listener not configured, skipping", slog.String("protocol", kind.String()))
		return
	}

	g.Go(func() error {
		return gw.Listen(ctx, kind, address)
	})
}

// lbStrategy maps a config string onto a load-balancing strategy.
func lbStrategy(name string) balance.Strategy {
	switch name {
	case "weighted_random":
		return balance.NewWeightedRandom()
	case "least_connections":
		return balance.NewLeastConnections()
	default:
		return balance.NewRoundRobin()
	}
}

// registerHealthChecks wires the process-level health surface.
func registerHealthChecks(hc *health.Checker, cfg Config, gw *gateway.Gateway, endpoints *balance.Registry, m *metrics.Metrics) {
	hc.Register("goroutines", func(ctx context.Context) error {
		count := runtime.NumGoroutine()
		m.GoroutinesActive.WithLabelValues("all").Set(float64(count))
		if count > cfg.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, cfg.MaxGoroutines)
		}
		return nil
	})

	hc.Register("memory", func(ctx context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.MemoryAllocated.WithLabelValues("heap").Set(float64(stats.HeapAlloc))
		m.MemoryAllocated.WithLabelValues("sys").Set(float64(stats.Sys))
		return nil
	})

	hc.Register("sessions", func(ctx context.Context) error {
		count := gw.Sessions().Count()
		if cfg.MaxSessions > 0 && count >= cfg.MaxSessions {
			return fmt.Errorf("session limit reached: %d", count)
		}
		return nil
	})

	hc.Register("endpoints", func(ctx context.Context) error {
		healthy := 0
		for _, ep := range endpoints.Snapshot() {
			if ep.Healthy {
				healthy++
			}
		}
		total := len(endpoints.Snapshot())
		if total > 0 && healthy == 0 {
			return fmt.Errorf("no healthy endpoints (%d registered)", total)
		}
		return nil
	})
}

// setupLogger builds the process logger from config.
func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.ToLower(format) == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

// startMetricsServer serves Prometheus metrics.
func startMetricsServer(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics server started", slog.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", slog.String("error", err.Error()))
	}
}

// startHealthServer serves liveness, readiness, and health endpoints.
func startHealthServer(port int, hc *health.Checker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hc.HTTPHandler())
	mux.HandleFunc("/ready", hc.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("health server started", slog.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("health server failed", slog.String("error", err.Error()))
	}
}

// stopSignalHandler cancels the run group on SIGINT or SIGTERM.
func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
