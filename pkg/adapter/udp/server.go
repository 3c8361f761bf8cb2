// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgemux/edgemux/pkg/adapter"
)

const (
	// DefaultClientTimeout is the idle timeout after which a client's
	// session is closed.
	DefaultClientTimeout = 30 * time.Second

	// DefaultBufferSize is the default read buffer size for datagrams.
	DefaultBufferSize = 8192

	// DefaultWorkerPoolSize is the default number of workers processing
	// inbound datagrams.
	DefaultWorkerPoolSize = 100
)

// Config holds the UDP listener configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// ClientTimeout is the idle timeout for client sessions. If no
	// datagrams arrive for this duration, the session is closed.
	ClientTimeout time.Duration

	// MaxClients caps concurrent client sessions. 0 means unlimited.
	MaxClients int

	// BufferSize is the size of datagram read buffers in bytes.
	// Must not exceed MaxDatagramSize.
	BufferSize int

	// WorkerPoolSize is the number of goroutines processing datagrams.
	WorkerPoolSize int

	// ReadBufferSize sets the socket receive buffer size (SO_RCVBUF).
	ReadBufferSize int

	// WriteBufferSize sets the socket send buffer size (SO_SNDBUF).
	WriteBufferSize int

	// Logger for server events
	Logger *slog.Logger
}

// datagramJob is one inbound datagram queued for the worker pool.
type datagramJob struct {
	clientAddr *net.UDPAddr
	data       []byte
}

// client tracks the gateway session bound to one remote address.
type client struct {
	sessionID    string
	lastActivity time.Time
}

// Server receives datagrams, maps each client address to a gateway session,
// and feeds payloads to the ingress through a worker pool. Responses are
// written back to the originating client address.
type Server struct {
	config  Config
	ingress adapter.Ingress

	bufferPool *sync.Pool
	jobCh      chan datagramJob
	workerWg   sync.WaitGroup

	mu      sync.Mutex
	clients map[string]*client
}

// NewServer creates a UDP listener backed by the given ingress.
func NewServer(cfg Config, ingress adapter.Ingress) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ClientTimeout == 0 {
		cfg.ClientTimeout = DefaultClientTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize > MaxDatagramSize {
		cfg.BufferSize = MaxDatagramSize
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = DefaultWorkerPoolSize
	}

	bufferPool := &sync.Pool{
		New: func() any {
			buf := make([]byte, cfg.BufferSize)
			return &buf
		},
	}

	return &Server{
		config:     cfg,
		ingress:    ingress,
		bufferPool: bufferPool,
		jobCh:      make(chan datagramJob, cfg.WorkerPoolSize*2),
		clients:    make(map[string]*client),
	}
}

// Listen starts the UDP listener and blocks until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address %s: %w", s.config.Address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	defer conn.Close()

	if s.config.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(s.config.ReadBufferSize); err != nil {
			s.config.Logger.Warn("failed to set read buffer size", slog.String("error", err.Error()))
		}
	}
	if s.config.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(s.config.WriteBufferSize); err != nil {
			s.config.Logger.Warn("failed to set write buffer size", slog.String("error", err.Error()))
		}
	}

	s.config.Logger.Info("UDP listener started",
		slog.String("address", s.config.Address),
		slog.Duration("client_timeout", s.config.ClientTimeout),
		slog.Int("worker_pool_size", s.config.WorkerPoolSize),
		slog.Int("buffer_size", s.config.BufferSize))

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	s.startWorkerPool(workerCtx, conn)

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go s.expireClients(cleanupCtx)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			bufPtr := s.bufferPool.Get().(*[]byte)
			buffer := *bufPtr

			n, clientAddr, err := conn.ReadFromUDP(buffer)
			if err != nil {
				s.bufferPool.Put(bufPtr)
				select {
				case <-ctx.Done():
					return
				default:
					s.config.Logger.Error("failed to read datagram", slog.String("error", err.Error()))
					continue
				}
			}

			// Copy out so the buffer can return to the pool before the
			// worker runs.
			datagram := make([]byte, n)
			copy(datagram, buffer[:n])
			s.bufferPool.Put(bufPtr)

			select {
			case s.jobCh <- datagramJob{clientAddr: clientAddr, data: datagram}:
			case <-ctx.Done():
				return
			default:
				s.config.Logger.Warn("worker pool full, dropping datagram",
					slog.String("client", clientAddr.String()))
			}
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := conn.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-readDone

	close(s.jobCh)
	workerCancel()
	s.workerWg.Wait()
	s.config.Logger.Info("all workers stopped")

	s.closeAllClients()
	return nil
}

// startWorkerPool starts the worker goroutines for datagram processing.
func (s *Server) startWorkerPool(ctx context.Context, conn *net.UDPConn) {
	for i := 0; i < s.config.WorkerPoolSize; i++ {
		s.workerWg.Add(1)
		go func() {
			defer s.workerWg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-s.jobCh:
					if !ok {
						return
					}
					if err := s.handleDatagram(ctx, conn, job.clientAddr, job.data); err != nil {
						s.config.Logger.Debug("datagram handler error",
							slog.String("client", job.clientAddr.String()),
							slog.String("error", err.Error()))
					}
				}
			}
		}()
	}
	s.config.Logger.Info("worker pool started", slog.Int("workers", s.config.WorkerPoolSize))
}

// handleDatagram maps the client address to a session and dispatches the
// payload through the ingress. The response, if any, is written back to the
// client.
func (s *Server) handleDatagram(ctx context.Context, conn *net.UDPConn, clientAddr *net.UDPAddr, data []byte) error {
	remote := clientAddr.String()

	sessionID, err := s.sessionFor(ctx, remote)
	if err != nil {
		return err
	}

	msg := &adapter.Message{
		SessionID:  sessionID,
		Protocol:   adapter.UDP,
		Payload:    data,
		Headers:    map[string]string{"remote_addr": remote},
		ReceivedAt: time.Now(),
	}

	resp, err := s.ingress.HandleMessage(ctx, msg)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}

	if _, err := conn.WriteToUDP(resp, clientAddr); err != nil {
		return fmt.Errorf("failed to write response to %s: %w", remote, err)
	}
	return nil
}

// sessionFor returns the session bound to the client address, opening a new
// one on first contact.
func (s *Server) sessionFor(ctx context.Context, remote string) (string, error) {
	s.mu.Lock()
	if c, ok := s.clients[remote]; ok {
		c.lastActivity = time.Now()
		id := c.sessionID
		s.mu.Unlock()
		return id, nil
	}
	if s.config.MaxClients > 0 && len(s.clients) >= s.config.MaxClients {
		s.mu.Unlock()
		return "", stderrors.New("client limit reached")
	}
	s.mu.Unlock()

	sessionID, err := s.ingress.OpenSession(ctx, adapter.UDP, remote)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	// Two workers can race on the same client's first datagrams; keep the
	// session that won.
	if c, ok := s.clients[remote]; ok {
		s.mu.Unlock()
		s.ingress.CloseSession(ctx, sessionID)
		return c.sessionID, nil
	}
	s.clients[remote] = &client{sessionID: sessionID, lastActivity: time.Now()}
	s.mu.Unlock()

	s.config.Logger.Debug("udp client session opened",
		slog.String("client", remote),
		slog.String("session", sessionID))

	return sessionID, nil
}

// expireClients periodically closes sessions for clients that went silent.
func (s *Server) expireClients(ctx context.Context) {
	ticker := time.NewTicker(s.config.ClientTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var expired []string
		now := time.Now()

		s.mu.Lock()
		for remote, c := range s.clients {
			if now.Sub(c.lastActivity) > s.config.ClientTimeout {
				expired = append(expired, c.sessionID)
				delete(s.clients, remote)
				s.config.Logger.Debug("udp client expired",
					slog.String("client", remote),
					slog.String("session", c.sessionID))
			}
		}
		s.mu.Unlock()

		for _, id := range expired {
			s.ingress.CloseSession(ctx, id)
		}
	}
}

// closeAllClients tears down every remaining client session on shutdown.
func (s *Server) closeAllClients() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.clients))
	for _, c := range s.clients {
		ids = append(ids, c.sessionID)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, id := range ids {
		s.ingress.CloseSession(context.Background(), id)
	}
}
