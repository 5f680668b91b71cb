package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
	"github.com/zeusync/vault/internal/core/rpc"
	"github.com/zeusync/vault/internal/core/vault"
)

// Server exposes the vault over HTTP: the RPC gateway on /rpc, Prometheus
// metrics on /metrics and a health check on /healthz. In snapshot mode it
// also drives the periodic PersistAll.
type Server struct {
	manager    *vault.Manager
	dispatcher *rpc.Dispatcher
	metrics    *metrics.Metrics

	httpServer *http.Server
	listener   net.Listener

	// Client management
	connMu      sync.Mutex
	conns       map[*websocket.Conn]struct{}
	draining    bool
	clientCount int64 // atomic
	connGroup   sync.WaitGroup

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool

	// Configuration and logging
	config Config
	logger log.Log

	// Background workers
	workerGroup sync.WaitGroup
	stopChan    chan struct{}
	baseCtx     context.Context
	cancel      context.CancelFunc
}

// Config holds server configuration
type Config struct {
	ListenAddr string
	// ReadLimit caps one inbound websocket frame.
	ReadLimit int64
	// SnapshotInterval is the PersistAll period. Zero disables the ticker.
	SnapshotInterval time.Duration
	ShutdownTimeout  time.Duration
	WriteTimeout     time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:       "127.0.0.1:8420",
		ReadLimit:        1 << 20, // 1MB
		SnapshotInterval: 30 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Stats contains server statistics
type Stats struct {
	ClientCount int64 `json:"clients"`
	RegionCount int   `json:"regions"`
	Running     bool  `json:"running"`
}

// NewServer creates a server around an already loaded manager.
func NewServer(config Config, m *vault.Manager, d *rpc.Dispatcher, mt *metrics.Metrics, logger log.Log) *Server {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultServerConfig().WriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	server := &Server{
		manager:    m,
		dispatcher: d,
		metrics:    mt,
		conns:      make(map[*websocket.Conn]struct{}),
		config:     config,
		logger:     logger.With(log.String("component", "server")),
		stopChan:   make(chan struct{}),
		baseCtx:    ctx,
		cancel:     cancel,
	}

	server.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Duration("snapshot_interval", config.SnapshotInterval))

	return server
}

// Handler returns the HTTP routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start starts the server
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}

	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	s.logger.Info("Starting server")

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to create listener", log.Error(err))
		return fmt.Errorf("%w: %w", ErrListenerFailed, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	s.logger.Info("Server listening",
		log.String("addr", listener.Addr().String()))

	// Start background workers
	s.startWorkers()

	s.logger.Info("Server started successfully")

	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the gateway down, disconnects every client and flushes the
// vault one last time.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	// Signal stop
	close(s.stopChan)

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}

	// Hijacked websocket connections are not tracked by http.Server.
	s.disconnectAll()
	s.connGroup.Wait()

	// Wait for workers to stop
	s.stopWorkers()
	s.cancel()

	if err := s.manager.PersistAll(ctx); err != nil {
		s.logger.Error("Final flush failed", log.Error(err))
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}

	s.logger.Info("Server stopped")

	return errors.Join(errs...)
}

// Close closes the server and releases all resources
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // Already closed
	}

	s.logger.Info("Closing server")

	var err error
	if atomic.LoadInt32(&s.running) == 1 {
		err = s.Stop(context.Background())
	}
	s.cancel()

	s.logger.Info("Server closed")

	return err
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	return Stats{
		ClientCount: atomic.LoadInt64(&s.clientCount),
		RegionCount: len(s.manager.Regions()),
		Running:     atomic.LoadInt32(&s.running) == 1,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.GetStats()
	w.Header().Set("Content-Type", "application/json")
	if !stats.Running {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Warn("Failed to write health response", log.Error(err))
	}
}

// startWorkers starts background worker goroutines
func (s *Server) startWorkers() {
	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", log.Error(err))
		}
	}()

	if s.config.SnapshotInterval > 0 {
		s.workerGroup.Add(1)
		go func() {
			defer s.workerGroup.Done()
			s.snapshotLoop()
		}()
	}
}

// stopWorkers stops background worker goroutines
func (s *Server) stopWorkers() {
	s.workerGroup.Wait()
}

// snapshotLoop persists every region on each tick.
func (s *Server) snapshotLoop() {
	s.logger.Debug("Snapshot loop started")

	ticker := time.NewTicker(s.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.snapshot()
		case <-s.stopChan:
			s.logger.Debug("Snapshot loop stopped")
			return
		}
	}
}

func (s *Server) snapshot() {
	started := time.Now()
	if err := s.manager.PersistAll(s.baseCtx); err != nil {
		s.logger.Error("Snapshot failed", log.Error(err))
		return
	}
	s.logger.Debug("Snapshot completed", log.Duration("took", time.Since(started)))
}
