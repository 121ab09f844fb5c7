// Package server wires the decision engine, the telemetry log and the
// learning loop behind the HTTP and WebSocket API and runs them under one
// lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/infrasage/infrasage/internal/api/middleware"
	"github.com/infrasage/infrasage/internal/api/rest"
	"github.com/infrasage/infrasage/internal/api/ws"
	"github.com/infrasage/infrasage/internal/config"
	"github.com/infrasage/infrasage/internal/tracing"
)

const (
	shutdownTimeout   = 10 * time.Second
	retentionInterval = 24 * time.Hour
)

// Server represents the infrasage API server
type Server struct {
	core    *Core
	configs config.ConfigManager

	hub     *ws.Hub
	limiter *middleware.RateLimiter
	handler http.Handler

	// State
	mu       sync.RWMutex
	started  bool
	running  bool
	addr     net.Addr
	listenCh chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithConfigManager enables hot reload of learning thresholds from the
// manager's config file.
func WithConfigManager(m config.ConfigManager) Option {
	return func(s *Server) { s.configs = m }
}

// NewServer creates a server around an initialized core.
func NewServer(core *Core, opts ...Option) (*Server, error) {
	if core == nil {
		return nil, fmt.Errorf("core cannot be nil")
	}
	s := &Server{
		core:     core,
		hub:      ws.NewHub(core.Logger),
		listenCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg := core.Config
	if cfg.Server.RateLimitPerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute)
	}
	h := rest.NewHandler(rest.Deps{
		Reasoner:      core.Engine,
		Log:           core.Log,
		Learner:       core.Learning,
		Patterns:      core.Patterns,
		Pinger:        core.Store,
		Logger:        core.Logger,
		RetentionDays: cfg.Telemetry.RetentionDays,
	})
	s.handler = rest.NewRouter(h, rest.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         core.Logger,
		RateLimiter:    s.limiter,
		WebSocket:      ws.NewHandler(s.hub, cfg.Server.AllowedOrigins, core.Logger),
	})
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled or a component fails, then shuts down
// gracefully. A server runs once. Run does not close the core.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server has already been started")
	}
	s.started, s.running = true, true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	if s.limiter != nil {
		defer s.limiter.Stop()
	}

	cfg := s.core.Config
	logger := s.core.Logger

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  cfg.Tracing.ServiceName,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}()

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr(), err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.listenCh)

	httpServer := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return s.hub.Forward(gctx, s.core.Learning) })

	if cfg.Learning.Enabled {
		g.Go(func() error { return s.core.Scheduler.Run(gctx) })
	}
	if cfg.Telemetry.RetentionDays > 0 {
		g.Go(func() error { return s.retentionLoop(gctx) })
	}
	if s.configs != nil {
		g.Go(func() error { return s.watchConfig(gctx) })
	}

	g.Go(func() error {
		logger.Info("HTTP server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("api", "/api/v1"),
			zap.String("websocket", "/ws/insights"))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("Server stopped")
	return err
}

// Addr blocks until the server is listening and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.listenCh:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// retentionLoop deletes operations and learning patterns older than the
// retention window, once at start and then daily.
func (s *Server) retentionLoop(ctx context.Context) error {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		s.applyRetention(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Server) applyRetention(ctx context.Context) {
	before := time.Now().AddDate(0, 0, -s.core.Config.Telemetry.RetentionDays)
	logger := s.core.Logger

	ops, err := s.core.Log.Cleanup(ctx, before)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Operation retention cleanup failed", zap.Error(err))
		}
		return
	}
	pats, err := s.core.Learning.CleanupPatterns(ctx, before)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Learning pattern retention cleanup failed", zap.Error(err))
		}
		return
	}
	if ops > 0 || pats > 0 {
		logger.Info("Retention cleanup finished",
			zap.Time("before", before),
			zap.Int64("operations", ops),
			zap.Int64("learning_patterns", pats))
	}
}

// watchConfig applies every valid config file reload.
func (s *Server) watchConfig(ctx context.Context) error {
	updates := s.configs.Watch(ctx)
	source := s.configs.ConfigFileUsed()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-updates:
			s.core.ApplyConfig(ctx, cfg, source)
		}
	}
}
