// Package session assembles the presentation server: the websocket hub,
// the change capture pipeline, the image cache, and the HTTP surface, with
// ordered startup and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/podium/internal/config"
	"github.com/haasonsaas/podium/internal/document"
	"github.com/haasonsaas/podium/internal/hub"
	"github.com/haasonsaas/podium/internal/imagecache"
	"github.com/haasonsaas/podium/internal/observability"
	"github.com/haasonsaas/podium/internal/pipeline"
	"github.com/haasonsaas/podium/internal/ratelimit"
)

// Server owns one presentation session end to end.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	hub      *hub.Hub
	limiter  *ratelimit.Limiter
	images   *imagecache.Cache
	pipeline *pipeline.Pipeline

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	source     document.Source
	filePath   string
	stopped    bool
}

// New wires the session components together. A nil logger falls back to
// slog.Default.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	h := hub.New(hub.Config{
		PIN:           cfg.Session.PIN,
		MaxViewers:    cfg.Session.MaxViewers,
		PresenterName: cfg.Session.PresenterName,
	}, limiter, logger, metrics)
	images := imagecache.New(cfg.Images, logger, metrics)
	p := pipeline.New(cfg.Pipeline, h, images, logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "session"),
		registry: registry,
		metrics:  metrics,
		hub:      h,
		limiter:  limiter,
		images:   images,
		pipeline: p,
	}

	// Every newly authorized connection gets the full document state.
	h.SetConnectionAuthorized(func(c *hub.Client) {
		p.Resync(func(msgType string, data any) {
			h.SendTo(c, msgType, data)
		})
	})
	return s
}

// Hub exposes the hub for poll control and status queries.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Present switches the session to a new document source. The file path
// backs the download endpoint; it may be empty for in-memory sources.
func (s *Server) Present(filePath string, src document.Source) {
	s.mu.Lock()
	old := s.source
	s.source = src
	s.filePath = filePath
	s.mu.Unlock()

	s.pipeline.SetSource(src)
	if old != nil && old != src {
		_ = old.Close()
	}
	if filePath != "" {
		s.logger.Info("presenting", "file", filePath)
	}
}

// Start binds the listener and serves until Shutdown. When port
// reclamation is on, a busy port gets one kill-and-retry pass before the
// bind fails for good.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil && s.cfg.Server.ReclaimPort {
		s.logger.Warn("port busy, reclaiming", "addr", addr, "error", err)
		if reclaimErr := reclaimPort(s.cfg.Server.Port, s.logger); reclaimErr != nil {
			return fmt.Errorf("reclaim port %d: %w", s.cfg.Server.Port, reclaimErr)
		}
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = server
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("starting session server", "addr", addr)

	go func() {
		<-ctx.Done()
		s.Shutdown(context.Background())
	}()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown tears the session down in order: pending document sends flush,
// viewers get session:end and a bounded grace period, then the HTTP
// server and caches go. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	server := s.httpServer
	src := s.source
	s.source = nil
	s.mu.Unlock()

	s.pipeline.Stop()
	s.hub.Shutdown()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			s.logger.Warn("http server shutdown error", "error", err)
		}
	}
	if src != nil {
		_ = src.Close()
	}
	s.images.Clear()
	s.logger.Info("session stopped")
}

// EmergencyStop tears everything down synchronously with no grace period.
func (s *Server) EmergencyStop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	server := s.httpServer
	src := s.source
	s.source = nil
	s.mu.Unlock()

	s.pipeline.Stop()
	s.hub.ForceStop()
	if server != nil {
		_ = server.Close()
	}
	if src != nil {
		_ = src.Close()
	}
	s.images.Clear()
	s.logger.Info("session force stopped")
}
