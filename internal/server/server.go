// Package server exposes the client over HTTP: a gin control API, a
// websocket relay of bus events and a gRPC health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/gstream/internal/app"
	"github.com/mantonx/gstream/internal/config"
	"github.com/mantonx/gstream/internal/events"
	"github.com/mantonx/gstream/internal/metrics"
	"github.com/mantonx/gstream/internal/process"
	"github.com/mantonx/gstream/internal/stream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the client surface the API drives. *app.App implements it.
type Service interface {
	Connected() bool
	Settings() *config.Config
	Streams(all bool) stream.Set
	Processes() []process.Info
	Poll(ctx context.Context, url string) (*app.PollResult, error)
	Watch(url, quality string) (*app.WatchResult, error)
	StopPlayback()
	ReconfigureHost(address string, port uint16) error
	SetPlayerPath(path string) error
	SetShowOffline(show bool) (stream.Set, error)
	History(ctx context.Context, limit int) (*app.HistorySnapshot, error)
}

// Config holds the listener settings
type Config struct {
	Host        string
	Port        int
	GRPCPort    int
	MetricsPath string
}

// FromConfig builds server settings from the application config
func FromConfig(cfg *config.Config) Config {
	return Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		GRPCPort:    cfg.Server.GRPCPort,
		MetricsPath: cfg.Metrics.Path,
	}
}

// Server owns the HTTP and gRPC listeners
type Server struct {
	cfg     Config
	svc     Service
	bus     events.Bus
	metrics *metrics.Metrics
	logger  hclog.Logger

	router *gin.Engine
	hub    *Hub
	health *health.Server
	subIDs []string

	mu         sync.Mutex
	httpServer *http.Server
	grpcServer *grpc.Server
	httpAddr   net.Addr
	grpcAddr   net.Addr
}

// New builds the server and subscribes it to bus. A nil metrics disables the
// metrics endpoint.
func New(cfg Config, svc Service, bus events.Bus, m *metrics.Metrics, logger hclog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: service is required")
	}
	if bus == nil {
		return nil, errors.New("server: event bus is required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		bus:     bus,
		metrics: m,
		logger:  logger.Named("server"),
	}
	s.hub = NewHub(s.logger)
	s.health = newHealthServer(svc.Connected())
	s.router = s.setupRouter()

	sub, err := bus.Subscribe(events.EventFilter{}, "server.websocket", func(ev events.Event) error {
		s.hub.Broadcast(ev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe websocket relay: %w", err)
	}
	s.subIDs = append(s.subIDs, sub.ID)

	sub, err = bus.Subscribe(events.EventFilter{Types: transportEventTypes}, "server.health", func(ev events.Event) error {
		updateHealth(s.health, ev)
		return nil
	})
	if err != nil {
		_ = bus.Unsubscribe(s.subIDs[0])
		return nil, fmt.Errorf("subscribe health: %w", err)
	}
	s.subIDs = append(s.subIDs, sub.ID)

	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listeners and serves in the background. The gRPC listener
// is only opened when a gRPC port is configured.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpAddr = lis.Addr()
	go func(srv *http.Server) {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}(s.httpServer)
	s.logger.Info("HTTP server listening", "addr", s.httpAddr.String())

	if s.cfg.GRPCPort > 0 {
		gaddr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.GRPCPort))
		glis, err := net.Listen("tcp", gaddr)
		if err != nil {
			_ = s.httpServer.Close()
			s.httpServer = nil
			return fmt.Errorf("listen on %s: %w", gaddr, err)
		}
		s.grpcServer = s.newGRPCServer()
		s.grpcAddr = glis.Addr()
		go func(srv *grpc.Server) {
			if err := srv.Serve(glis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.logger.Error("gRPC server failed", "error", err)
			}
		}(s.grpcServer)
		s.logger.Info("gRPC health service listening", "addr", s.grpcAddr.String())
	}

	return nil
}

// Addr returns the bound HTTP address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address, or nil when not serving gRPC
func (s *Server) GRPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// Shutdown stops the listeners, closes websocket clients and leaves the bus
func (s *Server) Shutdown(ctx context.Context) error {
	for _, id := range s.subIDs {
		_ = s.bus.Unsubscribe(id)
	}
	s.subIDs = nil
	s.health.Shutdown()
	s.hub.CloseAll()

	s.mu.Lock()
	httpServer, grpcServer := s.httpServer, s.grpcServer
	s.httpServer, s.grpcServer = nil, nil
	s.mu.Unlock()

	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcServer.Stop()
		}
	}

	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) newGRPCServer() *grpc.Server {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}
