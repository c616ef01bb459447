package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/volplayer/internal/config"
	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/geometry"
	"github.com/zsiec/volplayer/internal/health"
	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/registry"
)

// Server serves the read-only inspection API over HTTP/1.1.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       *logrus.Logger
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler

	store    *geometry.Store
	sessions registry.Registry

	routesOnce sync.Once
	addrMu     sync.RWMutex
	addr       net.Addr

	// Additional handlers can be registered
	additionalRoutes []func(*mux.Router)
}

// New creates a server over the geometry store and the session registry.
// sessions may be nil, in which case the session endpoints list nothing.
func New(cfg *config.ServerConfig, log *logrus.Logger, store *geometry.Store, sessions registry.Registry) *Server {
	return &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		healthMgr:    health.NewManager(logger.NewLogrusAdapter(logger.WithComponent(log, "health"))),
		errorHandler: apperrors.NewErrorHandler(log),
		store:        store,
		sessions:     sessions,
	}
}

// HealthManager returns the manager the health endpoints report from, so
// callers can register checkers before Start.
func (s *Server) HealthManager() *health.Manager {
	return s.healthMgr
}

// Handler returns the fully routed handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Addr returns the bound address once Start is listening, nil before.
func (s *Server) Addr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// Start listens and serves until ctx is cancelled, then shuts down within
// the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.ListenAddr, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	go s.healthMgr.StartPeriodicChecks(ctx, 30*time.Second)

	s.logger.WithField("addr", ln.Addr().String()).Info("Starting inspection server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down inspection server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Inspection server shutdown complete")
	return nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/streams", s.handleListStreams).Methods("GET", "OPTIONS")
	api.HandleFunc("/streams/{id}", s.handleGetStream).Methods("GET", "OPTIONS")
	api.HandleFunc("/streams/{id}/frames/{frame}", s.handleGetFrame).Methods("GET", "OPTIONS")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET", "OPTIONS")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET", "OPTIONS")

	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// RegisterRoutes adds route handlers. It has no effect once the handler
// has been built.
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}
