// Package microservice holds the HTTP server shared by the service binaries.
package microservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// BaseConfig holds the fields every service configuration carries.
type BaseConfig struct {
	LogLevel        string `yaml:"log_level"`
	HTTPPort        string `yaml:"http_port"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	ServiceName     string `yaml:"service_name"`
}

// Service is the lifecycle every service exposes to its main.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Router() chi.Router
	GetHTTPPort() string
}

// ReadinessCheck reports why the service cannot take traffic, or nil.
type ReadinessCheck func() error

// BaseServer owns the listener and the root router. /healthz answers as long
// as the process serves HTTP; /readyz only between Start and Shutdown, and
// only while every readiness check passes.
type BaseServer struct {
	Logger   zerolog.Logger
	HTTPPort string

	srv    *http.Server
	router chi.Router
	ready  atomic.Bool

	mu     sync.RWMutex
	addr   string
	checks []ReadinessCheck
}

// NewBaseServer creates a server for httpPort (":0" picks a free port) with
// the probe routes installed.
func NewBaseServer(logger zerolog.Logger, httpPort string) *BaseServer {
	s := &BaseServer{
		Logger:   logger.With().Str("component", "BaseServer").Logger(),
		HTTPPort: httpPort,
		router:   chi.NewRouter(),
	}
	s.router.Get("/healthz", HealthzHandler)
	s.router.Get("/readyz", s.readyz)
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// AddReadinessCheck registers a check consulted by /readyz.
func (s *BaseServer) AddReadinessCheck(check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, check)
}

// Start binds the port and serves in the background. It returns once the
// port is bound, so GetHTTPPort is valid afterwards.
func (s *BaseServer) Start() error {
	ln, err := net.Listen("tcp", s.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.HTTPPort, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.ready.Store(true)

	s.Logger.Info().Str("address", ln.Addr().String()).Msg("HTTP server listening.")
	go func() {
		err := s.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("HTTP server stopped unexpectedly.")
		}
	}()
	return nil
}

// Shutdown marks the server unready, then waits for in-flight requests until
// ctx expires.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if err := s.srv.Shutdown(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("HTTP server did not drain in time.")
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.Logger.Info().Msg("HTTP server stopped.")
	return nil
}

// GetHTTPPort returns ":port" as bound by Start, or the configured value
// before Start.
func (s *BaseServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, port, err := net.SplitHostPort(s.addr); err == nil {
		return ":" + port
	}
	return s.HTTPPort
}

// Router returns the root router. Routes must be added before Start.
func (s *BaseServer) Router() chi.Router {
	return s.router
}

func (s *BaseServer) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "not serving", http.StatusServiceUnavailable)
		return
	}
	s.mu.RLock()
	checks := s.checks
	s.mu.RUnlock()
	for _, check := range checks {
		if err := check(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("OK"))
}

// HealthzHandler answers liveness probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
