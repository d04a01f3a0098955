// Package api serves the dispatch-auth REST API under /api/v1.
//
//	server, err := api.New(deps)
//	if err := server.Start(ctx); err != nil { ... }
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/dispatch-auth/internal/audit"
	"github.com/nerrad567/dispatch-auth/internal/auth"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/config"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
)

const gracefulShutdownTimeout = 10 * time.Second

var errNotStarted = errors.New("api: server not started")

// AuditLister serves pages of the audit trail.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Manager *auth.Manager
	// Audit is optional; without it GET /admin/audit returns 500.
	Audit AuditLister
	// Checks are reported by /health, keyed by component name.
	Checks  map[string]HealthChecker
	Version string
}

// Server owns the HTTP listener for the auth API.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	manager *auth.Manager
	issuer  *auth.Issuer
	audit   AuditLister
	checks  map[string]HealthChecker
	version string
	server  *http.Server
}

// New validates deps. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Manager == nil:
		return nil, errors.New("api: session manager is required")
	case deps.Manager.Issuer() == nil:
		return nil, errors.New("api: token issuer is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		manager: deps.Manager,
		issuer:  deps.Manager.Issuer(),
		audit:   deps.Audit,
		checks:  deps.Checks,
		version: deps.Version,
	}, nil
}

// Handler returns the fully wired router. Start uses it; tests can serve it
// through httptest without opening a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener, then serves in a background goroutine. Bind
// failures are returned here rather than logged later.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadDuration(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadDuration(),
		WriteTimeout:      s.cfg.Timeouts.WriteDuration(),
		IdleTimeout:       s.cfg.Timeouts.IdleDuration(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.server.Addr, err)
	}

	tlsOn := s.cfg.TLS.Enabled
	s.logger.Info("api listening", "address", ln.Addr().String(), "tls", tlsOn)
	go func() {
		var serveErr error
		if tlsOn {
			serveErr = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			serveErr = s.server.Serve(ln)
		}
		if !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server stopped", "error", serveErr)
		}
	}()
	return nil
}

// Close drains in-flight requests for up to gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("api shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has succeeded.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.server == nil {
		return errNotStarted
	}
	return nil
}
