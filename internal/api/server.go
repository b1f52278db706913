package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/netutil"

	mw "github.com/tphakala/safetynet-go/internal/api/middleware"
	v1 "github.com/tphakala/safetynet-go/internal/api/v1"
	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/logger"
	"github.com/tphakala/safetynet-go/internal/observability"
)

// healthCheckTimeout bounds every dependency check of /health.
const healthCheckTimeout = 2 * time.Second

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Server is the HTTP server of SafetyNet.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	metrics *observability.Metrics
	deps    v1.Dependencies
	checks  map[string]HealthCheck

	apiController *v1.Controller

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	listener  net.Listener
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics serves metrics on /metrics and records request and SSE statistics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDependencies sets the components served by the v1 API.
func WithDependencies(deps v1.Dependencies) ServerOption {
	return func(s *Server) {
		s.deps = deps
	}
}

// WithHealthCheck adds a dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithConfig replaces the configuration derived from settings.
func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:    ConfigFromSettings(settings),
		settings:  settings,
		checks:    make(map[string]HealthCheck),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.config.Validate(); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if s.log == nil {
		s.log = logger.NewDiscardLogger()
	}
	s.log = s.log.Module("api")

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = s.config.Debug

	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout
	// Request contexts derive from the server context so that shutdown ends
	// open event streams.
	s.echo.Server.BaseContext = func(net.Listener) context.Context { return s.ctx }

	s.setupMiddleware()

	if err := s.setupRoutes(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.log.Info("HTTP server initialized",
		logger.String("listen", s.config.Listen),
		logger.Bool("auth", s.config.Token != ""),
		logger.Bool("debug", s.config.Debug))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	if s.metrics != nil {
		s.echo.Use(mw.NewRequestMetrics(s.metrics.HTTP))
	}

	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/health" || c.Path() == "/metrics"
	}))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewGzip())
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	s.echo.GET("/health", s.healthCheck)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler(s.log)))
	}

	deps := s.deps
	if deps.Logger == nil {
		deps.Logger = s.log
	}
	if deps.SSE == nil && s.metrics != nil {
		deps.SSE = s.metrics.HTTP
	}
	if deps.UserID == "" && s.settings != nil {
		deps.UserID = s.settings.User.ID
	}

	controller, err := v1.New(s.echo, deps, mw.NewTokenAuth(s.config.Token))
	if err != nil {
		return fmt.Errorf("failed to initialize API v1: %w", err)
	}
	s.apiController = controller
	return nil
}

// healthCheck reports uptime and the state of every registered dependency.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":         status,
		"checks":         checks,
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.metrics != nil {
		body["sse_connections"] = s.metrics.HTTP.ActiveSSEConnections()
	}
	return c.JSON(code, body)
}

// Listen binds the configured address. It is called by Run when needed and is
// exposed so callers can learn the bound address before serving.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	s.listener = ln
	s.echo.Listener = ln
	return ln.Addr(), nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	s.log.Info("HTTP server starting", logger.String("address", addr.String()))

	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr.String())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown ends open event streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.log.Info("HTTP server shutdown complete")
	return nil
}

// APIController returns the v1 API controller.
func (s *Server) APIController() *v1.Controller {
	return s.apiController
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
