// Package http serves the digital twin over a JSON and SSE API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/logging"
	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
	"github.com/fyrsmithlabs/digitaltwin/internal/retriever"
)

// Service is the query pipeline the server exposes.
type Service interface {
	IsReady() bool
	Search(ctx context.Context, query string, opts rag.SearchOptions) ([]retriever.Result, error)
	QueryWithResponse(ctx context.Context, query string, opts rag.QueryOptions) (*rag.QueryResult, error)
	StreamQuery(ctx context.Context, query string, opts rag.QueryOptions, emit func(rag.Event) error) error
	GenerateFollowUpQuestion(ctx context.Context, req rag.FollowUpRequest) (string, error)
	GenerateInitialFollowUp(ctx context.Context, topic string) (string, error)
	SystemInfo(ctx context.Context) rag.SystemInfo
	Reset(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	AllowOrigins    []string
}

// Option configures a Server.
type Option func(*Server)

// WithMCPHandler mounts an MCP streamable HTTP handler at /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithMetrics records otel HTTP metrics for every request.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server provides HTTP endpoints for the digital twin.
type Server struct {
	echo    *echo.Echo
	service Service
	logger  *zap.Logger
	config  *Config
	mcp     http.Handler
	metrics *HTTPMetrics
	now     func() time.Time
}

// NewServer creates a new HTTP server.
func NewServer(service Service, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"*"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger,
		config:  cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions, http.MethodDelete},
	}))
	e.Use(middleware.BodyLimit("1M"))
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	})

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/query", s.handleQuery)
	v1.POST("/query/stream", s.handleQueryStream)
	v1.POST("/follow-up", s.handleFollowUp)
	v1.POST("/follow-up/initial", s.handleInitialFollowUp)
	v1.GET("/status", s.handleStatus)
	v1.POST("/reset", s.handleReset)

	if s.mcp != nil {
		h := echo.WrapHandler(s.mcp)
		s.echo.Any("/mcp", h)
		s.echo.Any("/mcp/*", h)
	}
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully. It
// returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
