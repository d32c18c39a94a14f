// Package http serves the ingest, query and listing endpoints over echo.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/docsearch/internal/logging"
	"github.com/fyrsmithlabs/docsearch/internal/pipeline"
	"github.com/fyrsmithlabs/docsearch/internal/reader"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Service is the pipeline as seen by the HTTP layer.
type Service interface {
	Ingest(ctx context.Context, files []reader.UploadedFile) (*pipeline.IngestResult, error)
	Query(ctx context.Context, text string) ([]pipeline.QueryResult, error)
	List(ctx context.Context, opts pipeline.ListOptions) ([]pipeline.ListedDocument, error)
	Count(ctx context.Context) (int, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// MaxBodySize bounds a whole request body in bytes. 0 disables the limit.
	MaxBodySize int64
	// MaxFileSize bounds each uploaded file in bytes. 0 disables the limit.
	MaxFileSize int64

	// RateLimit is requests per second per client IP. 0 disables limiting.
	RateLimit float64
	RateBurst int

	// APIKey, when set, is required on every route except /health.
	APIKey string
}

// Server provides the docsearch HTTP API.
type Server struct {
	echo     *echo.Echo
	service  Service
	logger   *logging.Logger
	config   *Config
	metrics  *HTTPMetrics
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the OpenTelemetry HTTP metrics recorder.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer sets the Prometheus registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new HTTP server.
func NewServer(service Service, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		service:  service,
		logger:   logger,
		config:   cfg,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(nil, logger.Underlying())
	}

	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(s.metrics.MetricsMiddleware())
	if cfg.MaxBodySize > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", cfg.MaxBodySize)))
	}
	if cfg.RateLimit > 0 {
		e.Use(s.rateLimiter())
	}
	if cfg.APIKey != "" {
		e.Use(s.keyAuth())
	}

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints. Each API route answers with
// and without its trailing slash.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	for _, path := range []string{"/ingest/", "/ingest"} {
		s.echo.POST(path, s.handleIngest)
	}
	for _, path := range []string{"/query/", "/query"} {
		s.echo.GET(path, s.handleQuery)
	}
	for _, path := range []string{"/database/", "/database"} {
		s.echo.GET(path, s.handleDatabase)
	}
}

// requestLogger puts the request id on the request context and writes one
// access log line per request. Errors are rendered before logging so the
// logged status is the one the client saw.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			if err := next(c); err != nil {
				c.Error(err)
			}

			s.logger.Info(c.Request().Context(), "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Int64("bytes_out", c.Response().Size),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

func (s *Server) rateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/health" },
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.config.RateLimit),
			Burst:     s.config.RateBurst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "Cannot identify client.")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests.")
		},
	})
}

// keyAuth accepts the key from X-API-Key or an Authorization bearer token.
func (s *Server) keyAuth() echo.MiddlewareFunc {
	want := []byte(s.config.APIKey)
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper:   func(c echo.Context) bool { return c.Path() == "/health" },
		KeyLookup: "header:X-API-Key,header:" + echo.HeaderAuthorization + ":Bearer ",
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), want) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized.")
		},
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusFor maps an error to the HTTP status the client receives.
func StatusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch pipeline.KindOf(err) {
	case pipeline.KindDecode:
		return http.StatusBadRequest
	case pipeline.KindInvalidRequest:
		if errors.Is(err, reader.ErrFileTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
		return fmt.Sprint(he.Message)
	}
	return pipeline.Message(err)
}

// handleError renders every error as {"error": "..."} and logs it once.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := StatusFor(err)
	msg := errorMessage(err)

	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("path", c.Path()),
		zap.Error(err),
	}
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		fields = append(fields, zap.String("kind", perr.Kind.String()), zap.String("op", perr.Op))
	}
	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", fields...)
	} else {
		s.logger.Warn(ctx, "request rejected", fields...)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Error(ctx, "writing error response", zap.Error(err))
	}
}

// Handler exposes the echo instance, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops.
// http.ErrServerClosed is returned after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

func isMultipartContent(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}
