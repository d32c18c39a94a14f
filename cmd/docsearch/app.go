package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docsearch/internal/config"
	"github.com/fyrsmithlabs/docsearch/internal/embeddings"
	"github.com/fyrsmithlabs/docsearch/internal/events"
	dhttp "github.com/fyrsmithlabs/docsearch/internal/http"
	"github.com/fyrsmithlabs/docsearch/internal/logging"
	"github.com/fyrsmithlabs/docsearch/internal/mcp"
	"github.com/fyrsmithlabs/docsearch/internal/pipeline"
	"github.com/fyrsmithlabs/docsearch/internal/telemetry"
	"github.com/fyrsmithlabs/docsearch/internal/vectorstore"
)

// app holds every long-lived component. It is built once per process
// and handed to the HTTP or MCP surface.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	tel       *telemetry.Telemetry
	embedder  embeddings.Provider
	repo      vectorstore.Repository
	publisher events.Publisher
	pipeline  *pipeline.Pipeline
}

// newLogger builds the process logger. stream is "stdout" or "stderr".
func newLogger(cfg *config.Config, stream string) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	logCfg.Output.Stream = stream
	logCfg.Output.OTEL = cfg.Telemetry.Enabled
	logCfg.Fields["version"] = version
	return logging.NewLogger(logCfg, global.GetLoggerProvider())
}

// newApp initializes dependencies in order:
//  1. telemetry
//  2. embedding provider (its dimension sizes the collection)
//  3. vector repository
//  4. optional NATS publisher
//  5. pipeline
//
// Everything created before a failure is closed again.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, publisher: events.Nop{}}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.tel, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if h := a.tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded, using global providers", zap.Strings("problems", h.Problems))
	}

	zl := logger.Underlying()
	a.embedder, err = embeddings.NewProvider(ctx, embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		CacheDir:  cfg.Embeddings.CacheDir,
		Dimension: cfg.Embeddings.Dimension,
	},
		embeddings.WithLogger(zl.Named("embeddings")),
		embeddings.WithMeter(a.tel.Meter("docsearch.embeddings")),
		embeddings.WithTracer(a.tel.Tracer("docsearch.embeddings")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	logger.Info(ctx, "embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", a.embedder.Dimension()))

	a.repo, err = vectorstore.New(ctx, cfg.VectorStore, a.embedder.Dimension(), zl.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	logger.Info(ctx, "vector store initialized",
		zap.String("provider", cfg.VectorStore.Provider),
		zap.String("collection", cfg.VectorStore.Collection))

	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, zl.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.publisher = pub
		logger.Info(ctx, "publishing ingest events", zap.String("subject", pub.Subject()))
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		QueryLimit:   cfg.Pipeline.QueryLimit,
		MaxListLimit: cfg.Pipeline.MaxListLimit,
	}, a.embedder, a.repo,
		pipeline.WithLogger(zl.Named("pipeline")),
		pipeline.WithPublisher(a.publisher),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) httpServer() (*dhttp.Server, error) {
	s := a.cfg.Server
	return dhttp.NewServer(a.pipeline, a.logger, &dhttp.Config{
		Host:        s.Host,
		Port:        s.Port,
		MaxBodySize: s.MaxBodySize.Int64(),
		MaxFileSize: s.MaxFileSize.Int64(),
		RateLimit:   s.RateLimit,
		RateBurst:   s.RateBurst,
		APIKey:      s.APIKey.Value(),
	}, dhttp.WithMetrics(dhttp.NewHTTPMetrics(a.tel.Meter("docsearch.http"), a.logger.Underlying())))
}

func (a *app) mcpServer() (*mcp.Server, error) {
	zl := a.logger.Underlying().Named("mcp")
	return mcp.NewServer(&mcp.Config{
		Name:    "docsearch",
		Version: version,
		Logger:  zl,
		Metrics: mcp.NewMetrics(a.tel.Meter("docsearch.mcp"), zl),
	}, a.pipeline)
}

// Close releases resources in reverse order of creation.
func (a *app) Close(ctx context.Context) {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn(ctx, "closing event publisher", zap.Error(err))
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Warn(ctx, "closing vector store", zap.Error(err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			a.logger.Warn(ctx, "closing embedding provider", zap.Error(err))
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
}

// runServe starts the HTTP server and blocks until ctx is cancelled or
// the server fails.
func runServe(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, "stdout")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting docsearch",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout),
		logging.Secret("server_api_key", cfg.Server.APIKey))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	srv, err := a.httpServer()
	if err != nil {
		return err
	}
	return serveUntilDone(ctx, srv, cfg.Server.ShutdownTimeout, logger)
}

type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

func serveUntilDone(ctx context.Context, srv httpServer, timeout time.Duration, logger *logging.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "server shutdown error", zap.Error(err))
		return err
	}

	logger.Info(shutdownCtx, "server stopped gracefully")
	return nil
}

// runMCP serves MCP on stdio. stdout carries the protocol, so logs go to
// stderr.
func runMCP(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, "stderr")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	srv, err := a.mcpServer()
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info(ctx, "mcp server stopped")
	return nil
}
