package mcp

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/docsearch/internal/pipeline"
	"github.com/fyrsmithlabs/docsearch/internal/reader"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Service is the pipeline as seen by the MCP tools.
type Service interface {
	Ingest(ctx context.Context, files []reader.UploadedFile) (*pipeline.IngestResult, error)
	Query(ctx context.Context, text string) ([]pipeline.QueryResult, error)
	List(ctx context.Context, opts pipeline.ListOptions) ([]pipeline.ListedDocument, error)
}

// Server is an MCP server backed by the document pipeline.
type Server struct {
	mcp     *mcp.Server
	service Service
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "docsearch")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging. MCP on stdio owns stdout, so this
	// must write elsewhere.
	Logger *zap.Logger

	// Metrics records tool invocations. Defaults to the global meter.
	Metrics *Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "docsearch",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server with the document tools registered.
func NewServer(cfg *Config, service Service) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if service == nil {
		return nil, fmt.Errorf("pipeline service is required")
	}
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil, cfg.Logger)
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		service: service,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	return s.Serve(ctx, &mcp.StdioTransport{})
}

// Serve serves MCP on an arbitrary transport.
func (s *Server) Serve(ctx context.Context, transport mcp.Transport) error {
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
