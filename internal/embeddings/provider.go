// Package embeddings turns text into fixed-length vectors through one of
// several providers: a local ONNX model (fastembed), a Text Embeddings
// Inference server, or an OpenAI-compatible API.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings for documents and queries.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the length of every vector the provider produces.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is "fastembed", "tei" or "openai".
	Provider string
	Model    string
	// BaseURL is used by the tei and openai providers.
	BaseURL string
	// APIKey is sent as a bearer token by remote providers.
	APIKey string
	// CacheDir holds downloaded fastembed models.
	CacheDir string
	// Dimension overrides the model table for remote providers.
	Dimension int
}

// Option configures NewProvider.
type Option func(*options)

type options struct {
	logger *zap.Logger
	meter  metric.Meter
	tracer trace.Tracer
}

// WithLogger sets the logger used for provider lifecycle messages.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMeter sets the meter used for embedding metrics.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithTracer sets the tracer used for embedding spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// NewProvider creates the configured provider wrapped with metrics and
// tracing. Remote providers whose model dimension is unknown are probed
// once with a short query.
func NewProvider(ctx context.Context, cfg ProviderConfig, opts ...Option) (Provider, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "fastembed", "":
		if _, err := EnsureONNXRuntime(ctx, o.logger); err != nil {
			return nil, err
		}
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "tei":
		p, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: resolveDimension(cfg),
		})
	case "openai":
		p, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: resolveDimension(cfg),
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if p.Dimension() == 0 {
		if err := probeDimension(ctx, p); err != nil {
			p.Close()
			return nil, err
		}
		o.logger.Info("detected embedding dimension",
			zap.String("model", cfg.Model),
			zap.Int("dimension", p.Dimension()))
	}

	return NewInstrumented(p, cfg.Model, o.meter, o.tracer, o.logger), nil
}

// dimensionSetter is implemented by providers whose dimension can be
// learned after construction.
type dimensionSetter interface {
	setDimension(int)
}

func probeDimension(ctx context.Context, p Provider) error {
	setter, ok := p.(dimensionSetter)
	if !ok {
		return fmt.Errorf("%w: provider reports no dimension", ErrInvalidConfig)
	}
	vec, err := p.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("probing embedding dimension: %w", err)
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: probe returned an empty vector", ErrEmbeddingFailed)
	}
	setter.setDimension(len(vec))
	return nil
}

func resolveDimension(cfg ProviderConfig) int {
	if cfg.Dimension > 0 {
		return cfg.Dimension
	}
	if dim, ok := ModelDimension(cfg.Model); ok {
		return dim
	}
	return 0
}
