package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures an OpenAI-compatible embeddings client.
type OpenAIConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// OpenAIProvider embeds through langchaingo's OpenAI client. It works
// against api.openai.com and against compatible servers (vLLM, LocalAI,
// TEI's /v1 route).
type OpenAIProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	dimension atomic.Int64
}

// NewOpenAIProvider validates cfg and builds the langchaingo embedder.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}

	// langchaingo refuses an empty token; self-hosted servers ignore it.
	token := cfg.APIKey
	if token == "" {
		token = "unused"
	}

	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm, lcembeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	p := &OpenAIProvider{embedder: embedder}
	p.dimension.Store(int64(cfg.Dimension))
	return p, nil
}

// EmbedDocuments embeds texts through the embeddings endpoint.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the configured or detected vector size.
func (p *OpenAIProvider) Dimension() int {
	return int(p.dimension.Load())
}

func (p *OpenAIProvider) setDimension(d int) {
	p.dimension.Store(int64(d))
}

// Close is a no-op.
func (p *OpenAIProvider) Close() error {
	return nil
}
