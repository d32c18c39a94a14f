//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

const (
	defaultFastEmbedModel = "sentence-transformers/all-MiniLM-L6-v2"
	fastEmbedBatchSize    = 256
	fastEmbedMaxLength    = 512
)

// FastEmbedConfig configures the in-process ONNX provider.
type FastEmbedConfig struct {
	// Model defaults to sentence-transformers/all-MiniLM-L6-v2, the model
	// the service was originally tuned with.
	Model string
	// CacheDir defaults to <user cache>/docsearch/models.
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider embeds with a local ONNX model downloaded on first use.
// Calls share one session; Close waits for in-flight calls.
type FastEmbedProvider struct {
	mu        sync.RWMutex
	model     *fastembed.FlagEmbedding
	dimension int
	prefixed  bool
}

// fastEmbedModel resolves a Hugging Face name or fastembed's "fast-" alias.
func fastEmbedModel(name string) (fastembed.EmbeddingModel, bool) {
	switch strings.TrimPrefix(strings.TrimPrefix(name, "BAAI/"), "sentence-transformers/") {
	case "all-MiniLM-L6-v2", "fast-all-MiniLM-L6-v2":
		return fastembed.AllMiniLML6V2, true
	case "bge-small-en-v1.5", "fast-bge-small-en-v1.5":
		return fastembed.BGESmallENV15, true
	case "bge-small-en", "fast-bge-small-en":
		return fastembed.BGESmallEN, true
	case "bge-base-en-v1.5", "fast-bge-base-en-v1.5":
		return fastembed.BGEBaseENV15, true
	case "bge-base-en", "fast-bge-base-en":
		return fastembed.BGEBaseEN, true
	case "bge-small-zh-v1.5", "fast-bge-small-zh-v1.5":
		return fastembed.BGESmallZH, true
	}
	return "", false
}

func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	name := cfg.Model
	if name == "" {
		name = defaultFastEmbedModel
	}
	model, ok := fastEmbedModel(name)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, name)
	}
	dimension, ok := ModelDimension(name)
	if !ok {
		return nil, fmt.Errorf("%w: no known dimension for fastembed model %q", ErrInvalidConfig, name)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = modelCacheDir()
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating model cache %s: %w", cacheDir, err)
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = fastEmbedMaxLength
	}

	quiet := false
	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing FastEmbed: %w", err)
	}
	return &FastEmbedProvider{model: fe, dimension: dimension, prefixed: usesInstructionPrefixes(name)}, nil
}

func modelCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "docsearch", "models")
	}
	return filepath.Join(".", "local_cache")
}

// EmbedDocuments embeds one vector per text, in input order.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.run(ctx, func(fe *fastembed.FlagEmbedding) ([][]float32, error) {
		if p.prefixed {
			return fe.PassageEmbed(texts, fastEmbedBatchSize)
		}
		return fe.Embed(texts, fastEmbedBatchSize)
	})
}

func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.run(ctx, func(fe *fastembed.FlagEmbedding) ([][]float32, error) {
		if p.prefixed {
			v, err := fe.QueryEmbed(text)
			return [][]float32{v}, err
		}
		return fe.Embed([]string{text}, 1)
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrEmbeddingFailed)
	}
	return vectors[0], nil
}

// run calls fn under the read lock. The ONNX call itself cannot be
// cancelled, so ctx is only checked before it starts.
func (p *FastEmbedProvider) run(ctx context.Context, fn func(*fastembed.FlagEmbedding) ([][]float32, error)) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return nil, fmt.Errorf("%w: provider closed", ErrEmbeddingFailed)
	}
	vectors, err := fn(p.model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

func (p *FastEmbedProvider) Dimension() int { return p.dimension }

// Close releases the ONNX session. It is safe to call twice.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
