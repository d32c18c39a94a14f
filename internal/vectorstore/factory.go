package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/docsearch/internal/config"
	"go.uber.org/zap"
)

// New creates the Repository selected by cfg.Provider:
//   - "chromem" (default): embedded, in memory unless a path is configured
//   - "qdrant": external Qdrant server over gRPC
//
// dimension is the embedder's vector length; both backends reject vectors
// of any other length.
func New(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (Repository, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemRepository(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Collection,
			Dimension:  dimension,
		}, logger)

	case "qdrant":
		return NewQdrantRepository(ctx, QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Collection,
			Dimension:  dimension,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
