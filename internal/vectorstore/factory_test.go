package vectorstore_test

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/docsearch/internal/config"
	"github.com/fyrsmithlabs/docsearch/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToInMemoryChromem(t *testing.T) {
	cfg := config.Default().VectorStore

	repo, err := vectorstore.New(context.Background(), cfg, 384, nil)
	require.NoError(t, err)
	defer repo.Close()

	_, ok := repo.(*vectorstore.ChromemRepository)
	assert.True(t, ok)

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNew_UnsupportedProvider(t *testing.T) {
	cfg := config.Default().VectorStore
	cfg.Provider = "pinecone"

	_, err := vectorstore.New(context.Background(), cfg, 384, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}
