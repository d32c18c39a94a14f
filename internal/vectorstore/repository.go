// Package vectorstore stores document records together with their
// embeddings and answers nearest-neighbour queries over them.
//
// Two backends are provided: chromem-go, an embedded store that runs in
// memory or persists to a directory, and Qdrant over its native gRPC API.
// Both report cosine distance (1 - cosine similarity), so lower is closer.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyRecords is returned by Add when called with no records.
	ErrEmptyRecords = errors.New("no records to add")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrInvalidCollectionName indicates a collection name that fails validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the store's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Record is one stored document.
type Record struct {
	ID        string
	Text      string
	Metadata  map[string]string
	Embedding []float32
}

// Match is a query hit.
type Match struct {
	Record
	// Distance is the cosine distance to the query embedding.
	Distance float32
}

// Repository is the storage capability the pipeline depends on.
type Repository interface {
	// Add stores all records or none of them from the caller's point of view.
	Add(ctx context.Context, records []Record) error

	// Query returns up to k matches in ascending distance order. k is capped
	// at the number of stored records; an empty store yields an empty slice.
	Query(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// GetAll returns every stored record in no particular order.
	GetAll(ctx context.Context) ([]Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	Close() error
}

func checkDimension(dim int, embedding []float32) error {
	if dim > 0 && len(embedding) != dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(embedding))
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
