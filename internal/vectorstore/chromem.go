package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const providerChromem = "chromem"

var chromemTracer = otel.Tracer("docsearch.vectorstore.chromem")

// errNoEmbeddingFunc is returned if chromem ever tries to embed on its own.
// Records always arrive with precomputed embeddings.
var errNoEmbeddingFunc = errors.New("chromem: embeddings must be precomputed")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	// A leading "~/" is expanded to the user's home directory.
	Path string

	// Compress enables gzip compression of persisted files.
	Compress bool

	// Collection is the collection holding every record.
	Collection string

	// Dimension is the embedding length. It is required because listing
	// queries the collection with a probe vector of this length.
	Dimension int
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemRepository implements Repository on top of chromem-go.
type ChromemRepository struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemRepository opens (or creates) the configured collection.
func NewChromemRepository(config ChromemConfig, logger *zap.Logger) (*ChromemRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem repository initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
		zap.Int("records", collection.Count()),
	)

	return &ChromemRepository{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger,
	}, nil
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (r *ChromemRepository) Add(ctx context.Context, records []Record) (err error) {
	ctx, span := r.start(ctx, "ChromemRepository.Add", attribute.Int("records", len(records)))
	defer r.finish(span, "add", &err)()

	if len(records) == 0 {
		return ErrEmptyRecords
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("%w: record %d has no id", ErrInvalidConfig, i)
		}
		if err := checkDimension(r.config.Dimension, rec.Embedding); err != nil {
			return err
		}
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Text,
			Metadata:  copyMetadata(rec.Metadata),
			Embedding: rec.Embedding,
		}
	}

	// Concurrency of 1: embeddings are already computed.
	if err := r.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	r.logger.Debug("added records to chromem",
		zap.String("collection", r.config.Collection),
		zap.Int("count", len(records)),
	)
	return nil
}

func (r *ChromemRepository) Query(ctx context.Context, embedding []float32, k int) (matches []Match, err error) {
	ctx, span := r.start(ctx, "ChromemRepository.Query", attribute.Int("k", k))
	defer r.finish(span, "query", &err)()

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if err := checkDimension(r.config.Dimension, embedding); err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	count := r.collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	k = min(k, count)

	results, err := r.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches = make([]Match, len(results))
	for i, res := range results {
		matches[i] = Match{
			Record:   fromChromem(res),
			Distance: 1 - res.Similarity,
		}
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

// GetAll reads the whole collection. chromem has no listing API, so this
// runs a query for every record with an axis-aligned probe vector; the
// result order is by similarity to that probe, not insertion.
func (r *ChromemRepository) GetAll(ctx context.Context) (records []Record, err error) {
	ctx, span := r.start(ctx, "ChromemRepository.GetAll")
	defer r.finish(span, "get_all", &err)()

	count := r.collection.Count()
	if count == 0 {
		return []Record{}, nil
	}

	probe := make([]float32, r.config.Dimension)
	probe[0] = 1

	results, err := r.collection.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("reading collection: %w", err)
	}

	records = make([]Record, len(results))
	for i, res := range results {
		records[i] = fromChromem(res)
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

func (r *ChromemRepository) Count(ctx context.Context) (int, error) {
	n := r.collection.Count()
	StoredRecords.WithLabelValues(providerChromem).Set(float64(n))
	return n, nil
}

// Close is a no-op: persistent chromem databases write through on every Add.
func (r *ChromemRepository) Close() error {
	return nil
}

func (r *ChromemRepository) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("collection", r.config.Collection))
	return chromemTracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish returns the deferred half of an operation: it records the error
// (if any) on the span and in Prometheus, then ends the span.
func (r *ChromemRepository) finish(span trace.Span, operation string, errp *error) func() {
	start := time.Now()
	return func() {
		observe(providerChromem, operation, start, *errp)
		if *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
	}
}

func fromChromem(res chromem.Result) Record {
	return Record{
		ID:        res.ID,
		Text:      res.Content,
		Metadata:  copyMetadata(res.Metadata),
		Embedding: res.Embedding,
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}

var _ Repository = (*ChromemRepository)(nil)
