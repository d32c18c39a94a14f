// Package pipeline sequences the content reader, the embedder and the vector
// repository into the ingest, query and listing operations.
//
// Ingest is all-or-nothing per stage: every file is decoded before anything
// is embedded, and every document is embedded before anything is stored.
// The pipeline keeps no state between calls and never retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/docsearch/internal/events"
	"github.com/fyrsmithlabs/docsearch/internal/reader"
	"github.com/fyrsmithlabs/docsearch/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Metadata keys written on every record.
const (
	MetaFilename   = "filename"
	MetaIngestedAt = "ingested_at"
	MetaBatchID    = "batch_id"
)

// UnknownFilename stands in for missing or empty filename metadata.
const UnknownFilename = "unknown"

// Defaults applied by New to zero Config fields.
const (
	DefaultQueryLimit   = 5
	DefaultMaxListLimit = 1000
)

var tracer = otel.Tracer("docsearch.pipeline")

// Embedder is the embedding capability the pipeline depends on.
// embeddings.Provider satisfies it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Config tunes result sizes.
type Config struct {
	// QueryLimit is the number of matches a query returns at most.
	QueryLimit int
	// MaxListLimit caps an explicit listing limit.
	MaxListLimit int
}

// IngestResult identifies a stored batch.
type IngestResult struct {
	IDs     []string
	BatchID string
}

// QueryResult is one ranked match.
type QueryResult struct {
	Filename string  `json:"filename"`
	Score    float32 `json:"score"`
	Text     string  `json:"text"`
}

// ListedDocument is one stored record as shown by listings.
type ListedDocument struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// ListOptions selects a window of the listing. Limit 0 means no limit.
type ListOptions struct {
	Offset int
	Limit  int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithPublisher sets where ingestion events go.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithClock overrides the time source used for ingested_at.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline is safe for concurrent use as long as its embedder and
// repository are.
type Pipeline struct {
	cfg       Config
	embedder  Embedder
	repo      vectorstore.Repository
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// New creates a Pipeline.
func New(cfg Config, embedder Embedder, repo vectorstore.Repository, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, errors.New("pipeline: embedder is required")
	}
	if repo == nil {
		return nil, errors.New("pipeline: repository is required")
	}
	if cfg.QueryLimit < 0 || cfg.MaxListLimit < 0 {
		return nil, fmt.Errorf("pipeline: limits must not be negative (query_limit=%d, max_list_limit=%d)", cfg.QueryLimit, cfg.MaxListLimit)
	}
	if cfg.QueryLimit == 0 {
		cfg.QueryLimit = DefaultQueryLimit
	}
	if cfg.MaxListLimit == 0 {
		cfg.MaxListLimit = DefaultMaxListLimit
	}

	p := &Pipeline{
		cfg:       cfg,
		embedder:  embedder,
		repo:      repo,
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest decodes, embeds and stores a batch of files. Nothing is stored
// unless every file decodes and embeds. Each record gets a fresh id, so
// uploading identical content twice stores it twice.
func (p *Pipeline) Ingest(ctx context.Context, files []reader.UploadedFile) (_ *IngestResult, err error) {
	ctx, span := tracer.Start(ctx, "pipeline.Ingest", trace.WithAttributes(attribute.Int("files", len(files))))
	defer endSpan(span, &err)

	if len(files) == 0 {
		return nil, InvalidRequest("ingest", "No files provided.", nil)
	}

	// Reading
	docs, err := reader.Decode(files)
	if err != nil {
		var derr *reader.DecodeError
		if errors.As(err, &derr) {
			return nil, decodeError("decode", derr)
		}
		return nil, Unexpected("decode", err)
	}
	for _, d := range docs {
		p.logger.Info("file read", zap.String("filename", d.Filename), zap.Int("bytes", len(d.Text)))
	}

	// Embedding
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, embeddingError("embed", err)
	}
	if len(vectors) != len(docs) {
		return nil, embeddingError("embed", fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs)))
	}
	for i, v := range vectors {
		if err := p.checkDimension(v); err != nil {
			return nil, embeddingError("embed", fmt.Errorf("document %q: %w", docs[i].Filename, err))
		}
	}
	p.logger.Info("document embeddings created", zap.Int("count", len(vectors)))

	// Storing
	batchID := p.newID()
	ingestedAt := p.now().UTC()
	stamp := ingestedAt.Format(time.RFC3339Nano)

	records := make([]vectorstore.Record, len(docs))
	ids := make([]string, len(docs))
	filenames := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = p.newID()
		filenames[i] = d.Filename
		records[i] = vectorstore.Record{
			ID:   ids[i],
			Text: d.Text,
			Metadata: map[string]string{
				MetaFilename:   d.Filename,
				MetaIngestedAt: stamp,
				MetaBatchID:    batchID,
			},
			Embedding: vectors[i],
		}
	}
	if err := p.repo.Add(ctx, records); err != nil {
		return nil, storeError("store", err)
	}
	p.logger.Info("documents stored", zap.String("batch_id", batchID), zap.Int("count", len(records)))
	span.SetAttributes(attribute.String("batch_id", batchID))

	// The batch is already stored; a failed notification does not fail it.
	event := events.IngestEvent{
		BatchID:    batchID,
		IDs:        ids,
		Filenames:  filenames,
		Count:      len(ids),
		IngestedAt: ingestedAt,
	}
	if perr := p.publisher.PublishIngested(ctx, event); perr != nil {
		p.logger.Warn("publishing ingest event failed", zap.String("batch_id", batchID), zap.Error(perr))
	}

	return &IngestResult{IDs: ids, BatchID: batchID}, nil
}

// Query embeds text once and returns up to QueryLimit matches, closest
// first. Score is the cosine distance, so lower is better. An empty store
// yields an empty, non-nil slice.
func (p *Pipeline) Query(ctx context.Context, text string) (_ []QueryResult, err error) {
	ctx, span := tracer.Start(ctx, "pipeline.Query")
	defer endSpan(span, &err)

	if strings.TrimSpace(text) == "" {
		return nil, InvalidRequest("query", "search_text must not be empty.", nil)
	}

	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, embeddingError("embed", err)
	}
	if err := p.checkDimension(vector); err != nil {
		return nil, embeddingError("embed", err)
	}

	matches, err := p.repo.Query(ctx, vector, p.cfg.QueryLimit)
	if err != nil {
		return nil, storeError("query", err)
	}

	results := make([]QueryResult, len(matches))
	for i, m := range matches {
		view := recordView(m.ID, m.Text, m.Metadata)
		results[i] = QueryResult{Filename: view.Filename, Score: m.Distance, Text: view.Text}
	}
	p.logger.Info("query processed", zap.Int("results", len(results)))
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// List returns stored documents ordered by ingestion time, then id, so
// repeated listings of an unchanged store are identical.
func (p *Pipeline) List(ctx context.Context, opts ListOptions) (_ []ListedDocument, err error) {
	ctx, span := tracer.Start(ctx, "pipeline.List", trace.WithAttributes(
		attribute.Int("offset", opts.Offset),
		attribute.Int("limit", opts.Limit),
	))
	defer endSpan(span, &err)

	if opts.Offset < 0 || opts.Limit < 0 {
		return nil, InvalidRequest("list", "offset and limit must not be negative.", nil)
	}
	limit := opts.Limit
	if limit > p.cfg.MaxListLimit {
		limit = p.cfg.MaxListLimit
	}

	records, err := p.repo.GetAll(ctx)
	if err != nil {
		return nil, storeError("list", err)
	}

	type sortable struct {
		at  time.Time
		doc ListedDocument
	}
	rows := make([]sortable, len(records))
	for i, r := range records {
		at, _ := time.Parse(time.RFC3339Nano, r.Metadata[MetaIngestedAt])
		rows[i] = sortable{at: at, doc: recordView(r.ID, r.Text, r.Metadata)}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].at.Equal(rows[j].at) {
			return rows[i].at.Before(rows[j].at)
		}
		return rows[i].doc.ID < rows[j].doc.ID
	})

	if opts.Offset >= len(rows) {
		rows = rows[:0]
	} else {
		rows = rows[opts.Offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	docs := make([]ListedDocument, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	p.logger.Info("database retrieval", zap.Int("documents", len(docs)), zap.Int("total", len(records)))
	return docs, nil
}

// Count reports how many records are stored.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	n, err := p.repo.Count(ctx)
	if err != nil {
		return 0, storeError("count", err)
	}
	return n, nil
}

func (p *Pipeline) checkDimension(v []float32) error {
	if dim := p.embedder.Dimension(); dim > 0 && len(v) != dim {
		return fmt.Errorf("vector has %d dimensions, expected %d", len(v), dim)
	}
	if len(v) == 0 {
		return errors.New("empty vector")
	}
	return nil
}

// recordView projects stored fields onto a listing row, substituting
// UnknownFilename when the filename is missing or empty.
func recordView(id, text string, metadata map[string]string) ListedDocument {
	filename := metadata[MetaFilename]
	if filename == "" {
		filename = UnknownFilename
	}
	return ListedDocument{ID: id, Filename: filename, Text: text}
}

func endSpan(span trace.Span, errp *error) {
	if *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, KindOf(*errp).String())
		span.SetAttributes(attribute.String("error.kind", KindOf(*errp).String()))
	}
	span.End()
}
