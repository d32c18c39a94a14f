package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const providerQdrant = "qdrant"

// Payload keys. Metadata is nested under its own key so it never collides
// with the text field.
const (
	payloadText     = "text"
	payloadMetadata = "metadata"
)

// scrollPageSize bounds each scroll round trip in GetAll.
const scrollPageSize = 256

var qdrantTracer = otel.Tracer("docsearch.vectorstore.qdrant")

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
// Rejects uppercase, special chars, path separators and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the REST port.
	Port int

	APIKey string
	UseTLS bool

	// Collection is created with cosine distance when missing.
	Collection string

	// Dimension is the vector size of the collection.
	Dimension int

	// MaxRetries is the maximum number of retry attempts for transient
	// gRPC failures. Default: 2
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on each retry.
	// Default: 200ms
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantRepository implements Repository using Qdrant's native gRPC client.
type QdrantRepository struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantRepository connects to Qdrant, checks its health and makes sure
// the collection exists.
func NewQdrantRepository(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	repo := &QdrantRepository{client: client, config: config, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := repo.healthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := repo.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant repository initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
	)
	return repo, nil
}

func (r *QdrantRepository) healthCheck(ctx context.Context) (err error) {
	ctx, span := r.start(ctx, "QdrantRepository.HealthCheck")
	defer r.finish(span, "health_check", &err)()

	if _, err := r.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (r *QdrantRepository) ensureCollection(ctx context.Context) (err error) {
	ctx, span := r.start(ctx, "QdrantRepository.EnsureCollection")
	defer r.finish(span, "ensure_collection", &err)()

	var exists bool
	err = r.retry(ctx, "collection_exists", func() error {
		var err error
		exists, err = r.client.CollectionExists(ctx, r.config.Collection)
		return err
	})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", r.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = r.retry(ctx, "create_collection", func() error {
		return r.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: r.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(r.config.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", r.config.Collection, err)
	}
	r.logger.Info("created qdrant collection", zap.String("collection", r.config.Collection))
	return nil
}

func (r *QdrantRepository) Add(ctx context.Context, records []Record) (err error) {
	ctx, span := r.start(ctx, "QdrantRepository.Add", attribute.Int("records", len(records)))
	defer r.finish(span, "add", &err)()

	if len(records) == 0 {
		return ErrEmptyRecords
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("%w: record %d has no id", ErrInvalidConfig, i)
		}
		if err := checkDimension(r.config.Dimension, rec.Embedding); err != nil {
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: toPayload(rec),
		}
	}

	// Wait makes the batch visible to the next query.
	err = r.retry(ctx, "upsert", func() error {
		_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: r.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}
	return nil
}

func (r *QdrantRepository) Query(ctx context.Context, embedding []float32, k int) (matches []Match, err error) {
	ctx, span := r.start(ctx, "QdrantRepository.Query", attribute.Int("k", k))
	defer r.finish(span, "query", &err)()

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if err := checkDimension(r.config.Dimension, embedding); err != nil {
		return nil, err
	}

	var points []*qdrant.ScoredPoint
	err = r.retry(ctx, "query", func() error {
		var err error
		points, err = r.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: r.config.Collection,
			Query:          qdrant.NewQuery(embedding...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	matches = make([]Match, len(points))
	for i, p := range points {
		matches[i] = Match{
			Record:   fromPayload(p.GetId(), p.GetPayload(), p.GetVectors()),
			Distance: 1 - p.GetScore(),
		}
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

func (r *QdrantRepository) GetAll(ctx context.Context) (records []Record, err error) {
	ctx, span := r.start(ctx, "QdrantRepository.GetAll")
	defer r.finish(span, "get_all", &err)()

	records = []Record{}
	var offset *qdrant.PointId
	for {
		var (
			page []*qdrant.RetrievedPoint
			next *qdrant.PointId
		)
		err = r.retry(ctx, "scroll", func() error {
			var err error
			page, next, err = r.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: r.config.Collection,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
				WithPayload:    qdrant.NewWithPayload(true),
				WithVectors:    qdrant.NewWithVectors(true),
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("scrolling points: %w", err)
		}
		for _, p := range page {
			records = append(records, fromPayload(p.GetId(), p.GetPayload(), p.GetVectors()))
		}
		if next == nil {
			break
		}
		offset = next
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

func (r *QdrantRepository) Count(ctx context.Context) (n int, err error) {
	ctx, span := r.start(ctx, "QdrantRepository.Count")
	defer r.finish(span, "count", &err)()

	var total uint64
	err = r.retry(ctx, "count", func() error {
		var err error
		total, err = r.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: r.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	StoredRecords.WithLabelValues(providerQdrant).Set(float64(total))
	return int(total), nil
}

// Close closes the gRPC connection.
func (r *QdrantRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// retry runs op, retrying transient gRPC failures with exponential backoff.
func (r *QdrantRepository) retry(ctx context.Context, name string, op func() error) error {
	backoff := r.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		if attempt >= r.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, r.config.MaxRetries, err)
		}
		r.logger.Debug("retrying qdrant operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (r *QdrantRepository) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("collection", r.config.Collection))
	return qdrantTracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (r *QdrantRepository) finish(span trace.Span, operation string, errp *error) func() {
	start := time.Now()
	return func() {
		observe(providerQdrant, operation, start, *errp)
		if *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
	}
}

func toPayload(rec Record) map[string]*qdrant.Value {
	fields := make(map[string]*qdrant.Value, len(rec.Metadata))
	for k, v := range rec.Metadata {
		fields[k] = stringValue(v)
	}
	return map[string]*qdrant.Value{
		payloadText: stringValue(rec.Text),
		payloadMetadata: {
			Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func fromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) Record {
	rec := Record{
		ID:       id.GetUuid(),
		Text:     payload[payloadText].GetStringValue(),
		Metadata: map[string]string{},
	}
	for k, v := range payload[payloadMetadata].GetStructValue().GetFields() {
		rec.Metadata[k] = v.GetStringValue()
	}
	if vec := vectors.GetVector(); vec != nil {
		rec.Embedding = vec.GetData()
	}
	return rec
}

var _ Repository = (*QdrantRepository)(nil)
