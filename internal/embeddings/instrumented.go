package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Instrumented decorates a Provider with spans and metrics.
type Instrumented struct {
	next    Provider
	model   string
	metrics *Metrics
	tracer  trace.Tracer
}

// NewInstrumented wraps next. A nil meter or tracer falls back to the
// global providers.
func NewInstrumented(next Provider, model string, meter metric.Meter, tracer trace.Tracer, logger *zap.Logger) *Instrumented {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &Instrumented{
		next:    next,
		model:   model,
		metrics: NewMetrics(meter, logger),
		tracer:  tracer,
	}
}

func (i *Instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := i.tracer.Start(ctx, "embeddings.EmbedDocuments", trace.WithAttributes(
		attribute.String("model", i.model),
		attribute.Int("batch_size", len(texts)),
	))
	defer span.End()

	start := time.Now()
	vectors, err := i.next.EmbedDocuments(ctx, texts)
	i.metrics.Record(ctx, i.model, "embed_documents", time.Since(start), len(texts), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return vectors, err
}

func (i *Instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, span := i.tracer.Start(ctx, "embeddings.EmbedQuery", trace.WithAttributes(
		attribute.String("model", i.model),
	))
	defer span.End()

	start := time.Now()
	vector, err := i.next.EmbedQuery(ctx, text)
	i.metrics.Record(ctx, i.model, "embed_query", time.Since(start), 1, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return vector, err
}

func (i *Instrumented) Dimension() int { return i.next.Dimension() }

func (i *Instrumented) Close() error { return i.next.Close() }
