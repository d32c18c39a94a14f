package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/docsearch/internal/embeddings"

// Metrics holds embedding instruments. A nil *Metrics records nothing.
type Metrics struct {
	duration metric.Float64Histogram
	texts    metric.Int64Counter
	batch    metric.Int64Histogram
	failures metric.Int64Counter
}

// NewMetrics registers the embedding instruments on meter, or on the
// global provider when meter is nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var m Metrics
	var errs, err error
	m.duration, err = meter.Float64Histogram("docsearch.embedding.duration_seconds",
		metric.WithDescription("Embedding call latency by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	errs = errors.Join(errs, err)
	m.texts, err = meter.Int64Counter("docsearch.embedding.texts_total",
		metric.WithDescription("Texts sent to the embedding model"),
		metric.WithUnit("{text}"))
	errs = errors.Join(errs, err)
	// Ingest batches are one text per uploaded file.
	m.batch, err = meter.Int64Histogram("docsearch.embedding.batch_size",
		metric.WithDescription("Texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250))
	errs = errors.Join(errs, err)
	m.failures, err = meter.Int64Counter("docsearch.embedding.errors_total",
		metric.WithDescription("Failed embedding calls by model and operation"),
		metric.WithUnit("{error}"))
	errs = errors.Join(errs, err)

	if errs != nil {
		logger.Warn("some embedding instruments are unavailable", zap.Error(errs))
	}
	return &m
}

// Record records one embedding call over n texts.
func (m *Metrics) Record(ctx context.Context, model, operation string, elapsed time.Duration, n int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if err != nil {
		if m.failures != nil {
			m.failures.Add(ctx, 1, attrs)
		}
		return
	}
	if n > 0 {
		if m.texts != nil {
			m.texts.Add(ctx, int64(n), attrs)
		}
		if m.batch != nil {
			m.batch.Record(ctx, int64(n), attrs)
		}
	}
}
