package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docsearch/internal/pipeline"
)

const instrumentationName = "github.com/fyrsmithlabs/docsearch/internal/mcp"

var toolLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics records tool calls. Instruments that fail to register are left
// nil and skipped.
type Metrics struct {
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	failures metric.Int64Counter
	inflight metric.Int64UpDownCounter
}

// NewMetrics registers the tool instruments on meter, or on the global
// provider when meter is nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var m Metrics
	var errs, err error
	m.calls, err = meter.Int64Counter("docsearch.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls"),
		metric.WithUnit("{invocation}"))
	errs = errors.Join(errs, err)
	m.latency, err = meter.Float64Histogram("docsearch.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(toolLatencyBuckets...))
	errs = errors.Join(errs, err)
	m.failures, err = meter.Int64Counter("docsearch.mcp.tool.errors_total",
		metric.WithDescription("MCP tool calls that returned an error, by error kind"),
		metric.WithUnit("{error}"))
	errs = errors.Join(errs, err)
	m.inflight, err = meter.Int64UpDownCounter("docsearch.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)

	if errs != nil {
		logger.Warn("some mcp instruments are unavailable", zap.Error(errs))
	}
	return &m
}

// RecordInvocation records one finished call. A non-nil err is also
// counted under its pipeline kind.
func (m *Metrics) RecordInvocation(ctx context.Context, tool string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, elapsed.Seconds(), attrs)
	}
	if err != nil && m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("kind", pipeline.KindOf(err).String()),
		))
	}
}

// track marks a call in flight and returns the func that completes it.
func (m *Metrics) track(ctx context.Context, tool string) func(error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, attrs)
		}
		m.RecordInvocation(ctx, tool, time.Since(start), err)
	}
}
