package http

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/docsearch/internal/http"

var (
	latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	// Uploads dominate request sizes; queries stay in the first bucket.
	sizeBuckets = []float64{1 << 10, 16 << 10, 128 << 10, 1 << 20, 4 << 20, 16 << 20, 64 << 20}
)

// HTTPMetrics records OpenTelemetry metrics for every request.
type HTTPMetrics struct {
	requests     metric.Int64Counter
	latency      metric.Float64Histogram
	requestSize  metric.Int64Histogram
	responseSize metric.Int64Histogram
	inflight     metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the request instruments on meter, or on the
// global provider when meter is nil.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}

	var m HTTPMetrics
	var errs, err error
	m.requests, err = meter.Int64Counter("docsearch.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)
	m.latency, err = meter.Float64Histogram("docsearch.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	errs = errors.Join(errs, err)
	m.requestSize, err = meter.Int64Histogram("docsearch.http.request_size_bytes",
		metric.WithDescription("HTTP request body size as declared by Content-Length"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...))
	errs = errors.Join(errs, err)
	m.responseSize, err = meter.Int64Histogram("docsearch.http.response_size_bytes",
		metric.WithDescription("HTTP response body size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...))
	errs = errors.Join(errs, err)
	m.inflight, err = meter.Int64UpDownCounter("docsearch.http.active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)

	if errs != nil {
		logger.Warn("some http instruments are unavailable", zap.Error(errs))
	}
	return &m
}

// MetricsMiddleware records each request. Handler errors have not been
// rendered when it runs, so their status comes from StatusFor.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()

			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = StatusFor(err)
			}
			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.requestSize != nil && req.ContentLength > 0 {
				m.requestSize.Record(ctx, req.ContentLength, attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// normalizePath folds the slash and no-slash forms of a route into one
// label and reports anything unrouted as "unmatched".
func normalizePath(path string) string {
	if path == "" || path == "/*" {
		return "unmatched"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
