package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer and meter providers installed for the process.
// An exporter that cannot be built leaves its provider unset; accessors then
// return the global provider and Health reports the problem.
type Telemetry struct {
	config   *Config
	tracers  *trace.TracerProvider
	meters   *sdkmetric.MeterProvider
	problems []error
}

// HealthStatus describes the telemetry pipeline state.
type HealthStatus struct {
	Enabled  bool
	Degraded bool
	Problems []string
}

// New builds the providers described by cfg and installs them globally
// together with the W3C trace-context and baggage propagators. It fails
// only on invalid config.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)
	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.problems = append(t.problems, fmt.Errorf("tracer provider: %w", err))
	} else {
		t.tracers = tp
		otel.SetTracerProvider(tp)
	}
	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		t.problems = append(t.problems, fmt.Errorf("meter provider: %w", err))
	} else {
		t.meters = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracers == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracers.Tracer(name, opts...)
}

func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meters == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meters.Meter(name, opts...)
}

// Health reports whether telemetry is on and which providers failed.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{}
	}
	st := HealthStatus{
		Enabled:  t.config != nil && t.config.Enabled,
		Degraded: len(t.problems) > 0,
	}
	for _, p := range t.problems {
		st.Problems = append(st.Problems, p.Error())
	}
	return st
}

// Shutdown flushes pending spans and metrics. Without a deadline on ctx
// the configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout)
		defer cancel()
	}

	var errs error
	if t.tracers != nil {
		if err := t.tracers.Shutdown(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meters != nil {
		if err := t.meters.Shutdown(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errs
}
