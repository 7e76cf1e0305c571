// Package telemetry wraps the OpenTelemetry API. Without an installed SDK the
// global providers are no-ops, so instrumentation costs nothing by default.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/animus-labs/launchpad"

func Tracer(component string) trace.Tracer {
	return otel.Tracer(scopeName + "/" + component)
}

func Meter(component string) metric.Meter {
	return otel.Meter(scopeName + "/" + component)
}

// Operations counts, times and traces one family of named operations,
// e.g. initialization steps or queue jobs.
type Operations struct {
	prefix string
	tracer trace.Tracer
	ops    metric.Int64Counter
	errs   metric.Int64Counter
	dur    metric.Float64Histogram
}

func NewOperations(component, prefix string) *Operations {
	m := Meter(component)
	ops, _ := m.Int64Counter("launchpad."+prefix+".operations",
		metric.WithDescription("Total "+prefix+" operations executed"),
	)
	errs, _ := m.Int64Counter("launchpad."+prefix+".errors",
		metric.WithDescription("Total "+prefix+" operations that failed"),
	)
	dur, _ := m.Float64Histogram("launchpad."+prefix+".duration",
		metric.WithDescription(prefix+" operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Operations{
		prefix: prefix,
		tracer: Tracer(component),
		ops:    ops,
		errs:   errs,
		dur:    dur,
	}
}

// Start opens a span for name. The returned func ends it and records the outcome.
func (o *Operations) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if o == nil {
		return ctx, func(error) {}
	}
	all := append([]attribute.KeyValue{attribute.String("launchpad.operation", name)}, attrs...)
	ctx, span := o.tracer.Start(ctx, o.prefix+"."+name, trace.WithAttributes(all...))
	if o.ops != nil {
		o.ops.Add(ctx, 1, metric.WithAttributes(all...))
	}
	start := time.Now()
	return ctx, func(err error) {
		if o.dur != nil {
			o.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(all...))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if o.errs != nil {
				o.errs.Add(ctx, 1, metric.WithAttributes(all...))
			}
		}
		span.End()
	}
}
