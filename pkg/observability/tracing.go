package observability

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/relay/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/relay"

// Tracer returns the relay tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span under ctx
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", string(errors.TypeOf(err))))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AdapterTracer names spans after an adapter
type AdapterTracer struct {
	adapterType string
	kind        string
}

// NewAdapterTracer creates a tracer for one adapter type
func NewAdapterTracer(adapterType, kind string) *AdapterTracer {
	return &AdapterTracer{adapterType: adapterType, kind: kind}
}

// Trace runs fn inside a span named "<kind>.<type>.<operation>"
func (t *AdapterTracer) Trace(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := StartSpan(ctx, fmt.Sprintf("%s.%s.%s", t.kind, t.adapterType, operation),
		attribute.String("adapter.type", t.adapterType),
		attribute.String("adapter.kind", t.kind),
		attribute.String("adapter.operation", operation),
	)
	err := fn(ctx)
	EndSpan(span, err)
	return err
}
