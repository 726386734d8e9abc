// Package observability wires OpenTelemetry tracing for rowpack.
//
// Tracing is off until InitTracing installs an SDK provider; before that,
// Tracer returns the global no-op tracer and spans cost nothing.
package observability

import (
	"context"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ajitpratap0/rowpack/pkg/config"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// InstrumentationName names the tracer used by rowpack packages.
const InstrumentationName = "github.com/ajitpratap0/rowpack"

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

type options struct {
	writer io.Writer
}

// Option configures InitTracing.
type Option func(*options)

// WithWriter sends exported spans to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// InitTracing installs an SDK tracer provider exporting to stdout. It does
// nothing when cfg.Enabled is false. A provider installed by an earlier call is
// shut down first.
func InitTracing(ctx context.Context, cfg config.TracingConfig, opts ...Option) error {
	if !cfg.Enabled {
		return nil
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "rowpack"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(name)),
	)
	if err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeConfig, "failed to create trace resource")
	}

	var exporterOpts []stdouttrace.Option
	if cfg.Pretty {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	if o.writer != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(o.writer))
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeConfig, "failed to create stdout exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)

	mu.Lock()
	prev := provider
	provider = tp
	mu.Unlock()

	if prev != nil {
		_ = prev.Shutdown(ctx)
	}
	otel.SetTracerProvider(tp)
	return nil
}

// Shutdown flushes pending spans and restores a no-op provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	if err := tp.Shutdown(ctx); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to shut down tracer provider")
	}
	return nil
}

// Tracer returns rowpack's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span named name with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if t := rowerrors.TypeOf(err); t != "" {
			span.SetAttributes(attribute.String("error.type", string(t)))
		}
	}
	span.End()
}
