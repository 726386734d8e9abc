package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/rowpack/pkg/config"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

func TestInitTracingDisabled(t *testing.T) {
	require.NoError(t, InitTracing(context.Background(), config.TracingConfig{}))
	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
	require.NoError(t, Shutdown(context.Background()))
}

func TestInitTracingExportsSpans(t *testing.T) {
	var out bytes.Buffer
	cfg := config.TracingConfig{Enabled: true, ServiceName: "rowpack-test"}
	require.NoError(t, InitTracing(context.Background(), cfg, WithWriter(&out)))

	_, span := StartSpan(context.Background(), "rowfile.save", attribute.Int("rows", 3))
	assert.True(t, span.IsRecording())
	EndSpan(span, nil)

	require.NoError(t, Shutdown(context.Background()))
	assert.Contains(t, out.String(), "rowfile.save")
	assert.Contains(t, out.String(), "rowpack-test")

	_, span = StartSpan(context.Background(), "after")
	assert.False(t, span.IsRecording(), "shutdown restores a no-op provider")
	span.End()
}

func TestEndSpanRecordsError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "load")
	EndSpan(span, rowerrors.New(rowerrors.ErrorTypeFormat, "bad magic"))

	_, span = tp.Tracer("test").Start(context.Background(), "plain")
	EndSpan(span, errors.New("boom"))

	ended := sr.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("error.type", "format"))
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "exception", ended[0].Events()[0].Name)

	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.NotContains(t, ended[1].Attributes(), attribute.String("error.type", ""))
}

func TestShutdownWithoutInit(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background()))
}
