package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetupNone(t *testing.T) {
	shutdown, err := Setup(Options{Exporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	_, err := Setup(Options{Exporter: "jaeger"})
	assert.Error(t, err)
}

func TestStdoutExporterWritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Setup(Options{Exporter: "stdout", ServiceName: "wsrpc-test", Writer: &buf})
	require.NoError(t, err)

	_, span := StartRequest(context.Background(), 1, 10020, 5, 42)
	EndRequest(span, errors.New("boom"))
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "rpc.request")
	assert.Contains(t, out, "wsrpc-test")
	assert.Contains(t, out, "boom")
}

func TestStartRequestWithNoopProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := StartRequest(context.Background(), 1, 2, 3, 4)
	assert.NotNil(t, ctx)
	EndRequest(span, nil)
}
