package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitDisabledUsesNoop(t *testing.T) {
	before := otel.GetTracerProvider()

	p, err := Init(context.Background(), Config{}, "formpilot", "test")
	require.NoError(t, err)
	assert.False(t, p.Enabled)
	assert.NoError(t, p.Shutdown(context.Background()))

	_, span := p.Tracer.Tracer("t").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.Equal(t, before, otel.GetTracerProvider(), "disabled telemetry leaves the globals alone")
}

func TestInitWithEndpointInstallsProviders(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	// Exporters connect lazily, so an unreachable collector does not fail Init.
	p, err := Init(context.Background(), Config{Endpoint: "127.0.0.1:1", Insecure: true}, "formpilot", "test")
	require.NoError(t, err)
	assert.True(t, p.Enabled)
	assert.Same(t, p.Tracer, otel.GetTracerProvider())

	_, span := p.Tracer.Tracer("t").Start(context.Background(), "real")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	// The flush cannot reach the collector; only completion within the deadline matters.
	_ = p.Shutdown(ctx)
}
