package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))

	_, span := otel.Tracer("test").Start(ctx, "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestSetupWithEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{Endpoint: "http://127.0.0.1:1", Insecure: true})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "recorded")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	// Nothing listens on the endpoint; shutdown must still return.
	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = shutdown(shutdownCtx)

	_, err = Setup(ctx, Config{})
	require.NoError(t, err)
}
