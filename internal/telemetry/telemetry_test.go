package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitProvider_WithoutEndpoint(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), Config{ServiceName: "bazaar"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	fields := otel.GetTextMapPropagator().Fields()
	require.Contains(t, fields, "traceparent")
	require.Contains(t, fields, "baggage")
}

func TestSampler(t *testing.T) {
	require.True(t, strings.Contains(Sampler(1).Description(), "AlwaysOnSampler"))
	require.True(t, strings.Contains(Sampler(0).Description(), "AlwaysOffSampler"))
	require.True(t, strings.Contains(Sampler(0.25).Description(), "TraceIDRatioBased{0.25}"))
}
