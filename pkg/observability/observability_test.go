package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "weft-core", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Disabled provider must be callable without panics.
	ctx, finish := p.TrackOperation(context.Background(), "noop",
		attribute.String("intent.type", "test"))
	require.NotNil(t, ctx)
	finish(errors.New("recorded nowhere"))

	p.RecordRequest(context.Background())
	p.RecordError(context.Background(), errors.New("x"))
	p.RecordDuration(context.Background(), time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestTrackOperationReturnsFinish(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackOperation(context.Background(), "execute")
	require.NotNil(t, finish)
	finish(nil)
}

func TestTracerAndMeterFallbacks(t *testing.T) {
	p := &Provider{}
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}
