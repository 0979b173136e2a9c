package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProvider_Disabled(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, tp)

	// Tracer() must still work (falls back to the global no-op/default
	// provider) even when no provider was installed.
	_, span := StartSpan(context.Background(), "test", "op")
	span.End()
}

func TestInitTracerProvider_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), Config{
		Enabled: true, ServiceName: "orchestrator-test", SamplingRate: 1,
	}, recorder)
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(context.Background(), "scheduler.step")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "scheduler.step", ended[0].Name())
}
