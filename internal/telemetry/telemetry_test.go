package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("KB_OTEL_ENABLED", "")
	require.False(t, Enabled())
	require.NoError(t, Init(context.Background(), "kb", "test"))

	_, span := Tracer("").Start(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()
	Shutdown(context.Background())
}

func TestInitEnabled(t *testing.T) {
	t.Setenv("KB_OTEL_ENABLED", "true")
	t.Setenv("KB_OTEL_STDOUT", "")
	require.NoError(t, Init(context.Background(), "kb", "test"))
	defer Shutdown(context.Background())

	_, span := Tracer("").Start(context.Background(), "real")
	require.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestBulkMetricsNilSafe(t *testing.T) {
	var m *BulkMetrics
	require.NotPanics(t, func() {
		m.RecordBatch(context.Background(), "status", 1, 0, time.Millisecond, false)
	})
	require.NotPanics(t, func() {
		NewBulkMetrics().RecordBatch(context.Background(), "status", 2, 1, time.Millisecond, false)
	})
}
