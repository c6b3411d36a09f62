package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const bulkScopeName = "github.com/newhook/kb/bulk"

// BulkMetrics records batch executor activity. A nil *BulkMetrics is valid
// and records nothing.
type BulkMetrics struct {
	batches metric.Int64Counter
	issues  metric.Int64Counter
	dur     metric.Float64Histogram
}

// NewBulkMetrics creates the executor instruments on the global meter
// provider.
func NewBulkMetrics() *BulkMetrics {
	m := Meter(bulkScopeName)
	batches, _ := m.Int64Counter("kb.bulk.batches",
		metric.WithDescription("Batch requests sent"),
	)
	issues, _ := m.Int64Counter("kb.bulk.issues",
		metric.WithDescription("Issues processed by outcome"),
	)
	dur, _ := m.Float64Histogram("kb.bulk.batch.duration",
		metric.WithDescription("Batch request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &BulkMetrics{batches: batches, issues: issues, dur: dur}
}

// RecordBatch records one finished batch.
func (m *BulkMetrics) RecordBatch(ctx context.Context, kind string, succeeded, failed int, d time.Duration, requestFailed bool) {
	if m == nil {
		return
	}
	kindAttr := attribute.String("kind", kind)
	m.batches.Add(ctx, 1, metric.WithAttributes(kindAttr, attribute.Bool("request_failed", requestFailed)))
	if succeeded > 0 {
		m.issues.Add(ctx, int64(succeeded), metric.WithAttributes(kindAttr, attribute.String("outcome", "success")))
	}
	if failed > 0 {
		m.issues.Add(ctx, int64(failed), metric.WithAttributes(kindAttr, attribute.String("outcome", "failure")))
	}
	m.dur.Record(ctx, float64(d.Microseconds())/1000.0, metric.WithAttributes(kindAttr))
}
