package kenobix

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// telemetry holds the small set of instruments a Database emits. It is
// always non-nil; when the caller doesn't supply a MeterProvider (see
// WithMeterProvider) every instrument is the OTel SDK's no-op
// implementation, so the dependency is exercised without forcing an
// external collector on callers who don't want one.
type telemetry struct {
	statements metric.Int64Counter
	latency    metric.Float64Histogram
	busyEvents metric.Int64Counter
}

func newTelemetry(mp metric.MeterProvider) telemetry {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/kenobix/kenobix")

	statements, _ := meter.Int64Counter(
		"kenobix.statements",
		metric.WithDescription("number of single-document insert statements executed by Collection.Insert"),
	)
	latency, _ := meter.Float64Histogram(
		"kenobix.statement.latency",
		metric.WithDescription("execution latency of Collection.Insert statements"),
		metric.WithUnit("ms"),
	)
	busyEvents, _ := meter.Int64Counter(
		"kenobix.database_locked",
		metric.WithDescription("count of SQLITE_BUSY results seen while beginning a write transaction"),
	)

	return telemetry{statements: statements, latency: latency, busyEvents: busyEvents}
}

func (t telemetry) recordStatement(ctx context.Context, ms float64) {
	if t.statements != nil {
		t.statements.Add(ctx, 1)
	}
	if t.latency != nil {
		t.latency.Record(ctx, ms)
	}
}

func (t telemetry) recordBusy(ctx context.Context) {
	if t.busyEvents != nil {
		t.busyEvents.Add(ctx, 1)
	}
}

// recordSpanError marks span as failed and attaches err.
func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
