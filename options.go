package kenobix

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// options configures a Database at Open time. There is no external
// config file layer; the functional-options shape keeps connection knobs
// (busy_timeout, WAL autocheckpoint, pool size, retry budget) in Go
// rather than a TOML/YAML document. The journal mode is always WAL.
type options struct {
	busyTimeout    time.Duration
	maxOpenConns   int
	walAutocheck   int
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	maxBeginRetry  uint64
	retryMaxWait   time.Duration
}

func defaultOptions() options {
	return options{
		busyTimeout:   5 * time.Second,
		maxOpenConns:  1,
		walAutocheck:  1000,
		maxBeginRetry: 5,
		retryMaxWait:  2 * time.Second,
	}
}

// Option configures a Database returned by Open/OpenReadOnly.
type Option func(*options)

// WithBusyTimeout sets the engine-level busy timeout on the connection.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithMaxOpenConns sets the size of the connection pool used for
// auto-commit reads and writes that are not part of an explicit
// transaction. SQLite serializes writers regardless of pool size; this
// mainly affects read concurrency.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// WithWALAutocheckpoint sets the wal_autocheckpoint pragma (pages).
func WithWALAutocheckpoint(pages int) Option {
	return func(o *options) { o.walAutocheck = pages }
}

// WithMeterProvider attaches an OpenTelemetry MeterProvider for the
// statement-count/latency/busy-event instruments. Without this option
// the no-op provider is used and the dependency costs nothing at
// runtime.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider attaches an OpenTelemetry TracerProvider; writes,
// transactions, and searches are wrapped in spans under it. Without this
// option the no-op provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithBeginRetries caps how many times a BEGIN IMMEDIATE is retried on
// SQLITE_BUSY before the engine surfaces ErrDatabaseLocked.
func WithBeginRetries(n uint64) Option {
	return func(o *options) { o.maxBeginRetry = n }
}

// WithRetryMaxWait caps the total elapsed time spent retrying a BEGIN
// IMMEDIATE against SQLITE_BUSY, independent of WithBeginRetries' retry
// count cap; whichever bound is hit first ends the backoff.
func WithRetryMaxWait(d time.Duration) Option {
	return func(o *options) { o.retryMaxWait = d }
}
