package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service metrics: request and job traffic, latency and
// errors, plus saturation of jobs, engines and the callback queue.
type Metrics struct {
	meter metric.Meter

	// HTTP
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Jobs and stages
	JobDuration      metric.Float64Histogram
	JobsTotal        metric.Int64Counter
	JobErrorsTotal   metric.Int64Counter
	JobsActive       metric.Int64UpDownCounter
	StageDuration    metric.Float64Histogram
	StageErrorsTotal metric.Int64Counter
	FallbacksTotal   metric.Int64Counter
	CleanupFailures  metric.Int64Counter

	// Engines
	EngineStartDuration metric.Float64Histogram
	EngineStartsTotal   metric.Int64Counter
	EngineShutdowns     metric.Int64Counter

	// Callback dispatcher
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// builder creates instruments and keeps the first error.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) histogram(name, desc string, buckets ...float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *builder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64Gauge {
	g, err := b.meter.Int64Gauge(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return g
}

// NewMetrics creates all instruments behind a Prometheus exporter on its own
// registry, which also carries the Go runtime and process collectors.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	b := &builder{meter: provider.Meter("docpipe")}
	m := &Metrics{meter: b.meter}

	m.HTTPRequestDuration = b.histogram("http_request_duration_seconds", "HTTP request latency in seconds",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 60, 300)
	m.HTTPRequestsTotal = b.counter("http_requests_total", "Total number of HTTP requests")
	m.HTTPErrorsTotal = b.counter("http_errors_total", "Total number of HTTP errors (4xx and 5xx)")

	m.JobDuration = b.histogram("job_duration_seconds", "Job duration from submission to terminal event",
		1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600)
	m.JobsTotal = b.counter("jobs_total", "Total number of jobs started")
	m.JobErrorsTotal = b.counter("job_errors_total", "Total number of jobs that did not complete")
	m.JobsActive = b.upDown("jobs_active", "Number of running jobs")
	m.StageDuration = b.histogram("stage_duration_seconds", "Worker stage duration in seconds",
		0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600)
	m.StageErrorsTotal = b.counter("stage_errors_total", "Total number of failed worker stages")
	m.FallbacksTotal = b.counter("fallbacks_total", "Total number of jobs that used native text extraction")
	m.CleanupFailures = b.counter("cleanup_failures_total", "Total number of job cleanups that failed")

	m.EngineStartDuration = b.histogram("engine_start_duration_seconds", "Time for an engine to become ready",
		0.5, 1, 2, 5, 10, 20, 30, 60)
	m.EngineStartsTotal = b.counter("engine_starts_total", "Total number of engine start attempts")
	m.EngineShutdowns = b.counter("engine_shutdowns_total", "Total number of engine shutdowns")

	m.DispatcherDuration = b.histogram("dispatcher_duration_seconds", "Callback delivery latency in seconds",
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.DispatcherDelivered = b.counter("dispatcher_delivered_total", "Total events successfully delivered")
	m.DispatcherFailed = b.counter("dispatcher_failed_total", "Total events failed after retries")
	m.DispatcherDropped = b.counter("dispatcher_dropped_total", "Total events dropped (buffer full or max requeues)")
	m.DispatcherRequeued = b.counter("dispatcher_requeued_total", "Total events requeued due to open circuit")
	m.DispatcherQueueSize = b.gauge("dispatcher_queue_size", "Current number of events in dispatcher queue")

	if b.err != nil {
		return nil, nil, b.err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(path), statusAttr(statusCode))
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobStarted records a job entering the executor.
func (m *Metrics) RecordJobStarted(ctx context.Context, mode string) {
	m.JobsTotal.Add(ctx, 1, WithMode(mode))
	m.JobsActive.Add(ctx, 1, WithMode(mode))
}

// RecordJobFinished records a job reaching its terminal state.
func (m *Metrics) RecordJobFinished(ctx context.Context, mode, state string, duration time.Duration) {
	attrs := metric.WithAttributes(modeAttr(mode), stateAttr(state))
	m.JobDuration.Record(ctx, duration.Seconds(), attrs)
	m.JobsActive.Add(ctx, -1, WithMode(mode))
	if state != "completed" {
		m.JobErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordStage records one worker stage.
func (m *Metrics) RecordStage(ctx context.Context, mode, stage string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(modeAttr(mode), stageAttr(stage), successAttr(err == nil))
	m.StageDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.StageErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordFallback records a job degrading to native text extraction.
func (m *Metrics) RecordFallback(ctx context.Context, mode string) {
	m.FallbacksTotal.Add(ctx, 1, WithMode(mode))
}

// RecordCleanupFailure records a job cleanup that could not finish.
func (m *Metrics) RecordCleanupFailure(ctx context.Context) {
	m.CleanupFailures.Add(ctx, 1)
}

// RecordEngineStart records an engine start attempt.
func (m *Metrics) RecordEngineStart(ctx context.Context, kind string, duration time.Duration, ok bool) {
	attrs := metric.WithAttributes(engineAttr(kind), successAttr(ok))
	m.EngineStartsTotal.Add(ctx, 1, attrs)
	m.EngineStartDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordEngineShutdown records an engine being stopped.
func (m *Metrics) RecordEngineShutdown(ctx context.Context, kind string) {
	m.EngineShutdowns.Add(ctx, 1, WithEngine(kind))
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
