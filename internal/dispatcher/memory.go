package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"docpipe/pkg/backoff"
	"docpipe/pkg/circuitbreaker"
	"docpipe/pkg/cloudevent"
)

// MetricsRecorder receives dispatcher measurements.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// MemoryDispatcher queues events in a bounded channel served by a worker
// pool. A full buffer drops the event rather than blocking the job.
type MemoryDispatcher struct {
	cfg      MemoryConfig
	queue    chan *Event
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	retry    *backoff.Config
	logger   *slog.Logger
	metrics  MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	pending  sync.WaitGroup // requeue timers
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewMemory creates and starts an in-memory dispatcher. metrics may be nil.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	d := &MemoryDispatcher{
		cfg:    cfg,
		queue:  make(chan *Event, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
		retry:    &backoff.Config{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff, Jitter: 0.2},
		logger:   slog.With("component", "dispatcher"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	if metrics != nil {
		d.wg.Add(1)
		go d.reportQueueSize()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

func (d *MemoryDispatcher) reportQueueSize() {
	defer d.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch queues an event for delivery.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}
	select {
	case d.queue <- event:
		d.queued.Add(1)
		return nil
	default:
		d.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	return Stats{
		QueueDepth:   len(d.queue),
		Queued:       d.queued.Load(),
		Delivered:    d.delivered.Load(),
		Failed:       d.failed.Load(),
		Dropped:      d.dropped.Load(),
		Requeued:     d.requeued.Load(),
		RetriesTotal: d.retriesTotal.Load(),
		BreakersOpen: d.breakers.Stats().Open,
	}
}

// Close stops the workers after they drain the queue, or when ctx ends.
// Events waiting out an open breaker are dropped.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.shutdown:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

// deliver sends one event through its host's breaker with retries.
func (d *MemoryDispatcher) deliver(event *Event) {
	host := hostOf(event.Destination)
	breaker := d.breakers.Get(host)
	if !breaker.Allow() {
		d.requeue(event, host, breaker.RetryAfter())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	err := backoff.Retry(ctx, d.cfg.MaxRetries+1, d.retry, func(ctx context.Context) error {
		err := d.sender.Send(ctx, event.Destination, event.Payload, cloudevent.SendOptions{SigningKey: event.SigningKey})
		if cloudevent.IsClientError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, func(attempt int, err error) {
		d.retriesTotal.Add(1)
		d.logger.Debug("Retrying delivery", "destination", host, "attempt", attempt, "error", err)
	})

	if err != nil {
		breaker.RecordFailure()
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Delivery failed", "destination", host, "type", event.Payload.Type, "subject", event.Payload.Subject, "error", err)
		return
	}

	breaker.RecordSuccess()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue retries an event once its host's breaker may have cooled down.
func (d *MemoryDispatcher) requeue(event *Event, host string, wait time.Duration) {
	if event.requeues >= d.cfg.MaxRequeues {
		d.drop(event, "max requeues reached")
		return
	}
	event.requeues++
	d.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		timer := time.NewTimer(max(wait, 10*time.Millisecond))
		defer timer.Stop()

		select {
		case <-d.shutdown:
			d.drop(event, "shutdown while circuit open")
			return
		case <-timer.C:
		}
		select {
		case d.queue <- event:
			d.logger.Debug("Event requeued", "destination", host, "requeues", event.requeues)
		default:
			d.drop(event, "buffer full on requeue")
		}
	}()
}

func (d *MemoryDispatcher) drop(event *Event, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn("Event dropped", "reason", reason, "destination", hostOf(event.Destination), "type", event.Payload.Type)
}

// hostOf keys breakers by host so one slow receiver does not block others.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
