// Package dispatcher delivers job webhooks asynchronously with buffering,
// retry and a circuit breaker per destination host.
package dispatcher

import (
	"context"
	"errors"

	"docpipe/pkg/cloudevent"
)

// ErrBufferFull is returned when the dispatcher's buffer is full and the event is dropped.
var ErrBufferFull = errors.New("dispatcher buffer full, event dropped")

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher queues events for delivery.
type Dispatcher interface {
	// Dispatch queues an event without blocking.
	Dispatch(event *Event) error
	Stats() Stats
	// Close stops accepting events and delivers what is queued until ctx ends.
	Close(ctx context.Context) error
}

// Event is a CloudEvent bound for one webhook URL.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string
	SigningKey  string // empty sends unsigned

	requeues int
}

// Stats holds dispatcher counters.
type Stats struct {
	QueueDepth   int   `json:"queueDepth"`
	Queued       int64 `json:"queued"`
	Delivered    int64 `json:"delivered"`
	Failed       int64 `json:"failed"`
	Dropped      int64 `json:"dropped"`
	Requeued     int64 `json:"requeued"`
	RetriesTotal int64 `json:"retries"`
	BreakersOpen int   `json:"breakersOpen"`
}
