package dispatcher

import (
	"errors"
	"log/slog"

	"docpipe/internal/job"
)

// Notifier turns finished jobs into webhook events.
type Notifier struct {
	dispatcher Dispatcher
	source     string
}

// NewNotifier creates a notifier that stamps events with source.
func NewNotifier(d Dispatcher, source string) *Notifier {
	return &Notifier{dispatcher: d, source: source}
}

// Notify queues the terminal event for rec if cb subscribes to it.
func (n *Notifier) Notify(rec job.Record, cb *job.Callback) {
	if cb == nil || cb.URL == "" {
		return
	}
	eventType := job.EventTypeFor(rec.State)
	if !job.FilteredEvents(eventType, cb.Events) {
		return
	}

	err := n.dispatcher.Dispatch(&Event{
		Payload:     job.BuildTerminalEvent(n.source, rec),
		Destination: cb.URL,
		SigningKey:  cb.Key,
	})
	if err != nil && !errors.Is(err, ErrBufferFull) {
		slog.With("jobId", rec.ID).Warn("Failed to queue callback", "error", err)
	}
}
