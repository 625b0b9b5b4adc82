package progress

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when emitting on a stream that already ended.
var ErrClosed = errors.New("progress stream closed")

// Observer sees every event a stream accepts, in order.
type Observer func(Event)

// Stream is an ordered, finite sequence of events from one job.
//
// A stream has a single producer. Emit blocks until the consumer has room, so a
// stalled consumer applies backpressure and a cancelled context unblocks the
// producer. After a terminal event no further events are accepted.
type Stream struct {
	jobID     string
	ch        chan Event
	observers []Observer

	mu       sync.Mutex
	last     int
	finished bool
	once     sync.Once
}

// NewStream creates a stream buffered to hold buffer events.
func NewStream(jobID string, buffer int, observers ...Observer) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		jobID:     jobID,
		ch:        make(chan Event, buffer),
		observers: observers,
	}
}

// JobID returns the job the stream belongs to.
func (s *Stream) JobID() string {
	return s.jobID
}

// Events returns the receive side of the stream. It is closed after the
// terminal event or when the producer calls Close.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Emit appends an event. Progress values are clamped to 0..100 and never
// decrease within a stream.
func (s *Stream) Emit(ctx context.Context, ev Event) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrClosed
	}
	if ev.Progress != nil {
		p := min(max(*ev.Progress, 0), 100)
		p = max(p, s.last)
		s.last = p
		ev.Progress = &p
	}
	if ev.JobID == "" {
		ev.JobID = s.jobID
	}
	if ev.Terminal() {
		s.finished = true
	}
	s.mu.Unlock()

	for _, obs := range s.observers {
		obs(ev)
	}

	select {
	case s.ch <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	if ev.Terminal() {
		s.Close()
	}
	return nil
}

// Close ends the stream. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.finished = true
		s.mu.Unlock()
		close(s.ch)
	})
}

// Collect drains the stream until it ends or ctx is done.
func Collect(ctx context.Context, s *Stream) ([]Event, error) {
	var events []Event
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events, nil
			}
			events = append(events, ev)
		case <-ctx.Done():
			return events, ctx.Err()
		}
	}
}
