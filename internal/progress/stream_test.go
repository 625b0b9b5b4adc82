package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStreamOrderAndTermination(t *testing.T) {
	t.Parallel()
	s := NewStream("job-1", 16)
	ctx := context.Background()

	go func() {
		_ = s.Emit(ctx, New(StatusUploading, "Uploading files"))
		_ = s.Emit(ctx, WithProgress(StatusProcessing, "page 1", 50))
		_ = s.Emit(ctx, New(StatusComplete, "Complete"))
		_ = s.Emit(ctx, New(StatusCleanup, "Cleaning up"))
		_ = s.Emit(ctx, New(StatusDone, "Done"))
	}()

	events, err := Collect(ctx, s)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	want := []Status{StatusUploading, StatusProcessing, StatusComplete, StatusCleanup, StatusDone}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Status != want[i] {
			t.Errorf("event %d status = %q, want %q", i, ev.Status, want[i])
		}
		if ev.JobID != "job-1" {
			t.Errorf("event %d jobId = %q, want job-1", i, ev.JobID)
		}
	}
}

func TestStreamRejectsAfterTerminal(t *testing.T) {
	t.Parallel()
	s := NewStream("job-1", 4)
	ctx := context.Background()

	if err := s.Emit(ctx, Failed("Processing failed", errors.New("boom"))); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if err := s.Emit(ctx, New(StatusDone, "late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Emit() after terminal = %v, want ErrClosed", err)
	}

	events, _ := Collect(ctx, s)
	if len(events) != 1 || events[0].Status != StatusError {
		t.Fatalf("expected single error event, got %+v", events)
	}
	if events[0].Error != "boom" {
		t.Errorf("Error = %q, want boom", events[0].Error)
	}
}

func TestStreamProgressNonDecreasing(t *testing.T) {
	t.Parallel()
	s := NewStream("job-1", 16)
	ctx := context.Background()

	inputs := []int{10, 40, 25, 140, -5}
	for _, p := range inputs {
		if err := s.Emit(ctx, WithProgress(StatusProcessing, "", p)); err != nil {
			t.Fatalf("Emit() error = %v", err)
		}
	}
	_ = s.Emit(ctx, New(StatusDone, ""))

	events, _ := Collect(ctx, s)
	want := []int{10, 40, 40, 100, 100}
	for i, w := range want {
		if got := events[i].Percent(); got != w {
			t.Errorf("event %d progress = %d, want %d", i, got, w)
		}
	}
	if events[len(events)-1].Percent() != -1 {
		t.Error("event without progress should report -1")
	}
}

func TestStreamEmitUnblocksOnCancel(t *testing.T) {
	t.Parallel()
	s := NewStream("job-1", 0)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Emit(ctx, New(StatusProcessing, "nobody listening"))
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Emit() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Emit did not return after cancellation")
	}
}

func TestStreamObservers(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var seen []Status
	s := NewStream("job-1", 4, func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Status)
		mu.Unlock()
	})
	ctx := context.Background()
	_ = s.Emit(ctx, New(StatusStarting, ""))
	_ = s.Emit(ctx, New(StatusDone, ""))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != StatusStarting || seen[1] != StatusDone {
		t.Errorf("observer saw %v", seen)
	}
}

func TestStreamCloseIdempotent(t *testing.T) {
	t.Parallel()
	s := NewStream("job-1", 1)
	s.Close()
	s.Close()
	if _, ok := <-s.Events(); ok {
		t.Error("expected closed channel")
	}
	if err := s.Emit(context.Background(), New(StatusProcessing, "")); !errors.Is(err, ErrClosed) {
		t.Errorf("Emit() after Close = %v, want ErrClosed", err)
	}
}
