package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponential(t *testing.T) {
	t.Parallel()
	tests := []struct {
		attempt  int
		cfg      *Config
		expected time.Duration
	}{
		{0, nil, 100 * time.Millisecond},
		{1, nil, 100 * time.Millisecond},
		{2, nil, 200 * time.Millisecond},
		{4, nil, 800 * time.Millisecond},
		{10, nil, 5 * time.Second},
		{1, &Config{Initial: time.Second}, time.Second},
		{3, &Config{Initial: time.Second, Max: 3 * time.Second}, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := Exponential(tt.attempt, tt.cfg); got != tt.expected {
			t.Errorf("Exponential(%d, %+v) = %v, want %v", tt.attempt, tt.cfg, got, tt.expected)
		}
	}
}

func TestExponentialJitter(t *testing.T) {
	t.Parallel()
	cfg := &Config{Initial: time.Second, Jitter: 0.5}
	for range 100 {
		d := Exponential(1, cfg)
		if d < 500*time.Millisecond || d > time.Second {
			t.Fatalf("jittered delay %v outside [500ms, 1s]", d)
		}
	}
}

func TestSleepCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()
	cfg := &Config{Initial: time.Millisecond, Max: time.Millisecond}
	transient := errors.New("transient")

	t.Run("succeeds after failures", func(t *testing.T) {
		t.Parallel()
		calls, retries := 0, 0
		err := Retry(context.Background(), 3, cfg, func(context.Context) error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		}, func(int, error) { retries++ })
		if err != nil || calls != 3 || retries != 2 {
			t.Errorf("err=%v calls=%d retries=%d", err, calls, retries)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), 2, cfg, func(context.Context) error {
			calls++
			return transient
		}, nil)
		if !errors.Is(err, transient) || calls != 2 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("permanent stops", func(t *testing.T) {
		t.Parallel()
		calls := 0
		bad := errors.New("bad request")
		err := Retry(context.Background(), 5, cfg, func(context.Context) error {
			calls++
			return Permanent(bad)
		}, nil)
		if err != bad || calls != 1 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})
}
