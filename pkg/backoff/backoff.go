// Package backoff computes retry delays and runs retry loops.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Jitter  float64       // fraction of the delay randomized, 0..1
}

func (c *Config) resolve() (initial, maxDelay time.Duration, jitter float64) {
	initial, maxDelay = 100*time.Millisecond, 5*time.Second
	if c == nil {
		return initial, maxDelay, 0
	}
	if c.Initial > 0 {
		initial = c.Initial
	}
	if c.Max > 0 {
		maxDelay = c.Max
	}
	return initial, maxDelay, min(max(c.Jitter, 0), 1)
}

// Exponential returns the delay before retry attempt n (1-based): Initial,
// then doubling up to Max. With Jitter set the delay is drawn uniformly from
// [d*(1-Jitter), d].
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxDelay, jitter := cfg.resolve()
	if attempt < 1 {
		attempt = 1
	}
	d := math.Min(float64(initial)*math.Pow(2, float64(attempt-1)), float64(maxDelay))
	if jitter > 0 {
		d -= d * jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls fn up to attempts times, waiting an exponential delay between
// failures. It stops early when fn succeeds, returns a Permanent error, or
// ctx ends. onRetry, if set, is called before each wait.
func Retry(ctx context.Context, attempts int, cfg *Config, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if attempt == attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if serr := Sleep(ctx, Exponential(attempt, cfg)); serr != nil {
			return serr
		}
	}
	return err
}
