// Package retry provides the bounded exponential retry policy shared by the
// exchange fetch path and notification delivery.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Policy is parameterized per call site.
type Policy struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// Hinter is implemented by errors carrying a server-provided wait (e.g. Retry-After).
type Hinter interface {
	RetryAfterHint() time.Duration
}

// ErrExhausted wraps the last error once MaxAttempts is reached.
var ErrExhausted = errors.New("retry attempts exhausted")

type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return ErrExhausted.Error() + ": " + e.last.Error()
}

func (e *exhaustedError) Unwrap() []error { return []error{ErrExhausted, e.last} }

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before retry number n (0-based): BaseDelay * Factor^n, capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay) * math.Pow(factor, float64(n))
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 0)) {
		return p.MaxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts run out,
// or ctx ends. It reports the number of calls made. A nil retryable retries every error.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) (int, error) {
	limit := p.attempts()
	var last error
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return attempt - 1, errors.Join(err, last)
			}
			return attempt - 1, err
		}
		last = fn(ctx, attempt)
		if last == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(last) {
			return attempt, last
		}
		if attempt == limit {
			break
		}
		wait := p.Delay(attempt - 1)
		var h Hinter
		if errors.As(last, &h) {
			if hint := h.RetryAfterHint(); hint > wait {
				wait = hint
			}
		}
		if err := sleep(ctx, wait); err != nil {
			return attempt, errors.Join(err, last)
		}
	}
	return limit, &exhaustedError{attempts: limit, last: last}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
