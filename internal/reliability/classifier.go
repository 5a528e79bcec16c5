// Package reliability classifies downstream failures and retries the ones
// worth retrying.
package reliability

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/tempo/internal/apperr"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableStreamMessage classifies error message types sent inside a
// speech synthesis stream.
func IsRetryableStreamMessage(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx ends. Only *apperr.Error values with Retryable set
// are retried.
func Retry(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == p.Attempts-1 {
			return err
		}
		t := time.NewTimer(ExponentialBackoff(attempt, p.Base, p.Cap))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

// IsRetryable reports whether err was marked retryable by the layer that
// produced it.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *apperr.Error
	return errors.As(err, &e) && e.Retryable
}
