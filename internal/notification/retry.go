package notification

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/httpclient"
)

// RetryPolicy bounds the retries of persist and push tasks.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	// Clock paces the delays. Nil means wall clock.
	Clock clock.Clock
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, Delay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Delay <= 0 {
		p.Delay = time.Second
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay * 8
	}
	if p.Clock == nil {
		p.Clock = clock.WallClock
	}
	return p
}

// do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. The returned error is the last one fn produced.
func (p RetryPolicy) do(ctx context.Context, fn func() error, notify func(err error, attempt int)) error {
	p = p.normalized()
	if notify == nil {
		notify = func(error, int) {}
	}

	var last error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			last = fn()
			return last
		},
		IsFatalError: func(err error) bool {
			return !retryable(err)
		},
		NotifyFunc:  notify,
		Attempts:    p.Attempts,
		Delay:       p.Delay,
		MaxDelay:    p.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       p.Clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	// Fatal errors come back unwrapped, exhausted attempts wrapped; report the
	// failure fn produced either way.
	if last != nil {
		return last
	}
	return err
}

// permanentError marks a failure that repeating cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// permanent wraps err so the retry loop stops on it.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	if errors.IsCategory(err, errors.CategoryValidation) || errors.IsCategory(err, errors.CategoryConfiguration) {
		return false
	}
	return httpclient.IsRetryable(err)
}
