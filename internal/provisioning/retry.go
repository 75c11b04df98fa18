package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/novafi/novafi/internal/extapi"
)

// RetryPolicy bounds retries of one external call inside a single run.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

// DefaultRetryPolicy is used when the configuration leaves values unset.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    8 * time.Second,
	CallTimeout: 15 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = DefaultRetryPolicy.CallTimeout
	}
	return p
}

// Backoff returns the wait before attempt n+1, doubling from BaseDelay up to MaxDelay.
func (p RetryPolicy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Do runs fn until it succeeds, fails permanently or runs out of attempts. Each
// attempt gets its own CallTimeout. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	p = p.withDefaults()
	var err error
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w (%v)", ctx.Err(), err)
		}
		if !IsTransient(err) || attempt >= p.MaxAttempts {
			return attempt, err
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("%w (%v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}

// IsTransient reports whether err is worth retrying: timeouts, network
// failures, rate limiting and 5xx answers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *extapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var resErr *ResourceError
	if errors.As(err, &resErr) {
		return resErr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
