package notifications

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds retries of transient gateway failures.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent int
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     500 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	JitterPercent: 20,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.JitterPercent < 0 || p.JitterPercent > 100 {
		p.JitterPercent = 0
	}
	return p
}

// backoff returns a fresh exponential backoff; go-retry backoffs are stateful.
func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(uint64(p.JitterPercent), b)
	}
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}
