package job

import (
	"math"
	"time"

	"github.com/ajitpratap0/relay/pkg/errors"
)

// RetryPolicy decides whether a failed run is re-invoked and after how long.
// Waiting is left to the dispatcher.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps the delay; zero means uncapped
	MaxDelay time.Duration
}

// DefaultRetryPolicy allows three retries starting at one minute
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  60 * time.Second,
	}
}

// NoRetryPolicy never retries
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{}
}

// Delay returns base * 2^retry, retry counted from 0
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(retry))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether a run that failed with err after the given
// number of attempts gets another one, and which retry that would be
func (p RetryPolicy) ShouldRetry(err error, attempts int) (retry int, ok bool) {
	if !errors.IsRetryable(err) {
		return 0, false
	}
	retry = attempts - 1
	if retry < 0 {
		retry = 0
	}
	return retry, retry < p.MaxRetries
}
