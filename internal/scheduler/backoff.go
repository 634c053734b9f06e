package scheduler

import "time"

const (
	// DefaultRetryBackoff is the delay before a failed task is retried.
	DefaultRetryBackoff = 5 * time.Minute

	// DefaultMaxBackoff caps exponential backoff when no max is configured.
	DefaultMaxBackoff = 24 * time.Hour
)

// Backoff returns the delay before the retry numbered retryCount (1-based).
type Backoff interface {
	Next(retryCount int) time.Duration
}

// FixedBackoff waits the same duration before every retry.
type FixedBackoff time.Duration

func (f FixedBackoff) Next(int) time.Duration { return time.Duration(f) }

// ExponentialBackoff doubles the wait for each retry, starting at Base and
// never exceeding Max, or DefaultMaxBackoff when Max is not positive.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (e ExponentialBackoff) Next(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	ceiling := e.Max
	if ceiling <= 0 {
		ceiling = DefaultMaxBackoff
	}
	d := e.Base
	for i := 1; i < retryCount && d < ceiling; i++ {
		d *= 2
	}
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// NewBackoff builds the policy named in config: "exponential" or anything
// else for fixed.
func NewBackoff(mode string, base, max time.Duration) Backoff {
	if base <= 0 {
		base = DefaultRetryBackoff
	}
	if mode == "exponential" {
		if max <= 0 {
			max = DefaultMaxBackoff
		}
		return ExponentialBackoff{Base: base, Max: max}
	}
	return FixedBackoff(base)
}
