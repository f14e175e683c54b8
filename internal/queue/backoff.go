package queue

import "time"

// BackoffPolicy decides how many attempts a job gets and how long to wait
// between them. Attempts are 1-based.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second}
}

// Delay returns the wait before the attempt that follows attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Exhausted reports whether attempt was the last one allowed.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	return attempt >= max
}
