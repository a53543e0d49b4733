package engine

import "time"

// BackoffPolicy computes how long to wait before re-running a task
// after ErrorAndRetry, and when to give up and transition it to Fail.
// Default: 1s base, doubling, capped at 5 minutes; a task is failed
// once it has been retrying for at least FailAfter since its first
// recorded failure. Grounded on the retry shape in the original
// backup_task.rs source, resolving "reasonable default" retry behavior
// into a concrete policy (DESIGN.md Open Question decision #4).
type BackoffPolicy struct {
	Base      time.Duration
	Max       time.Duration
	FailAfter time.Duration
}

// DefaultBackoffPolicy returns the policy described above.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:      time.Second,
		Max:       5 * time.Minute,
		FailAfter: 24 * time.Hour,
	}
}

// Delay returns how long to wait before attempt number attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	return d
}

// ShouldFail reports whether a task that first failed at firstFailAt
// (unix seconds) and is still failing at now should be abandoned.
func (p BackoffPolicy) ShouldFail(firstFailAt, now int64) bool {
	return time.Duration(now-firstFailAt)*time.Second >= p.FailAfter
}
