// Package deadline provides a small absolute-deadline clock used to bound
// multi-step network operations.
//
// A Clock is seeded from a duration at the moment an operation starts and can
// be consulted at any point to ask whether the operation has run out of time,
// or how much time is left. It has no side effects and is safe to copy.
package deadline

import "time"

// Clock tracks an absolute deadline derived from a start time and a budget.
type Clock struct {
	start  time.Time
	budget time.Duration
}

// NewClock starts a clock with the given time budget, beginning now.
func NewClock(budget time.Duration) Clock {
	return Clock{start: time.Now(), budget: budget}
}

// Expired reports whether the deadline has passed.
func (c Clock) Expired() bool {
	return !time.Now().Before(c.start.Add(c.budget))
}

// Remaining returns the time left before the deadline, saturating at zero.
func (c Clock) Remaining() time.Duration {
	left := time.Until(c.start.Add(c.budget))
	if left < 0 {
		return 0
	}
	return left
}

// Deadline returns the absolute point in time the clock expires at. This is
// the value handed to net.Conn SetDeadline when socket operations should be
// bounded by the overall budget rather than a per-call timeout.
func (c Clock) Deadline() time.Time {
	return c.start.Add(c.budget)
}
