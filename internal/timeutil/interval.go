package timeutil

import (
	"context"
	"time"
)

// Interval tracks a periodic action that is polled rather than driven by a
// goroutine. A zero period means the action is never due.
type Interval struct {
	clock  Clock
	period time.Duration
	last   time.Time
}

// NewInterval returns an Interval whose first period starts now.
func NewInterval(clock Clock, period time.Duration) *Interval {
	return &Interval{clock: clock, period: period, last: clock.Now()}
}

// Due reports whether a full period has elapsed since the last Mark.
func (i *Interval) Due() bool {
	return i.period > 0 && i.clock.Since(i.last) >= i.period
}

// Mark records that the action ran now.
func (i *Interval) Mark() {
	i.last = i.clock.Now()
}

// Remaining returns the time until the action is next due, zero when it
// already is. It reports false for a disabled interval.
func (i *Interval) Remaining() (time.Duration, bool) {
	if i.period <= 0 {
		return 0, false
	}
	return max(i.period-i.clock.Since(i.last), 0), true
}

// Period returns the configured period.
func (i *Interval) Period() time.Duration { return i.period }

// Wait blocks for d on c or until ctx is done, and reports whether the full
// duration passed. A non-positive d returns at once.
func Wait(ctx context.Context, c Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := c.NewTicker(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}
