package clock

import (
	"context"
	"time"
)

// LiveClock paces cycles on the wall clock at a fixed interval. The first
// Next fires immediately so an engine starts trading without waiting out a
// full interval.
type LiveClock struct {
	interval time.Duration
	ticker   *time.Ticker
	started  bool
}

var _ Clock = (*LiveClock)(nil)

func NewLiveClock(interval time.Duration) *LiveClock {
	return &LiveClock{
		interval: interval,
		ticker:   nil,
		started:  false,
	}
}

// Next implements Clock.
func (c *LiveClock) Next(ctx context.Context) (time.Time, bool) {
	if !c.started {
		c.started = true
		c.ticker = time.NewTicker(c.interval)

		return time.Now(), true
	}

	select {
	case <-ctx.Done():
		return time.Time{}, false
	case at := <-c.ticker.C:
		return at, true
	}
}

// Now implements Clock.
func (c *LiveClock) Now() time.Time {
	return time.Now()
}

// SleepUntil implements Clock.
func (c *LiveClock) SleepUntil(ctx context.Context, target time.Time) error {
	d := time.Until(target)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close implements Clock.
func (c *LiveClock) Close() error {
	if c.ticker != nil {
		c.ticker.Stop()
	}

	return nil
}
