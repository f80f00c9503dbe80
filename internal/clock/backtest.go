package clock

import (
	"context"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
)

// TimestampSource yields the distinct candle timestamps of a historical
// archive in ascending order. pricing.HistoricalProvider satisfies it.
type TimestampSource interface {
	Timestamps(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(time.Time, error) bool)
}

// BacktestClock replays a historical timestamp series. Cycle boundaries are
// the series entries; intra-cycle sleeps advance a virtual frame instead of
// waiting, so a backtest runs as fast as the data allows.
type BacktestClock struct {
	mu         sync.Mutex
	timestamps []time.Time
	cursor     int
	now        time.Time
}

var _ Clock = (*BacktestClock)(nil)

// NewBacktestClock loads the cycle boundaries from source, bounded by the
// optional start and end.
func NewBacktestClock(source TimestampSource, start optional.Option[time.Time], end optional.Option[time.Time]) (*BacktestClock, error) {
	timestamps := make([]time.Time, 0)

	for ts, err := range source.Timestamps(start, end) {
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to load backtest timestamps", err)
		}

		timestamps = append(timestamps, ts)
	}

	if len(timestamps) == 0 {
		return nil, errors.New(errors.ErrCodeMarketDataFetchFailed, "historical series contains no timestamps in the requested range")
	}

	return &BacktestClock{
		mu:         sync.Mutex{},
		timestamps: timestamps,
		cursor:     0,
		now:        time.Time{},
	}, nil
}

// Next implements Clock. Series entries at or before the virtual frame are
// skipped; a cycle whose execution outran the next candle never runs twice
// for the same instant.
func (c *BacktestClock) Next(ctx context.Context) (time.Time, bool) {
	select {
	case <-ctx.Done():
		return time.Time{}, false
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.cursor < len(c.timestamps) {
		at := c.timestamps[c.cursor]
		c.cursor++

		if !at.After(c.now) {
			continue
		}

		c.now = at

		return at, true
	}

	return time.Time{}, false
}

// Now implements Clock.
func (c *BacktestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// SleepUntil implements Clock. The frame advances to the wake-up target;
// concurrent sleepers aiming at the same target advance it once, not once
// each.
func (c *BacktestClock) SleepUntil(ctx context.Context, target time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if target.After(c.now) {
		c.now = target
	}

	return nil
}

// Close implements Clock.
func (c *BacktestClock) Close() error {
	return nil
}

// Remaining returns how many cycle boundaries are left. Used for progress
// reporting.
func (c *BacktestClock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.timestamps) - c.cursor
}
