// Package clock abstracts cycle time so live trading and backtests drive the
// identical scheduler loop. The live clock follows the wall; the backtest
// clock replays a historical timestamp series with no real waiting.
package clock

import (
	"context"
	"time"
)

// Clock paces the strategy cycle scheduler.
type Clock interface {
	// Next blocks until the next cycle boundary and returns it. The second
	// return is false when the series is exhausted or ctx is canceled.
	Next(ctx context.Context) (time.Time, bool)
	// Now returns the current instant in the clock's frame.
	Now() time.Time
	// SleepUntil pauses the caller until target in the clock's frame. The
	// backtest clock advances its frame and returns immediately.
	SleepUntil(ctx context.Context, target time.Time) error
	Close() error
}
