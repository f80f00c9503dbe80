// Package decision defines what produces trade intents each cycle. The
// engine calls a single Decider; everything else about a strategy lives
// behind that interface.
package decision

import (
	"context"
	"time"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

// Quoter is the slice of the pricing source a decider may use.
type Quoter interface {
	Quote(ctx context.Context, asset string, at time.Time) (types.Quote, error)
}

// Decider produces the trade intents for one strategy cycle.
type Decider interface {
	// Decide returns the cycle's intents in execution order. view is a
	// point-in-time copy; implementations must not treat it as live state.
	Decide(ctx context.Context, view types.PortfolioSnapshot, quoter Quoter, at time.Time) ([]types.TradeIntent, error)
	// Name identifies the decider in journals and statistics.
	Name() string
}
