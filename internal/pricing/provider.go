// Package pricing defines the pricing capability the engine consumes: one
// executable price and available liquidity per asset and instant. Two
// implementations exist, a live Binance book-ticker source and a historical
// replay source backed by DuckDB, selected at startup by configuration.
package pricing

import (
	"context"
	"time"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

type Provider interface {
	// Quote returns an executable price and available liquidity for asset at
	// the given instant. Fails with ErrCodeNoLiquidity when nothing is
	// quotable and ErrCodeStaleData when the freshest data is too old.
	Quote(ctx context.Context, asset string, at time.Time) (types.Quote, error)
	// Close releases any resources held by the provider.
	Close() error
}
