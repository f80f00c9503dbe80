// Package provider implements candle downloads from market data vendors.
package provider

import (
	"context"
	"time"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/marketdata/writer"
)

// OnDownloadProgress receives download progress updates. Current and total
// share whatever unit the provider reports in; message is human readable.
type OnDownloadProgress = func(current float64, total float64, message string)

// Provider downloads historical candles for a single symbol and feeds them
// through the configured writer.
type Provider interface {
	// ConfigWriter sets the writer that receives downloaded candles.
	ConfigWriter(w writer.CandleWriter)
	// Download fetches candles between startDate and endDate at the given
	// interval and returns the path of the written output file.
	Download(ctx context.Context, symbol string, startDate time.Time, endDate time.Time, interval types.Interval, onProgress OnDownloadProgress) (string, error)
}
