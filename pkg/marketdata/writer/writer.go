package writer

import (
	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

// CandleWriter defines the interface for persisting downloaded candles.
type CandleWriter interface {
	// Initialize sets up the writer, creating any staging tables or files.
	Initialize() error
	// Write persists a single candle.
	Write(data types.MarketData) error
	// Finalize completes the writing process and returns the output path.
	Finalize() (outputPath string, err error)
	// Close releases any resources held by the writer.
	Close() error
	// GetOutputPath returns the configured output file path.
	GetOutputPath() string
}
