// Package marketdata downloads historical candles from external vendors and
// stores them as Parquet files the backtest engine can replay.
package marketdata

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/marketdata/provider"
	"github.com/pyxis-lab/pyxis-executor/pkg/marketdata/writer"
)

// ProviderType selects the market data vendor.
type ProviderType string

const (
	ProviderPolygon ProviderType = "polygon"
	ProviderBinance ProviderType = "binance"
)

// WriterType selects the output format.
type WriterType string

const (
	WriterDuckDB WriterType = "duckdb"
)

// ClientConfig holds the configuration for the market data client.
type ClientConfig struct {
	ProviderType  ProviderType `validate:"required,oneof=polygon binance"`
	WriterType    WriterType   `validate:"required,oneof=duckdb"`
	DataPath      string       `validate:"required"`
	PolygonApiKey string       `validate:"required_if=ProviderType polygon"`
}

// DownloadParams holds the parameters for a single download request.
type DownloadParams struct {
	Symbol    string         `validate:"required"`
	StartDate time.Time      `validate:"required"`
	EndDate   time.Time      `validate:"required,gtfield=StartDate"`
	Interval  types.Interval `validate:"required,oneof=1m 15m 1h 1d"`
}

// Client downloads candles from a provider and stores them with a writer.
type Client struct {
	provider   provider.Provider
	config     ClientConfig
	validate   *validator.Validate
	onProgress provider.OnDownloadProgress
}

// NewClient creates a market data client for the configured provider. A nil
// onProgress is replaced with a no-op callback.
func NewClient(config ClientConfig, onProgress provider.OnDownloadProgress) (*Client, error) {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}

	if onProgress == nil {
		onProgress = func(current float64, total float64, message string) {}
	}

	var marketProvider provider.Provider

	switch config.ProviderType {
	case ProviderPolygon:
		polygonClient, err := provider.NewPolygonClient(config.PolygonApiKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create Polygon client: %w", err)
		}

		marketProvider = polygonClient
	case ProviderBinance:
		binanceClient, err := provider.NewBinanceClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Binance client: %w", err)
		}

		marketProvider = binanceClient
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.ProviderType)
	}

	return &Client{
		provider:   marketProvider,
		config:     config,
		validate:   validate,
		onProgress: onProgress,
	}, nil
}

// Download fetches candles for the given parameters and returns the path of
// the written Parquet file. The context cancels an in-flight download.
func (c *Client) Download(ctx context.Context, params DownloadParams) (string, error) {
	if err := c.validate.Struct(params); err != nil {
		return "", fmt.Errorf("invalid download parameters: %w", err)
	}

	candleWriter, err := c.setupWriter(params)
	if err != nil {
		return "", fmt.Errorf("failed to setup writer: %w", err)
	}

	defer func() {
		if closeErr := candleWriter.Close(); closeErr != nil {
			log.Printf("Warning: failed to close writer: %v", closeErr)
		}
	}()

	c.provider.ConfigWriter(candleWriter)

	outputPath, err := c.provider.Download(ctx, params.Symbol, params.StartDate, params.EndDate, params.Interval, c.onProgress)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}

	return outputPath, nil
}

// setupWriter builds the writer for one download. Initializing it is the
// provider's job.
func (c *Client) setupWriter(params DownloadParams) (writer.CandleWriter, error) {
	switch c.config.WriterType {
	case WriterDuckDB:
		// Output filename: SYMBOL_START_END_INTERVAL.parquet
		outputFileName := fmt.Sprintf("%s_%s_%s_%s.parquet",
			params.Symbol,
			params.StartDate.Format("2006-01-02"),
			params.EndDate.Format("2006-01-02"),
			params.Interval)
		outputPath := filepath.Join(c.config.DataPath, outputFileName)

		if _, err := os.Stat(c.config.DataPath); os.IsNotExist(err) {
			if err := os.MkdirAll(c.config.DataPath, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory %s: %w", c.config.DataPath, err)
			}
		}

		return writer.NewDuckDBWriter(outputPath), nil
	default:
		return nil, fmt.Errorf("unsupported writer type: %s", c.config.WriterType)
	}
}
