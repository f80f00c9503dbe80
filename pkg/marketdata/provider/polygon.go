package provider

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/schollz/progressbar/v3"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/marketdata/writer"
)

// PolygonAggsIterator is the part of the Polygon aggregates iterator the
// provider consumes.
type PolygonAggsIterator interface {
	Next() bool
	Item() models.Agg
	Err() error
}

// PolygonAPIClient is the slice of the Polygon SDK the provider depends on.
type PolygonAPIClient interface {
	ListAggs(ctx context.Context, params *models.ListAggsParams, options ...models.RequestOption) PolygonAggsIterator
}

// polygonClientWrapper adapts *polygon.Client to PolygonAPIClient.
type polygonClientWrapper struct {
	client *polygon.Client
}

func (w *polygonClientWrapper) ListAggs(ctx context.Context, params *models.ListAggsParams, options ...models.RequestOption) PolygonAggsIterator {
	return w.client.ListAggs(ctx, params, options...)
}

// PolygonClient downloads aggregate bars from the Polygon REST API.
type PolygonClient struct {
	apiClient PolygonAPIClient
	writer    writer.CandleWriter
}

var _ Provider = (*PolygonClient)(nil)

// NewPolygonClient creates a provider backed by the Polygon API.
func NewPolygonClient(apiKey string) (*PolygonClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}

	return &PolygonClient{
		apiClient: &polygonClientWrapper{client: polygon.New(apiKey)},
		writer:    nil,
	}, nil
}

// NewPolygonClientWithAPI creates a provider on top of a custom API client.
func NewPolygonClientWithAPI(apiClient PolygonAPIClient) *PolygonClient {
	return &PolygonClient{
		apiClient: apiClient,
		writer:    nil,
	}
}

// ConfigWriter implements Provider.
func (c *PolygonClient) ConfigWriter(w writer.CandleWriter) {
	c.writer = w
}

// Download implements Provider. Progress is reported against the wall-clock
// range being covered, since the row count is unknown up front.
func (c *PolygonClient) Download(ctx context.Context, symbol string, startDate time.Time, endDate time.Time, interval types.Interval, onProgress OnDownloadProgress) (path string, err error) {
	multiplier, timespan, err := polygonRangeFor(interval)
	if err != nil {
		return "", err
	}

	if c.writer == nil {
		return "", fmt.Errorf("no writer configured for PolygonClient. Call ConfigWriter first")
	}

	if err = c.writer.Initialize(); err != nil {
		return "", fmt.Errorf("failed to initialize writer: %w", err)
	}

	defer func() {
		if cerr := c.writer.Close(); cerr != nil {
			if err == nil {
				err = fmt.Errorf("error closing writer: %w", cerr)
			} else {
				log.Printf("Error closing writer after another error: %v", cerr)
			}
		}
	}()

	totalDays := int(endDate.Sub(startDate).Hours()/24) + 1
	bar := progressbar.NewOptions(totalDays, progressbar.OptionSetDescription(fmt.Sprintf("Downloading %s", symbol)), progressbar.OptionShowCount())

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       models.Millis(startDate),
		To:         models.Millis(endDate),
	}.WithLimit(50000)

	iter := c.apiClient.ListAggs(ctx, params)

	progressTotal := float64(endDate.Sub(startDate).Milliseconds())
	recordsWritten := 0

	for iter.Next() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.removePartialOutput(recordsWritten)

			return "", ctxErr
		}

		agg := iter.Item()
		candle := types.MarketData{
			Id:     "",
			Symbol: symbol,
			Time:   time.Time(agg.Timestamp),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: agg.Volume,
		}

		if err = c.writer.Write(candle); err != nil {
			c.removePartialOutput(recordsWritten)

			return "", fmt.Errorf("failed to write data: %w", err)
		}

		recordsWritten++

		progressCurrent := min(float64(time.Time(agg.Timestamp).Sub(startDate).Milliseconds()), progressTotal)
		onProgress(progressCurrent, progressTotal, fmt.Sprintf("Downloading %s", symbol))

		if recordsWritten%1000 == 0 {
			daysElapsed := int(time.Time(agg.Timestamp).Sub(startDate).Hours() / 24)
			bar.Set(daysElapsed)
		}
	}

	if iterErr := iter.Err(); iterErr != nil {
		c.removePartialOutput(recordsWritten)

		return "", fmt.Errorf("error iterating polygon aggregates: %w", iterErr)
	}

	bar.Finish()
	log.Printf("Finished downloading %d data points for %s.", recordsWritten, symbol)

	outputPath, err := c.writer.Finalize()
	if err != nil {
		return "", fmt.Errorf("failed to finalize writer: %w", err)
	}

	return outputPath, nil
}

// removePartialOutput deletes the output file after a failed download when
// no row made it to the writer.
func (c *PolygonClient) removePartialOutput(recordsWritten int) {
	if recordsWritten > 0 {
		return
	}

	outputPath := c.writer.GetOutputPath()
	if outputPath == "" {
		return
	}

	if removeErr := os.Remove(outputPath); removeErr != nil && !os.IsNotExist(removeErr) {
		log.Printf("Failed to remove partial output %s: %v", outputPath, removeErr)
	}
}

// polygonRangeFor maps a candle interval to the multiplier and timespan pair
// the Polygon aggregates endpoint expects.
func polygonRangeFor(interval types.Interval) (int, models.Timespan, error) {
	switch interval {
	case types.Interval1m:
		return 1, models.Minute, nil
	case types.Interval15m:
		return 15, models.Minute, nil
	case types.Interval1h:
		return 1, models.Hour, nil
	case types.Interval1d:
		return 1, models.Day, nil
	default:
		return 0, "", fmt.Errorf("unsupported interval for Polygon: %s", interval)
	}
}
