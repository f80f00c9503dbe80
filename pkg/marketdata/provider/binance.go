package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/marketdata/writer"
)

// binanceMaxKlinesPerPage is the largest page the Binance klines endpoint returns.
const binanceMaxKlinesPerPage = 500

// BinanceKlinesService mirrors the kline request builder of the Binance SDK
// so tests can substitute canned pages.
type BinanceKlinesService interface {
	Symbol(symbol string) BinanceKlinesService
	Interval(interval string) BinanceKlinesService
	StartTime(startTime int64) BinanceKlinesService
	EndTime(endTime int64) BinanceKlinesService
	Do(ctx context.Context) ([]*binance.Kline, error)
}

// BinanceAPIClient is the slice of the Binance SDK the provider depends on.
type BinanceAPIClient interface {
	NewKlinesService() BinanceKlinesService
}

// binanceClientWrapper adapts *binance.Client to BinanceAPIClient.
type binanceClientWrapper struct {
	client *binance.Client
}

func (w *binanceClientWrapper) NewKlinesService() BinanceKlinesService {
	return &binanceKlinesServiceWrapper{service: w.client.NewKlinesService()}
}

type binanceKlinesServiceWrapper struct {
	service *binance.KlinesService
}

func (w *binanceKlinesServiceWrapper) Symbol(symbol string) BinanceKlinesService {
	w.service = w.service.Symbol(symbol)

	return w
}

func (w *binanceKlinesServiceWrapper) Interval(interval string) BinanceKlinesService {
	w.service = w.service.Interval(interval)

	return w
}

func (w *binanceKlinesServiceWrapper) StartTime(startTime int64) BinanceKlinesService {
	w.service = w.service.StartTime(startTime)

	return w
}

func (w *binanceKlinesServiceWrapper) EndTime(endTime int64) BinanceKlinesService {
	w.service = w.service.EndTime(endTime)

	return w
}

func (w *binanceKlinesServiceWrapper) Do(ctx context.Context) ([]*binance.Kline, error) {
	return w.service.Do(ctx)
}

// BinanceClient downloads spot klines from the Binance REST API.
type BinanceClient struct {
	apiClient BinanceAPIClient
	writer    writer.CandleWriter
}

var _ Provider = (*BinanceClient)(nil)

// NewBinanceClient creates a provider backed by the public Binance API.
// Historical klines need no credentials.
func NewBinanceClient() (*BinanceClient, error) {
	client := binance.NewClient("", "")

	return &BinanceClient{
		apiClient: &binanceClientWrapper{client: client},
		writer:    nil,
	}, nil
}

// NewBinanceClientWithAPI creates a provider on top of a custom API client.
func NewBinanceClientWithAPI(apiClient BinanceAPIClient) *BinanceClient {
	return &BinanceClient{
		apiClient: apiClient,
		writer:    nil,
	}
}

// ConfigWriter implements Provider.
func (c *BinanceClient) ConfigWriter(w writer.CandleWriter) {
	c.writer = w
}

// Download implements Provider. Binance caps kline responses at 500 rows, so
// the range is fetched page by page, advancing past the close time of the
// last kline of each page.
func (c *BinanceClient) Download(ctx context.Context, symbol string, startDate time.Time, endDate time.Time, interval types.Interval, onProgress OnDownloadProgress) (string, error) {
	binanceInterval, err := binanceIntervalFor(interval)
	if err != nil {
		return "", err
	}

	if c.writer == nil {
		return "", fmt.Errorf("writer is not configured")
	}

	if err := c.writer.Initialize(); err != nil {
		return "", fmt.Errorf("failed to initialize writer: %w", err)
	}

	// The Binance API addresses time in milliseconds.
	startTimeMillis := startDate.UnixMilli()
	endTimeMillis := endDate.UnixMilli()
	currentStartTime := startTimeMillis

	for {
		klines, err := c.apiClient.NewKlinesService().
			Symbol(symbol).
			Interval(binanceInterval).
			StartTime(currentStartTime).
			EndTime(endTimeMillis).
			Do(ctx)
		if err != nil {
			return "", c.failDownload(fmt.Errorf("failed to fetch klines from Binance: %w", err))
		}

		onProgress(float64(currentStartTime-startTimeMillis), float64(endTimeMillis-startTimeMillis), fmt.Sprintf("Downloading %s klines from Binance", symbol))

		if err := writeKlines(c.writer, symbol, klines); err != nil {
			return "", c.failDownload(fmt.Errorf("failed to process klines: %w", err))
		}

		// A short page means Binance has no more data for the range.
		if len(klines) < binanceMaxKlinesPerPage {
			break
		}

		// Advance past the close time of the last kline to avoid duplicates.
		currentStartTime = klines[len(klines)-1].CloseTime + 1
		if currentStartTime >= endTimeMillis {
			break
		}
	}

	outputPath, err := c.writer.Finalize()
	if err != nil {
		return "", fmt.Errorf("failed to finalize writer: %w", err)
	}

	return outputPath, nil
}

// failDownload attempts to finalize the writer so rows staged before the
// failure still land on disk, folding any finalize error into the cause.
func (c *BinanceClient) failDownload(cause error) error {
	if _, finalizeErr := c.writer.Finalize(); finalizeErr != nil {
		return fmt.Errorf("%w; also failed to finalize writer: %v", cause, finalizeErr)
	}

	return cause
}

// writeKlines converts one page of Binance klines into candles and stages
// them on the writer. The open time of each kline becomes the candle time.
func writeKlines(w writer.CandleWriter, symbol string, klines []*binance.Kline) error {
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candle := types.MarketData{
			Id:     "",
			Symbol: symbol,
			Time:   time.UnixMilli(k.OpenTime),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		}

		if err := w.Write(candle); err != nil {
			return fmt.Errorf("failed to write market data: %w", err)
		}
	}

	return nil
}

// binanceIntervalFor maps a candle interval to a Binance kline interval
// string. The supported intervals already use the Binance spelling.
func binanceIntervalFor(interval types.Interval) (string, error) {
	switch interval {
	case types.Interval1m, types.Interval15m, types.Interval1h, types.Interval1d:
		return string(interval), nil
	default:
		return "", fmt.Errorf("unsupported interval for Binance: %s", interval)
	}
}
