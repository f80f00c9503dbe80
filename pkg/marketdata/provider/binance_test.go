package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/suite"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

// mockWriter is a hand-rolled CandleWriter for provider tests.
type mockWriter struct {
	initialized       bool
	initializeErr     error
	writeErr          error
	writeErrAfterN    int // return writeErr only after N successful writes (0 means immediately)
	finalizeErr       error
	closeErr          error
	outputPath        string
	writtenData       []types.MarketData
	writeCallCount    int
	finalizeCallCount int
	closeCallCount    int
}

func (m *mockWriter) Initialize() error {
	if m.initializeErr != nil {
		return m.initializeErr
	}

	m.initialized = true

	return nil
}

func (m *mockWriter) Write(data types.MarketData) error {
	m.writeCallCount++
	if m.writeErr != nil && (m.writeErrAfterN == 0 || m.writeCallCount > m.writeErrAfterN) {
		return m.writeErr
	}

	m.writtenData = append(m.writtenData, data)

	return nil
}

func (m *mockWriter) Finalize() (string, error) {
	m.finalizeCallCount++
	if m.finalizeErr != nil {
		return "", m.finalizeErr
	}

	return m.outputPath, nil
}

func (m *mockWriter) Close() error {
	m.closeCallCount++

	return m.closeErr
}

func (m *mockWriter) GetOutputPath() string {
	return m.outputPath
}

// mockBinanceAPIClient implements BinanceAPIClient for testing. When
// klinesPerCall is set, each call to Do returns the next canned page.
type mockBinanceAPIClient struct {
	klines        []*binance.Kline
	klinesErr     error
	callCount     int
	klinesPerCall [][]*binance.Kline
	errorsPerCall []error
}

func (m *mockBinanceAPIClient) NewKlinesService() BinanceKlinesService {
	return &mockBinanceKlinesService{client: m}
}

type mockBinanceKlinesService struct {
	client   *mockBinanceAPIClient
	symbol   string
	interval string
	start    int64
	end      int64
}

func (m *mockBinanceKlinesService) Symbol(symbol string) BinanceKlinesService {
	m.symbol = symbol

	return m
}

func (m *mockBinanceKlinesService) Interval(interval string) BinanceKlinesService {
	m.interval = interval

	return m
}

func (m *mockBinanceKlinesService) StartTime(startTime int64) BinanceKlinesService {
	m.start = startTime

	return m
}

func (m *mockBinanceKlinesService) EndTime(endTime int64) BinanceKlinesService {
	m.end = endTime

	return m
}

func (m *mockBinanceKlinesService) Do(_ context.Context) ([]*binance.Kline, error) {
	if len(m.client.klinesPerCall) > 0 {
		idx := m.client.callCount
		m.client.callCount++

		if idx < len(m.client.klinesPerCall) {
			var err error
			if idx < len(m.client.errorsPerCall) {
				err = m.client.errorsPerCall[idx]
			}

			return m.client.klinesPerCall[idx], err
		}

		return nil, nil
	}

	return m.client.klines, m.client.klinesErr
}

// klinePage builds count consecutive one-minute klines starting at startMs.
func klinePage(startMs int64, count int) []*binance.Kline {
	page := make([]*binance.Kline, count)
	for i := 0; i < count; i++ {
		openTime := startMs + int64(i*60000)
		page[i] = &binance.Kline{
			OpenTime:  openTime,
			Open:      "42000.50",
			High:      "42500.00",
			Low:       "41800.00",
			Close:     "42300.00",
			Volume:    "1000.5",
			CloseTime: openTime + 59999,
		}
	}

	return page
}

type BinanceClientTestSuite struct {
	suite.Suite
}

func TestBinanceClientSuite(t *testing.T) {
	suite.Run(t, new(BinanceClientTestSuite))
}

func (suite *BinanceClientTestSuite) TestNewBinanceClient() {
	client, err := NewBinanceClient()
	suite.NoError(err)
	suite.NotNil(client)
	suite.Nil(client.writer)

	_, ok := client.apiClient.(*binanceClientWrapper)
	suite.True(ok, "apiClient should be a binanceClientWrapper")
}

func (suite *BinanceClientTestSuite) TestNewBinanceClientWithAPI() {
	mockAPI := &mockBinanceAPIClient{}
	client := NewBinanceClientWithAPI(mockAPI)
	suite.NotNil(client)
	suite.Equal(mockAPI, client.apiClient)
	suite.Nil(client.writer)
}

func (suite *BinanceClientTestSuite) TestConfigWriter() {
	client, err := NewBinanceClient()
	suite.Require().NoError(err)
	suite.Nil(client.writer)

	mockW := &mockWriter{}
	client.ConfigWriter(mockW)
	suite.Equal(mockW, client.writer)
}

func (suite *BinanceClientTestSuite) TestDownloadWithoutWriter() {
	client, err := NewBinanceClient()
	suite.Require().NoError(err)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	_, err = client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "writer is not configured")
}

func (suite *BinanceClientTestSuite) TestDownloadUnsupportedInterval() {
	client, err := NewBinanceClient()
	suite.Require().NoError(err)
	client.ConfigWriter(&mockWriter{})

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	_, err = client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval("3m"), func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "unsupported interval for Binance")
}

func (suite *BinanceClientTestSuite) TestDownloadWriterInitializeError() {
	client, err := NewBinanceClient()
	suite.Require().NoError(err)
	client.ConfigWriter(&mockWriter{initializeErr: errors.New("initialization failed")})

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	_, err = client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to initialize writer")
}

func (suite *BinanceClientTestSuite) TestBinanceIntervalFor() {
	tests := []struct {
		name     string
		interval types.Interval
		want     string
		wantErr  bool
	}{
		{name: "one minute", interval: types.Interval1m, want: "1m", wantErr: false},
		{name: "fifteen minutes", interval: types.Interval15m, want: "15m", wantErr: false},
		{name: "one hour", interval: types.Interval1h, want: "1h", wantErr: false},
		{name: "one day", interval: types.Interval1d, want: "1d", wantErr: false},
		{name: "unsupported five minutes", interval: types.Interval("5m"), want: "", wantErr: true},
		{name: "empty interval", interval: types.Interval(""), want: "", wantErr: true},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			got, err := binanceIntervalFor(tt.interval)
			if tt.wantErr {
				suite.Error(err)
				suite.Contains(err.Error(), "unsupported interval")
			} else {
				suite.NoError(err)
				suite.Equal(tt.want, got)
			}
		})
	}
}

func (suite *BinanceClientTestSuite) TestWriteKlines() {
	klines := []*binance.Kline{
		{
			OpenTime:  1704067200000, // 2024-01-01 00:00:00 UTC
			Open:      "42000.50",
			High:      "42500.00",
			Low:       "41800.00",
			Close:     "42300.00",
			Volume:    "1000.5",
			CloseTime: 1704067259999,
		},
		{
			OpenTime:  1704067260000,
			Open:      "42300.00",
			High:      "42400.00",
			Low:       "42200.00",
			Close:     "42350.00",
			Volume:    "500.25",
			CloseTime: 1704067319999,
		},
	}

	mockW := &mockWriter{}

	err := writeKlines(mockW, "BTCUSDT", klines)
	suite.NoError(err)
	suite.Len(mockW.writtenData, 2)

	first := mockW.writtenData[0]
	suite.Equal("BTCUSDT", first.Symbol)
	suite.Equal(time.UnixMilli(1704067200000), first.Time)
	suite.InDelta(42000.50, first.Open, 0.01)
	suite.InDelta(42500.00, first.High, 0.01)
	suite.InDelta(41800.00, first.Low, 0.01)
	suite.InDelta(42300.00, first.Close, 0.01)
	suite.InDelta(1000.5, first.Volume, 0.01)

	second := mockW.writtenData[1]
	suite.Equal(time.UnixMilli(1704067260000), second.Time)
	suite.InDelta(42350.00, second.Close, 0.01)
}

func (suite *BinanceClientTestSuite) TestWriteKlinesEmpty() {
	mockW := &mockWriter{}
	err := writeKlines(mockW, "BTCUSDT", []*binance.Kline{})
	suite.NoError(err)
	suite.Len(mockW.writtenData, 0)
}

func (suite *BinanceClientTestSuite) TestWriteKlinesWriteError() {
	mockW := &mockWriter{writeErr: errors.New("write failed")}

	err := writeKlines(mockW, "BTCUSDT", klinePage(1704067200000, 1))
	suite.Error(err)
	suite.Contains(err.Error(), "failed to write market data")
}

func (suite *BinanceClientTestSuite) TestWriteKlinesInvalidNumbers() {
	klines := []*binance.Kline{
		{
			OpenTime:  1704067200000,
			Open:      "invalid",
			High:      "also_invalid",
			Low:       "not_a_number",
			Close:     "xyz",
			Volume:    "abc",
			CloseTime: 1704067259999,
		},
	}

	mockW := &mockWriter{}

	err := writeKlines(mockW, "BTCUSDT", klines)
	suite.NoError(err)
	suite.Len(mockW.writtenData, 1)
	// Unparseable strings degrade to zero rather than failing the download.
	suite.Equal(float64(0), mockW.writtenData[0].Open)
	suite.Equal(float64(0), mockW.writtenData[0].Close)
	suite.Equal(float64(0), mockW.writtenData[0].Volume)
}

func (suite *BinanceClientTestSuite) TestDownloadSuccess() {
	mockAPI := &mockBinanceAPIClient{klines: klinePage(1704067200000, 2)}
	mockW := &mockWriter{outputPath: "/tmp/test.parquet"}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	path, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.NoError(err)
	suite.Equal("/tmp/test.parquet", path)
	suite.Len(mockW.writtenData, 2)
	suite.True(mockW.initialized)
}

func (suite *BinanceClientTestSuite) TestDownloadEmptyKlines() {
	mockAPI := &mockBinanceAPIClient{klines: []*binance.Kline{}}
	mockW := &mockWriter{outputPath: "/tmp/empty.parquet"}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	path, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.NoError(err)
	suite.Equal("/tmp/empty.parquet", path)
	suite.Len(mockW.writtenData, 0)
}

func (suite *BinanceClientTestSuite) TestDownloadAPIError() {
	mockAPI := &mockBinanceAPIClient{klinesErr: errors.New("API rate limit exceeded")}
	mockW := &mockWriter{outputPath: "/tmp/test.parquet"}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to fetch klines from Binance")
	suite.Contains(err.Error(), "API rate limit exceeded")
}

func (suite *BinanceClientTestSuite) TestDownloadAPIErrorWithFinalizeError() {
	mockAPI := &mockBinanceAPIClient{klinesErr: errors.New("API error")}
	mockW := &mockWriter{finalizeErr: errors.New("finalize failed")}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to fetch klines from Binance")
	suite.Contains(err.Error(), "also failed to finalize writer")
}

func (suite *BinanceClientTestSuite) TestDownloadFinalizeError() {
	mockAPI := &mockBinanceAPIClient{klines: klinePage(1704067200000, 1)}
	mockW := &mockWriter{finalizeErr: errors.New("disk full")}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to finalize writer")
}

func (suite *BinanceClientTestSuite) TestDownloadWriteErrorWithFinalizeSuccess() {
	mockAPI := &mockBinanceAPIClient{klines: klinePage(1704067200000, 1)}
	mockW := &mockWriter{writeErr: errors.New("write error")}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to process klines")
	suite.NotContains(err.Error(), "also failed to finalize")
}

func (suite *BinanceClientTestSuite) TestDownloadPagination() {
	startMs := int64(1704067200000)
	firstPage := klinePage(startMs, 500)
	secondPage := klinePage(startMs+500*60000, 1)

	mockAPI := &mockBinanceAPIClient{klinesPerCall: [][]*binance.Kline{firstPage, secondPage}}
	mockW := &mockWriter{outputPath: "/tmp/paginated.parquet"}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.UnixMilli(startMs)
	endDate := time.UnixMilli(startMs + 1000*60000)

	path, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.NoError(err)
	suite.Equal("/tmp/paginated.parquet", path)
	suite.Len(mockW.writtenData, 501)
	suite.Equal(2, mockAPI.callCount)
}

func (suite *BinanceClientTestSuite) TestDownloadPaginationTimeBreak() {
	startMs := int64(1704067200000)
	endMs := startMs + 60*60000 // one hour

	// A full page whose last kline closes past the end of the range must stop
	// pagination after a single request.
	fullPage := klinePage(startMs, 500)
	fullPage[499].CloseTime = endMs + 1000

	mockAPI := &mockBinanceAPIClient{klinesPerCall: [][]*binance.Kline{fullPage}}
	mockW := &mockWriter{outputPath: "/tmp/timebreak.parquet"}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	path, err := client.Download(context.Background(), "BTCUSDT", time.UnixMilli(startMs), time.UnixMilli(endMs), types.Interval1m, func(current float64, total float64, message string) {})
	suite.NoError(err)
	suite.Equal("/tmp/timebreak.parquet", path)
	suite.Len(mockW.writtenData, 500)
	suite.Equal(1, mockAPI.callCount)
}

func (suite *BinanceClientTestSuite) TestDownloadPaginationAPIErrorOnSecondPage() {
	startMs := int64(1704067200000)
	firstPage := klinePage(startMs, 500)

	mockAPI := &mockBinanceAPIClient{
		klinesPerCall: [][]*binance.Kline{firstPage, nil},
		errorsPerCall: []error{nil, errors.New("connection timeout")},
	}
	mockW := &mockWriter{outputPath: "/tmp/test.parquet"}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.UnixMilli(startMs)
	endDate := time.UnixMilli(startMs + 1000*60000)

	_, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to fetch klines from Binance")
	suite.Contains(err.Error(), "connection timeout")
	// The first page was written before the failure.
	suite.Len(mockW.writtenData, 500)
}

func (suite *BinanceClientTestSuite) TestDownloadPaginationWriteErrorOnSecondPage() {
	startMs := int64(1704067200000)
	firstPage := klinePage(startMs, 500)
	secondPage := klinePage(startMs+500*60000, 1)

	mockAPI := &mockBinanceAPIClient{klinesPerCall: [][]*binance.Kline{firstPage, secondPage}}
	mockW := &mockWriter{
		writeErr:       errors.New("disk full"),
		writeErrAfterN: 500,
	}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.UnixMilli(startMs)
	endDate := time.UnixMilli(startMs + 1000*60000)

	_, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to process klines")
}

func (suite *BinanceClientTestSuite) TestDownloadProgressCallback() {
	mockAPI := &mockBinanceAPIClient{klines: klinePage(1704067200000, 1)}
	mockW := &mockWriter{outputPath: "/tmp/test.parquet"}

	client := NewBinanceClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	progressCalled := false

	var gotTotal float64

	_, err := client.Download(context.Background(), "BTCUSDT", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {
		progressCalled = true
		gotTotal = total
		suite.GreaterOrEqual(current, float64(0))
		suite.LessOrEqual(current, total)
		suite.Contains(message, "BTCUSDT")
	})
	suite.NoError(err)
	suite.True(progressCalled)
	// Totals are relative to the requested range, not absolute timestamps.
	suite.Equal(float64(endDate.Sub(startDate).Milliseconds()), gotTotal)
}
