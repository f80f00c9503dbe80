package provider

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/polygon-io/client-go/rest/models"
	"github.com/stretchr/testify/suite"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

// mockPolygonAPIClient implements PolygonAPIClient for testing.
type mockPolygonAPIClient struct {
	iterator PolygonAggsIterator
}

func (m *mockPolygonAPIClient) ListAggs(_ context.Context, _ *models.ListAggsParams, _ ...models.RequestOption) PolygonAggsIterator {
	return m.iterator
}

// mockPolygonIterator implements PolygonAggsIterator for testing.
type mockPolygonIterator struct {
	aggs  []models.Agg
	index int
	err   error
}

func (m *mockPolygonIterator) Next() bool {
	if m.index < len(m.aggs) {
		m.index++

		return true
	}

	return false
}

func (m *mockPolygonIterator) Item() models.Agg {
	if m.index > 0 && m.index <= len(m.aggs) {
		return m.aggs[m.index-1]
	}

	return models.Agg{}
}

func (m *mockPolygonIterator) Err() error {
	return m.err
}

func aggAt(t time.Time) models.Agg {
	return models.Agg{
		Timestamp: models.Millis(t),
		Open:      100.0,
		High:      101.0,
		Low:       99.0,
		Close:     100.5,
		Volume:    1000000,
	}
}

type PolygonClientTestSuite struct {
	suite.Suite
}

func TestPolygonClientSuite(t *testing.T) {
	suite.Run(t, new(PolygonClientTestSuite))
}

func (suite *PolygonClientTestSuite) TestNewPolygonClientValidApiKey() {
	client, err := NewPolygonClient("test-api-key")
	suite.NoError(err)
	suite.NotNil(client)
	suite.NotNil(client.apiClient)
	suite.Nil(client.writer)
}

func (suite *PolygonClientTestSuite) TestNewPolygonClientEmptyApiKey() {
	client, err := NewPolygonClient("")
	suite.Error(err)
	suite.Nil(client)
	suite.Contains(err.Error(), "apiKey is required")
}

func (suite *PolygonClientTestSuite) TestNewPolygonClientWithAPI() {
	mockAPI := &mockPolygonAPIClient{}
	client := NewPolygonClientWithAPI(mockAPI)
	suite.NotNil(client)
	suite.Equal(mockAPI, client.apiClient)
	suite.Nil(client.writer)
}

func (suite *PolygonClientTestSuite) TestConfigWriter() {
	client, err := NewPolygonClient("test-api-key")
	suite.Require().NoError(err)
	suite.Nil(client.writer)

	mockW := &mockWriter{outputPath: "/tmp/test.parquet"}
	client.ConfigWriter(mockW)
	suite.Equal(mockW, client.writer)
}

func (suite *PolygonClientTestSuite) TestPolygonRangeFor() {
	tests := []struct {
		name           string
		interval       types.Interval
		wantMultiplier int
		wantTimespan   models.Timespan
		wantErr        bool
	}{
		{name: "one minute", interval: types.Interval1m, wantMultiplier: 1, wantTimespan: models.Minute, wantErr: false},
		{name: "fifteen minutes", interval: types.Interval15m, wantMultiplier: 15, wantTimespan: models.Minute, wantErr: false},
		{name: "one hour", interval: types.Interval1h, wantMultiplier: 1, wantTimespan: models.Hour, wantErr: false},
		{name: "one day", interval: types.Interval1d, wantMultiplier: 1, wantTimespan: models.Day, wantErr: false},
		{name: "unsupported interval", interval: types.Interval("4h"), wantMultiplier: 0, wantTimespan: "", wantErr: true},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			multiplier, timespan, err := polygonRangeFor(tt.interval)
			if tt.wantErr {
				suite.Error(err)
				suite.Contains(err.Error(), "unsupported interval for Polygon")
			} else {
				suite.NoError(err)
				suite.Equal(tt.wantMultiplier, multiplier)
				suite.Equal(tt.wantTimespan, timespan)
			}
		})
	}
}

func (suite *PolygonClientTestSuite) TestDownloadWithoutWriter() {
	client, err := NewPolygonClient("test-api-key")
	suite.Require().NoError(err)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	_, err = client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "no writer configured")
}

func (suite *PolygonClientTestSuite) TestDownloadWriterInitializeError() {
	client, err := NewPolygonClient("test-api-key")
	suite.Require().NoError(err)
	client.ConfigWriter(&mockWriter{initializeErr: errors.New("initialization failed")})

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	_, err = client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to initialize writer")
}

func (suite *PolygonClientTestSuite) TestDownloadSuccess() {
	timestamp := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	aggs := []models.Agg{
		{
			Timestamp: models.Millis(timestamp),
			Open:      150.25,
			High:      155.50,
			Low:       149.00,
			Close:     154.75,
			Volume:    2500000,
		},
	}

	mockIter := &mockPolygonIterator{aggs: aggs}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{outputPath: "/tmp/test.parquet"}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	path, err := client.Download(context.Background(), "AAPL", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.NoError(err)
	suite.Equal("/tmp/test.parquet", path)
	suite.True(mockW.initialized)
	suite.Require().Len(mockW.writtenData, 1)

	data := mockW.writtenData[0]
	suite.Equal("", data.Id)
	suite.Equal("AAPL", data.Symbol)
	suite.Equal(timestamp, data.Time)
	suite.InDelta(150.25, data.Open, 0.001)
	suite.InDelta(155.50, data.High, 0.001)
	suite.InDelta(149.00, data.Low, 0.001)
	suite.InDelta(154.75, data.Close, 0.001)
	suite.InDelta(2500000, data.Volume, 0.001)
}

func (suite *PolygonClientTestSuite) TestDownloadEmptyAggs() {
	mockIter := &mockPolygonIterator{aggs: []models.Agg{}}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{outputPath: "/tmp/empty.parquet"}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	path, err := client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.NoError(err)
	suite.Equal("/tmp/empty.parquet", path)
	suite.Len(mockW.writtenData, 0)
}

func (suite *PolygonClientTestSuite) TestDownloadIteratorError() {
	mockIter := &mockPolygonIterator{
		aggs: []models.Agg{},
		err:  errors.New("API rate limit exceeded"),
	}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "error iterating polygon aggregates")
	suite.Contains(err.Error(), "API rate limit exceeded")
}

func (suite *PolygonClientTestSuite) TestDownloadWriteError() {
	mockIter := &mockPolygonIterator{aggs: []models.Agg{aggAt(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))}}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{writeErr: errors.New("disk full")}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to write data")
}

func (suite *PolygonClientTestSuite) TestDownloadFinalizeError() {
	mockIter := &mockPolygonIterator{aggs: []models.Agg{aggAt(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))}}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{finalizeErr: errors.New("finalize failed")}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to finalize writer")
}

func (suite *PolygonClientTestSuite) TestDownloadCloseError() {
	mockIter := &mockPolygonIterator{aggs: []models.Agg{aggAt(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))}}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{
		outputPath: "/tmp/test.parquet",
		closeErr:   errors.New("close failed"),
	}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "error closing writer")
}

func (suite *PolygonClientTestSuite) TestDownloadCloseErrorAfterWriteError() {
	mockIter := &mockPolygonIterator{aggs: []models.Agg{aggAt(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))}}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{
		writeErr: errors.New("write failed"),
		closeErr: errors.New("close also failed"),
	}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	// The write failure wins; the close failure is only logged.
	suite.Contains(err.Error(), "failed to write data")
	suite.Equal(1, mockW.closeCallCount)
}

func (suite *PolygonClientTestSuite) TestDownloadProgressStaysWithinRange() {
	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	baseTime := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	aggs := make([]models.Agg, 1500)
	for i := 0; i < 1500; i++ {
		aggs[i] = aggAt(baseTime.Add(time.Duration(i) * time.Minute))
	}

	mockIter := &mockPolygonIterator{aggs: aggs}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{outputPath: "/tmp/test.parquet"}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	var maxPercentage float64

	_, err := client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {
		percentage := (current / total) * 100
		if percentage > maxPercentage {
			maxPercentage = percentage
		}

		suite.LessOrEqual(current, total)
		suite.Contains(message, "SPY")
	})
	suite.NoError(err)
	suite.Len(mockW.writtenData, 1500)
	suite.Greater(maxPercentage, 0.0)
	suite.LessOrEqual(maxPercentage, 100.0)
}

func (suite *PolygonClientTestSuite) TestDownloadIteratorErrorDeletesFileWhenNoData() {
	tmpFile, err := os.CreateTemp("", "polygon_test_*.parquet")
	suite.Require().NoError(err)
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	mockIter := &mockPolygonIterator{
		aggs: []models.Agg{},
		err:  errors.New("API rate limit exceeded"),
	}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{outputPath: tmpPath}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err = client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "error iterating polygon aggregates")

	_, err = os.Stat(tmpPath)
	suite.True(os.IsNotExist(err), "partial output should be deleted when nothing was written")
}

func (suite *PolygonClientTestSuite) TestDownloadWriteErrorDeletesFileWhenNoData() {
	tmpFile, err := os.CreateTemp("", "polygon_test_*.parquet")
	suite.Require().NoError(err)
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	mockIter := &mockPolygonIterator{aggs: []models.Agg{aggAt(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))}}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{
		outputPath: tmpPath,
		writeErr:   errors.New("disk full"),
	}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err = client.Download(context.Background(), "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.Contains(err.Error(), "failed to write data")

	_, err = os.Stat(tmpPath)
	suite.True(os.IsNotExist(err), "partial output should be deleted when the first write fails")
}

func (suite *PolygonClientTestSuite) TestDownloadCancellation() {
	mockIter := &mockPolygonIterator{aggs: []models.Agg{aggAt(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))}}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{outputPath: "/tmp/test.parquet"}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := client.Download(ctx, "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.ErrorIs(err, context.Canceled)
	suite.Len(mockW.writtenData, 0)
}

func (suite *PolygonClientTestSuite) TestDownloadCancellationCleansUpFile() {
	tmpFile, err := os.CreateTemp("", "polygon_cancel_test_*.parquet")
	suite.Require().NoError(err)
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	mockIter := &mockPolygonIterator{aggs: []models.Agg{aggAt(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))}}
	mockAPI := &mockPolygonAPIClient{iterator: mockIter}
	mockW := &mockWriter{outputPath: tmpPath}

	client := NewPolygonClientWithAPI(mockAPI)
	client.ConfigWriter(mockW)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err = client.Download(ctx, "SPY", startDate, endDate, types.Interval1m, func(current float64, total float64, message string) {})
	suite.Error(err)
	suite.ErrorIs(err, context.Canceled)

	_, err = os.Stat(tmpPath)
	suite.True(os.IsNotExist(err), "partial output should be deleted when cancelled before any write")
}
