package live_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/pyxis-lab/pyxis-executor/e2e/live/mockvenue"
	"github.com/pyxis-lab/pyxis-executor/internal/execution"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/pricing"
	"github.com/pyxis-lab/pyxis-executor/internal/reconcile"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
)

// VenueAdapterE2ETestSuite drives the live pricing provider, execution
// adapter, and balance source directly against the mock venue, without the
// engine in between.
type VenueAdapterE2ETestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestVenueAdapterE2E(t *testing.T) {
	suite.Run(t, new(VenueAdapterE2ETestSuite))
}

func (suite *VenueAdapterE2ETestSuite) SetupSuite() {
	// Create a no-op logger
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.OutputPaths = []string{}
	loggerConfig.ErrorOutputPaths = []string{}
	zapLogger, err := loggerConfig.Build()
	suite.Require().NoError(err)
	suite.logger = &logger.Logger{Logger: zapLogger}
}

func (suite *VenueAdapterE2ETestSuite) startVenue(config mockvenue.VenueConfig) *mockvenue.Server {
	server := mockvenue.NewServer(config)
	suite.Require().NoError(server.Start(":0"))
	suite.T().Cleanup(func() {
		_ = server.Stop()
	})

	return server
}

func standardVenue() mockvenue.VenueConfig {
	return mockvenue.VenueConfig{
		InitialBalances: map[string]float64{"USDT": 10000},
		InitialPrices:   map[string]float64{"BTCUSDT": 50000},
		Spread:          0,
		BookDepth:       25,
	}
}

func plannedTrade(asset string, side types.TradeSide, quantity, price float64) types.Trade {
	return types.Trade{
		ID:              uuid.NewString(),
		SequenceNumber:  1,
		CycleNumber:     1,
		Asset:           asset,
		Side:            side,
		Direction:       types.TradeDirectionOpen,
		PlannedQuantity: quantity,
		PlannedPrice:    price,
		Reason: types.Reason{
			Reason:  types.IntentReasonStrategy,
			Message: "venue test trade",
		},
		State:     types.TradeStateSubmitted,
		Attempts:  1,
		CreatedAt: time.Now(),
	}
}

func (suite *VenueAdapterE2ETestSuite) TestLiveQuoteReflectsBook() {
	server := suite.startVenue(standardVenue())
	provider := pricing.NewLiveProvider("test-key", "test-secret", server.BaseURL(), "USDT", false, suite.logger)

	quote, err := provider.Quote(context.Background(), "BTC", time.Now())
	suite.Require().NoError(err)
	suite.Equal("BTC", quote.Asset)
	suite.InDelta(50000.0, quote.Price, 1e-6)
	suite.InDelta(25.0, quote.Liquidity, 1e-6)

	server.SetPrice("BTCUSDT", 51000)

	quote, err = provider.Quote(context.Background(), "BTC", time.Now())
	suite.Require().NoError(err)
	suite.InDelta(51000.0, quote.Price, 1e-6)
}

func (suite *VenueAdapterE2ETestSuite) TestLiveQuoteUnknownSymbolFails() {
	server := suite.startVenue(standardVenue())
	provider := pricing.NewLiveProvider("test-key", "test-secret", server.BaseURL(), "USDT", false, suite.logger)

	_, err := provider.Quote(context.Background(), "DOGE", time.Now())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeMarketDataFetchFailed))
}

func (suite *VenueAdapterE2ETestSuite) TestMarketOrderRoundTrip() {
	config := standardVenue()
	config.Spread = 0.004
	server := suite.startVenue(config)
	adapter := execution.NewBinanceAdapter("test-key", "test-secret", server.BaseURL(), "USDT", false, suite.logger)

	// A buy crosses the spread and fills at the ask.
	trade := plannedTrade("BTC", types.TradeSideBuy, 0.01, 50100)

	handle, err := adapter.Submit(context.Background(), trade)
	suite.Require().NoError(err)
	suite.Equal(trade.ID, handle.ID)
	suite.Equal("BTC", handle.Asset)
	suite.NotEmpty(handle.VenueOrderID)

	outcome, err := adapter.Poll(context.Background(), handle)
	suite.Require().NoError(err)
	suite.Equal(execution.OutcomeStatusConfirmed, outcome.Status)
	suite.InDelta(0.01, outcome.FilledQuantity, 1e-9)
	suite.InDelta(50100.0, outcome.FilledPrice, 1e-6)

	usdt := server.GetBalance("USDT")
	suite.Require().NotNil(usdt)
	suite.InDelta(10000.0-501.0, usdt.Free, 1e-6)

	btc := server.GetBalance("BTC")
	suite.Require().NotNil(btc)
	suite.InDelta(0.01, btc.Free, 1e-9)

	venueOrder := server.GetOrder(trade.ID)
	suite.Require().NotNil(venueOrder)
	suite.Equal(mockvenue.OrderStatusFilled, venueOrder.Status)
}

func (suite *VenueAdapterE2ETestSuite) TestResubmissionReturnsExistingOrder() {
	server := suite.startVenue(standardVenue())
	adapter := execution.NewBinanceAdapter("test-key", "test-secret", server.BaseURL(), "USDT", false, suite.logger)

	trade := plannedTrade("BTC", types.TradeSideBuy, 0.01, 50000)

	first, err := adapter.Submit(context.Background(), trade)
	suite.Require().NoError(err)

	// A retry of the same trade must find the live order instead of placing
	// a second one.
	trade.Attempts = 2

	second, err := adapter.Submit(context.Background(), trade)
	suite.Require().NoError(err)
	suite.Equal(first.VenueOrderID, second.VenueOrderID)
	suite.Equal(1, server.OrderCount())

	usdt := server.GetBalance("USDT")
	suite.Require().NotNil(usdt)
	suite.InDelta(10000.0-500.0, usdt.Free, 1e-6)
}

func (suite *VenueAdapterE2ETestSuite) TestInsufficientBalanceRejected() {
	server := suite.startVenue(standardVenue())
	adapter := execution.NewBinanceAdapter("test-key", "test-secret", server.BaseURL(), "USDT", false, suite.logger)

	// 1 BTC at 50000 against a 10000 USDT account.
	trade := plannedTrade("BTC", types.TradeSideBuy, 1.0, 50000)

	_, err := adapter.Submit(context.Background(), trade)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeAdapterRejected))
	suite.Equal(0, server.OrderCount())
}

func (suite *VenueAdapterE2ETestSuite) TestPollUnknownOrderIsTransient() {
	server := suite.startVenue(standardVenue())
	adapter := execution.NewBinanceAdapter("test-key", "test-secret", server.BaseURL(), "USDT", false, suite.logger)

	handle := execution.Handle{
		ID:           uuid.NewString(),
		VenueOrderID: "1",
		Asset:        "BTC",
	}

	_, err := adapter.Poll(context.Background(), handle)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeAdapterTransient))
}

func (suite *VenueAdapterE2ETestSuite) TestTransientErrorThenRetrySucceeds() {
	server := suite.startVenue(standardVenue())
	adapter := execution.NewBinanceAdapter("test-key", "test-secret", server.BaseURL(), "USDT", false, suite.logger)

	server.FailOrders(1)

	trade := plannedTrade("BTC", types.TradeSideBuy, 0.01, 50000)

	_, err := adapter.Submit(context.Background(), trade)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeAdapterTransient))

	// The failed placement never reached the venue, so the retry looks up
	// the client order ID, finds nothing, and places it.
	trade.Attempts = 2

	handle, err := adapter.Submit(context.Background(), trade)
	suite.Require().NoError(err)

	outcome, err := adapter.Poll(context.Background(), handle)
	suite.Require().NoError(err)
	suite.Equal(execution.OutcomeStatusConfirmed, outcome.Status)
	suite.Equal(1, server.OrderCount())
}

func (suite *VenueAdapterE2ETestSuite) TestBalanceSourceSumsLockedFunds() {
	server := suite.startVenue(standardVenue())
	server.SetBalance("USDT", 9000, 500)
	server.SetBalance("BTC", 0.25, 0.05)
	server.SetBalance("DOGE", 0, 0)

	source := reconcile.NewBinanceBalanceSource("test-key", "test-secret", server.BaseURL(), false, suite.logger)

	balances, err := source.Balances(context.Background())
	suite.Require().NoError(err)

	byAsset := make(map[string]float64)
	for _, balance := range balances {
		byAsset[balance.Asset] = balance.Quantity
	}

	suite.InDelta(9500.0, byAsset["USDT"], 1e-9)
	suite.InDelta(0.3, byAsset["BTC"], 1e-9)

	_, reported := byAsset["DOGE"]
	suite.False(reported, "zero balances should be dropped")
}

func (suite *VenueAdapterE2ETestSuite) TestSatoshiPrecisionOrder() {
	server := suite.startVenue(standardVenue())
	adapter := execution.NewBinanceAdapter("test-key", "test-secret", server.BaseURL(), "USDT", false, suite.logger)

	trade := plannedTrade("BTC", types.TradeSideBuy, 0.00000001, 50000)

	handle, err := adapter.Submit(context.Background(), trade)
	suite.Require().NoError(err)

	outcome, err := adapter.Poll(context.Background(), handle)
	suite.Require().NoError(err)
	suite.Equal(execution.OutcomeStatusConfirmed, outcome.Status)
	suite.InDelta(0.00000001, outcome.FilledQuantity, 1e-12)

	btc := server.GetBalance("BTC")
	suite.Require().NotNil(btc)
	suite.InDelta(0.00000001, btc.Free, 1e-12)

	usdt := server.GetBalance("USDT")
	suite.Require().NotNil(usdt)
	suite.InDelta(10000.0-0.0005, usdt.Free, 1e-9)
}
