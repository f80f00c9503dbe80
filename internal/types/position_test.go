package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PositionTestSuite struct {
	suite.Suite
}

func TestPositionSuite(t *testing.T) {
	suite.Run(t, new(PositionTestSuite))
}

func (suite *PositionTestSuite) TestCostBasis() {
	position := Position{
		Asset:             "BTC",
		Quantity:          3.0,
		AverageEntryPrice: 100.5,
	}

	suite.Equal(301.5, position.CostBasis())
}

func (suite *PositionTestSuite) TestMarketValue() {
	tests := []struct {
		name     string
		position Position
		expected float64
	}{
		{
			name: "marked position",
			position: Position{
				Quantity:      2.0,
				LastMarkPrice: 110.0,
			},
			expected: 220.0,
		},
		{
			name: "never marked",
			position: Position{
				Quantity: 2.0,
			},
			expected: 0,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Equal(tt.expected, tt.position.MarketValue())
		})
	}
}

func (suite *PositionTestSuite) TestMarkToPrice() {
	position := Position{
		Asset:             "ETH",
		Quantity:          4.0,
		AverageEntryPrice: 100.0,
	}

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	position.MarkToPrice(110.0, at)

	suite.Equal(110.0, position.LastMarkPrice)
	suite.Equal(at, position.LastMarkAt.Unwrap())
	suite.Equal(40.0, position.UnrealizedPnL)
	suite.Equal(440.0, position.MarketValue())
}

func (suite *PositionTestSuite) TestMarkToPriceLoss() {
	position := Position{
		Asset:             "ETH",
		Quantity:          2.0,
		AverageEntryPrice: 100.0,
	}

	position.MarkToPrice(95.0, time.Now())

	suite.Equal(-10.0, position.UnrealizedPnL)
}

func (suite *PositionTestSuite) TestZeroValues() {
	position := Position{}

	suite.Empty(position.Asset)
	suite.Equal(0.0, position.CostBasis())
	suite.Equal(0.0, position.MarketValue())
	suite.True(position.LastMarkAt.IsNone())
	suite.True(position.ClosedAt.IsNone())
	suite.True(position.StopLossPrice.IsNone())
	suite.True(position.TakeProfitPrice.IsNone())
}
