package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PortfolioTestSuite struct {
	suite.Suite
}

func TestPortfolioSuite(t *testing.T) {
	suite.Run(t, new(PortfolioTestSuite))
}

func (suite *PortfolioTestSuite) TestTotalReturn() {
	tests := []struct {
		name     string
		snapshot PortfolioSnapshot
		expected float64
	}{
		{
			name: "positive return",
			snapshot: PortfolioSnapshot{
				TotalDeposited: 1000.0,
				TotalValue:     1100.0,
			},
			expected: 0.1,
		},
		{
			name: "negative return",
			snapshot: PortfolioSnapshot{
				TotalDeposited: 1000.0,
				TotalValue:     900.0,
			},
			expected: -0.1,
		},
		{
			name: "flat",
			snapshot: PortfolioSnapshot{
				TotalDeposited: 1000.0,
				TotalValue:     1000.0,
			},
			expected: 0,
		},
		{
			name:     "nothing deposited",
			snapshot: PortfolioSnapshot{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Equal(tt.expected, tt.snapshot.TotalReturn())
		})
	}
}

func (suite *PortfolioTestSuite) TestPositionLookup() {
	snapshot := PortfolioSnapshot{
		Positions: map[string]Position{
			"BTC": {Asset: "BTC", Quantity: 1.0},
		},
	}

	position, ok := snapshot.Position("BTC")
	suite.True(ok)
	suite.Equal(1.0, position.Quantity)

	_, ok = snapshot.Position("ETH")
	suite.False(ok)
}

func (suite *PortfolioTestSuite) TestTradeFilterMatches() {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trade := Trade{
		Asset:     "BTC",
		State:     TradeStateSettled,
		CreatedAt: base,
	}

	tests := []struct {
		name    string
		filter  TradeFilter
		matches bool
	}{
		{name: "empty filter matches all", filter: TradeFilter{}, matches: true},
		{name: "asset match", filter: TradeFilter{Asset: "BTC"}, matches: true},
		{name: "asset mismatch", filter: TradeFilter{Asset: "ETH"}, matches: false},
		{name: "state match", filter: TradeFilter{States: []TradeState{TradeStateSettled}}, matches: true},
		{
			name:    "state list match",
			filter:  TradeFilter{States: []TradeState{TradeStateFailed, TradeStateSettled}},
			matches: true,
		},
		{name: "state mismatch", filter: TradeFilter{States: []TradeState{TradeStateFailed}}, matches: false},
		{name: "start time before", filter: TradeFilter{StartTime: base.Add(-time.Hour)}, matches: true},
		{name: "start time after", filter: TradeFilter{StartTime: base.Add(time.Hour)}, matches: false},
		{name: "end time after", filter: TradeFilter{EndTime: base.Add(time.Hour)}, matches: true},
		{name: "end time before", filter: TradeFilter{EndTime: base.Add(-time.Hour)}, matches: false},
		{
			name: "combined filter",
			filter: TradeFilter{
				Asset:     "BTC",
				States:    []TradeState{TradeStateSettled},
				StartTime: base.Add(-time.Hour),
				EndTime:   base.Add(time.Hour),
			},
			matches: true,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Equal(tt.matches, tt.filter.Matches(&trade))
		})
	}
}
