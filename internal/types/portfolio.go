package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is a point-in-time copy of the whole ledger: cash, open
// and closed positions, and every trade recorded so far. Snapshots are deep
// copies; mutating one never touches the live ledger.
type PortfolioSnapshot struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// Cash is the uncommitted balance. Never negative.
	Cash float64 `json:"cash" yaml:"cash"`
	// TotalDeposited is the sum of initial cash and later deposits, for return computation.
	TotalDeposited float64 `json:"total_deposited" yaml:"total_deposited"`

	CycleNumber int64 `json:"cycle_number" yaml:"cycle_number"`
	// TradeSequence is the last assigned trade sequence number.
	TradeSequence int64 `json:"trade_sequence" yaml:"trade_sequence"`

	Positions       map[string]Position `json:"positions" yaml:"positions"`
	ClosedPositions []Position          `json:"closed_positions" yaml:"closed_positions"`
	Trades          []Trade             `json:"trades" yaml:"trades"`

	// TotalValue is cash plus the market value of every open position at the
	// last mark.
	TotalValue    float64 `json:"total_value" yaml:"total_value"`
	RealizedPnL   float64 `json:"realized_pnl" yaml:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl" yaml:"unrealized_pnl"`
}

// TotalReturn returns the fractional return over the deposited capital.
func (s *PortfolioSnapshot) TotalReturn() float64 {
	if s.TotalDeposited == 0 {
		return 0
	}

	result, _ := decimal.NewFromFloat(s.TotalValue).
		Sub(decimal.NewFromFloat(s.TotalDeposited)).
		Div(decimal.NewFromFloat(s.TotalDeposited)).Float64()

	return result
}

// Position returns the open position for asset, if any.
func (s *PortfolioSnapshot) Position(asset string) (Position, bool) {
	p, ok := s.Positions[asset]

	return p, ok
}

// TradeFilter selects trades when querying history.
type TradeFilter struct {
	// Asset filters trades by asset (empty string means no filter)
	Asset string `json:"asset" yaml:"asset"`
	// States filters by lifecycle state (empty means no filter)
	States []TradeState `json:"states" yaml:"states"`
	// StartTime filters trades created after this time (zero time means no filter)
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	// EndTime filters trades created before this time (zero time means no filter)
	EndTime time.Time `json:"end_time" yaml:"end_time"`
	// Limit limits the number of trades returned (0 means no limit)
	Limit int `json:"limit" yaml:"limit"`
}

// Matches reports whether the trade passes every set filter field.
func (f *TradeFilter) Matches(t *Trade) bool {
	if f.Asset != "" && t.Asset != f.Asset {
		return false
	}

	if len(f.States) > 0 {
		found := false

		for _, s := range f.States {
			if t.State == s {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	if !f.StartTime.IsZero() && t.CreatedAt.Before(f.StartTime) {
		return false
	}

	if !f.EndTime.IsZero() && t.CreatedAt.After(f.EndTime) {
		return false
	}

	return true
}
