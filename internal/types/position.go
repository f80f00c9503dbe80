package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Position represents current long holdings of a single asset. Quantities are
// always positive; a position that reaches zero quantity is closed and moved
// to the snapshot's closed list.
type Position struct {
	Asset    string  `yaml:"asset" json:"asset" csv:"asset"`
	Quantity float64 `yaml:"quantity" json:"quantity" csv:"quantity"`
	// AverageEntryPrice is the volume-weighted entry price across every
	// settled buy that built the position.
	AverageEntryPrice float64 `yaml:"average_entry_price" json:"average_entry_price" csv:"average_entry_price"`

	// RealizedPnL accumulates over settled sells against the average entry price.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`
	// UnrealizedPnL is recomputed on every mark, from LastMarkPrice.
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl" csv:"unrealized_pnl"`

	LastMarkPrice float64                    `yaml:"last_mark_price" json:"last_mark_price" csv:"last_mark_price"`
	LastMarkAt    optional.Option[time.Time] `yaml:"last_mark_at" json:"last_mark_at" csv:"last_mark_at"`

	StopLossPrice   optional.Option[float64] `yaml:"stop_loss_price" json:"stop_loss_price" csv:"stop_loss_price"`
	TakeProfitPrice optional.Option[float64] `yaml:"take_profit_price" json:"take_profit_price" csv:"take_profit_price"`

	// TradeIDs lists every settled trade that touched the position, in sequence order.
	TradeIDs []string `yaml:"trade_ids" json:"trade_ids" csv:"trade_ids"`

	OpenedAt time.Time                  `yaml:"opened_at" json:"opened_at" csv:"opened_at"`
	ClosedAt optional.Option[time.Time] `yaml:"closed_at" json:"closed_at" csv:"closed_at"`
}

// CostBasis returns quantity times average entry price.
func (p *Position) CostBasis() float64 {
	result, _ := decimal.NewFromFloat(p.Quantity).
		Mul(decimal.NewFromFloat(p.AverageEntryPrice)).Float64()

	return result
}

// MarketValue returns quantity times the last mark price. Zero until the
// position has been marked at least once.
func (p *Position) MarketValue() float64 {
	result, _ := decimal.NewFromFloat(p.Quantity).
		Mul(decimal.NewFromFloat(p.LastMarkPrice)).Float64()

	return result
}

// MarkToPrice updates the mark price and recomputes unrealized pnl.
func (p *Position) MarkToPrice(price float64, at time.Time) {
	p.LastMarkPrice = price
	p.LastMarkAt = optional.Some(at)

	pnl := decimal.NewFromFloat(price).
		Sub(decimal.NewFromFloat(p.AverageEntryPrice)).
		Mul(decimal.NewFromFloat(p.Quantity))
	p.UnrealizedPnL, _ = pnl.Float64()
}
