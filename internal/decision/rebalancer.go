package decision

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"github.com/shopspring/decimal"
)

// Rebalancer steers the portfolio toward fixed target weights. Each cycle it
// compares every target asset's market value against weight x total value and
// emits sells first, then buys, skipping adjustments smaller than the minimum
// notional. Buys are budgeted against the cash already settled; proceeds from
// this cycle's sells are deployed in later cycles.
type Rebalancer struct {
	weights          map[string]float64
	minTradeNotional float64
	assets           []string
}

var _ Decider = (*Rebalancer)(nil)

// NewRebalancer validates the target weights and returns a rebalancer.
// Weights must be positive and sum to at most 1; the remainder stays in cash.
func NewRebalancer(weights map[string]float64, minTradeNotional float64) (*Rebalancer, error) {
	if len(weights) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "at least one target weight is required")
	}

	if minTradeNotional < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "minimum trade notional cannot be negative, got %f", minTradeNotional)
	}

	total := decimal.Zero
	assets := make([]string, 0, len(weights))

	for asset, weight := range weights {
		if weight <= 0 || weight > 1 {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter, "weight for %s must be in (0, 1], got %f", asset, weight)
		}

		total = total.Add(decimal.NewFromFloat(weight))
		assets = append(assets, asset)
	}

	if total.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "target weights sum to %s, must not exceed 1", total.String())
	}

	sort.Strings(assets)

	return &Rebalancer{
		weights:          weights,
		minTradeNotional: minTradeNotional,
		assets:           assets,
	}, nil
}

// Name implements Decider.
func (r *Rebalancer) Name() string {
	return "target-weight-rebalancer"
}

// Decide implements Decider.
func (r *Rebalancer) Decide(ctx context.Context, view types.PortfolioSnapshot, quoter Quoter, at time.Time) ([]types.TradeIntent, error) {
	totalValue := decimal.NewFromFloat(view.TotalValue)
	cashBudget := decimal.NewFromFloat(view.Cash)
	minNotional := decimal.NewFromFloat(r.minTradeNotional)

	sells := make([]types.TradeIntent, 0)
	buys := make([]types.TradeIntent, 0)

	for _, asset := range r.assets {
		quote, err := quoter.Quote(ctx, asset, at)
		if err != nil {
			// an unpriceable asset sits out this cycle
			if errors.HasCode(err, errors.ErrCodeNoLiquidity) || errors.HasCode(err, errors.ErrCodeStaleData) {
				continue
			}

			return nil, errors.Wrapf(errors.ErrCodeDecisionFailed, err, "failed to quote %s", asset)
		}

		if quote.Price <= 0 {
			continue
		}

		price := decimal.NewFromFloat(quote.Price)
		target := decimal.NewFromFloat(r.weights[asset]).Mul(totalValue)

		held := decimal.Zero
		if position, ok := view.Positions[asset]; ok {
			held = decimal.NewFromFloat(position.Quantity)
		}

		current := held.Mul(price)
		diff := target.Sub(current)

		if diff.Abs().LessThan(minNotional) {
			continue
		}

		if diff.IsNegative() {
			quantity := diff.Abs().Div(price)
			if quantity.GreaterThan(held) {
				quantity = held
			}

			if quantity.IsZero() {
				continue
			}

			sells = append(sells, r.intent(asset, types.TradeSideSell, quantity, price))

			continue
		}

		if cashBudget.LessThan(minNotional) {
			continue
		}

		spend := diff
		if spend.GreaterThan(cashBudget) {
			spend = cashBudget
		}

		cashBudget = cashBudget.Sub(spend)
		buys = append(buys, r.intent(asset, types.TradeSideBuy, spend.Div(price), price))
	}

	return append(sells, buys...), nil
}

func (r *Rebalancer) intent(asset string, side types.TradeSide, quantity, price decimal.Decimal) types.TradeIntent {
	quantityValue, _ := quantity.Float64()
	priceValue, _ := price.Float64()

	return types.TradeIntent{
		Asset:    asset,
		Side:     side,
		Quantity: quantityValue,
		Price:    priceValue,
		Reason: types.Reason{
			Reason:  types.IntentReasonStrategy,
			Message: fmt.Sprintf("rebalance toward weight %.4f", r.weights[asset]),
		},
		StopLossPrice:   optional.None[float64](),
		TakeProfitPrice: optional.None[float64](),
	}
}
