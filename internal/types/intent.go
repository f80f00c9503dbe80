package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
)

type TradeSide string

type TradeDirection string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

const (
	// TradeDirectionOpen creates a new position for the asset.
	TradeDirectionOpen TradeDirection = "OPEN"
	// TradeDirectionIncrease adds to an existing position.
	TradeDirectionIncrease TradeDirection = "INCREASE"
	// TradeDirectionReduce sells part of an existing position.
	TradeDirectionReduce TradeDirection = "REDUCE"
	// TradeDirectionClose sells the full remaining quantity.
	TradeDirectionClose TradeDirection = "CLOSE"
)

const (
	IntentReasonStrategy   string = "strategy"
	IntentReasonStopLoss   string = "stop_loss"
	IntentReasonTakeProfit string = "take_profit"
	IntentReasonRepair     string = "repaired_at_startup"
)

type Reason struct {
	Reason  string `yaml:"reason" json:"reason" csv:"reason" validate:"required"`
	Message string `yaml:"message" json:"message" csv:"message"`
}

// TradeIntent is a requested, not-yet-executed trade produced by a decision
// function. The scheduler turns each intent into a lifecycle machine; the
// intent itself never touches the ledger.
type TradeIntent struct {
	Asset    string    `yaml:"asset" json:"asset" csv:"asset" validate:"required"`
	Side     TradeSide `yaml:"side" json:"side" csv:"side" validate:"required,oneof=BUY SELL"`
	Quantity float64   `yaml:"quantity" json:"quantity" csv:"quantity" validate:"required,gt=0"`
	// Price is the planned execution price, normally the quote the decision
	// function saw. Fills are checked against it for slippage.
	Price  float64 `yaml:"price" json:"price" csv:"price" validate:"required,gt=0"`
	Reason Reason  `yaml:"reason" json:"reason" csv:"reason" validate:"required"`
	// StopLossPrice closes the resulting position when the quote falls to it. Buy intents only.
	StopLossPrice optional.Option[float64] `yaml:"stop_loss_price" json:"stop_loss_price" csv:"stop_loss_price"`
	// TakeProfitPrice closes the resulting position when the quote rises to it. Buy intents only.
	TakeProfitPrice optional.Option[float64] `yaml:"take_profit_price" json:"take_profit_price" csv:"take_profit_price"`
}

// Validate validates the TradeIntent struct.
func (ti *TradeIntent) Validate() error {
	validate := validator.New()

	if err := validate.Struct(ti); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidIntent, "invalid trade intent", err)
	}

	if ti.Side == TradeSideSell {
		if ti.StopLossPrice.IsSome() || ti.TakeProfitPrice.IsSome() {
			return errors.New(errors.ErrCodeInvalidIntent, "trigger prices are only valid on buy intents")
		}
	}

	if ti.StopLossPrice.IsSome() && ti.StopLossPrice.Unwrap() >= ti.Price {
		return errors.Newf(errors.ErrCodeInvalidIntent,
			"stop loss %.8f must be below the planned price %.8f",
			ti.StopLossPrice.Unwrap(), ti.Price)
	}

	if ti.TakeProfitPrice.IsSome() && ti.TakeProfitPrice.Unwrap() <= ti.Price {
		return errors.Newf(errors.ErrCodeInvalidIntent,
			"take profit %.8f must be above the planned price %.8f",
			ti.TakeProfitPrice.Unwrap(), ti.Price)
	}

	return nil
}
