package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type TradeState string

const (
	// TradeStatePlanned means the intent is recorded but nothing was sent to the venue.
	TradeStatePlanned TradeState = "PLANNED"
	// TradeStateSubmitted means the order is on its way to the venue and not yet acknowledged.
	TradeStateSubmitted TradeState = "SUBMITTED"
	// TradeStateConfirming means the venue accepted the order and a fill is awaited.
	TradeStateConfirming TradeState = "CONFIRMING"
	// TradeStateSettled means the fill was applied to the ledger. Terminal.
	TradeStateSettled TradeState = "SETTLED"
	// TradeStateFailed means the trade gave up before settling. The ledger is untouched. Terminal.
	TradeStateFailed TradeState = "FAILED"
)

// IsTerminal reports whether the state permits no further transitions.
func (s TradeState) IsTerminal() bool {
	return s == TradeStateSettled || s == TradeStateFailed
}

// Failure reason codes recorded on trades that route to FAILED.
const (
	FailureReasonAdapterRejected      string = "adapter_rejected"
	FailureReasonRetryBudgetExhausted string = "retry_budget_exhausted"
	FailureReasonSlippageViolation    string = "slippage_violation"
	FailureReasonLedgerRejected       string = "ledger_rejected"
	FailureReasonConfirmationTimeout  string = "confirmation_timeout"
	FailureReasonCycleTimeout         string = "cycle_timeout"
)

// Trade is the full lifecycle record of a single intent, from planning to
// settlement or failure. Exactly one Trade exists per accepted intent.
type Trade struct {
	ID string `yaml:"id" json:"id" csv:"id"`
	// SequenceNumber orders trades across the whole run. Assigned once, never reused.
	SequenceNumber int64 `yaml:"sequence_number" json:"sequence_number" csv:"sequence_number"`
	// CycleNumber is the strategy cycle that produced the intent.
	CycleNumber int64 `yaml:"cycle_number" json:"cycle_number" csv:"cycle_number"`

	Asset           string         `yaml:"asset" json:"asset" csv:"asset"`
	Side            TradeSide      `yaml:"side" json:"side" csv:"side"`
	Direction       TradeDirection `yaml:"direction" json:"direction" csv:"direction"`
	PlannedQuantity float64        `yaml:"planned_quantity" json:"planned_quantity" csv:"planned_quantity"`
	PlannedPrice    float64        `yaml:"planned_price" json:"planned_price" csv:"planned_price"`
	Reason          Reason         `yaml:"reason" json:"reason" csv:"reason"`

	State TradeState `yaml:"state" json:"state" csv:"state"`
	// Attempts counts submissions sent to the venue, including the one that succeeded.
	Attempts int `yaml:"attempts" json:"attempts" csv:"attempts"`
	// VenueOrderID is the venue's identifier once the order is acknowledged.
	VenueOrderID optional.Option[string] `yaml:"venue_order_id" json:"venue_order_id" csv:"venue_order_id"`

	FilledQuantity float64 `yaml:"filled_quantity" json:"filled_quantity" csv:"filled_quantity"`
	FilledPrice    float64 `yaml:"filled_price" json:"filled_price" csv:"filled_price"`
	// RealizedPnL is set on settled sells only, from the position's average entry price.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`

	StopLossPrice   optional.Option[float64] `yaml:"stop_loss_price" json:"stop_loss_price" csv:"stop_loss_price"`
	TakeProfitPrice optional.Option[float64] `yaml:"take_profit_price" json:"take_profit_price" csv:"take_profit_price"`

	CreatedAt   time.Time                  `yaml:"created_at" json:"created_at" csv:"created_at"`
	SubmittedAt optional.Option[time.Time] `yaml:"submitted_at" json:"submitted_at" csv:"submitted_at"`
	SettledAt   optional.Option[time.Time] `yaml:"settled_at" json:"settled_at" csv:"settled_at"`
	// FailureReason is set iff State is FAILED.
	FailureReason optional.Option[Reason] `yaml:"failure_reason" json:"failure_reason" csv:"failure_reason"`
}

// PlannedNotional returns planned quantity times planned price.
func (t *Trade) PlannedNotional() float64 {
	result, _ := decimal.NewFromFloat(t.PlannedQuantity).
		Mul(decimal.NewFromFloat(t.PlannedPrice)).Float64()

	return result
}

// FilledNotional returns the cash that moved when the trade settled, zero otherwise.
func (t *Trade) FilledNotional() float64 {
	if t.State != TradeStateSettled {
		return 0
	}

	result, _ := decimal.NewFromFloat(t.FilledQuantity).
		Mul(decimal.NewFromFloat(t.FilledPrice)).Float64()

	return result
}

// SlippageExceeded reports whether a fill price deviates from the planned
// price by more than tolerance, expressed as a fraction of the planned price.
func (t *Trade) SlippageExceeded(fillPrice, tolerance float64) bool {
	if t.PlannedPrice == 0 {
		return false
	}

	planned := decimal.NewFromFloat(t.PlannedPrice)
	deviation := decimal.NewFromFloat(fillPrice).Sub(planned).Abs()
	limit := planned.Mul(decimal.NewFromFloat(tolerance))

	return deviation.GreaterThan(limit)
}
