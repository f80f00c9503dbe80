// Package lifecycle drives a single trade from Planned to Settled or Failed.
// Machines never sleep: retry backoff and confirmation waits are expressed as
// not-before timestamps checked on the next Step call, so the wall clock and
// the backtest clock drive the identical code path.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/internal/execution"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

// Settler applies confirmed fills to the portfolio and archives terminal
// trades. portfolio.Ledger satisfies it.
type Settler interface {
	OpenOrIncrease(asset string, quantity, price float64, timestamp time.Time) error
	ReduceOrClose(asset string, quantity, price float64, timestamp time.Time) (float64, error)
	SetTriggers(asset string, stopLoss, takeProfit optional.Option[float64]) error
	RecordTrade(trade types.Trade) error
}

// Policy bounds the retry and settlement behavior of a single trade.
type Policy struct {
	// SlippageTolerance is the maximum relative deviation of the fill price
	// from the planned price. A fill beyond it fails the trade instead of
	// settling.
	SlippageTolerance float64
	// MaxAttempts is the total transient-error budget across submits and polls.
	MaxAttempts int
	// RetryBackoff is the delay after the first transient error. It doubles
	// per error, capped at eight times the initial value.
	RetryBackoff time.Duration
	// ConfirmationTimeout bounds how long a submitted order may stay
	// unconfirmed before the trade fails.
	ConfirmationTimeout time.Duration
}

// DefaultPolicy returns the execution defaults used when the configuration
// leaves them unset.
func DefaultPolicy() Policy {
	return Policy{
		SlippageTolerance:   0.01,
		MaxAttempts:         5,
		RetryBackoff:        time.Second,
		ConfirmationTimeout: 5 * time.Minute,
	}
}

// Machine owns one trade. It is not safe for concurrent use; the scheduler
// drives each machine from a single goroutine.
type Machine struct {
	trade   types.Trade
	adapter execution.Adapter
	settler Settler
	policy  Policy
	logger  *logger.Logger

	handle    execution.Handle
	notBefore time.Time
	// failures counts transient adapter errors across submits and polls.
	// The trade fails when it reaches Policy.MaxAttempts.
	failures int
}

// NewMachine creates a machine for a freshly planned trade.
func NewMachine(trade types.Trade, adapter execution.Adapter, settler Settler, policy Policy, logger *logger.Logger) (*Machine, error) {
	if trade.State != types.TradeStatePlanned {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "trade %s is %s, machines start from %s", trade.ID, trade.State, types.TradeStatePlanned)
	}

	if policy.MaxAttempts < 1 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "max attempts must be at least 1, got %d", policy.MaxAttempts)
	}

	return &Machine{
		trade:     trade,
		adapter:   adapter,
		settler:   settler,
		policy:    policy,
		logger:    logger,
		handle:    execution.Handle{ID: "", VenueOrderID: "", Asset: ""},
		notBefore: time.Time{},
		failures:  0,
	}, nil
}

// GetTrade returns a copy of the trade in its current state.
func (m *Machine) GetTrade() types.Trade {
	return m.trade
}

// Done reports whether the trade reached a terminal state.
func (m *Machine) Done() bool {
	return m.trade.State.IsTerminal()
}

// NotBefore returns the earliest time the next Step will do work.
func (m *Machine) NotBefore() time.Time {
	return m.notBefore
}

// Step advances the trade by at most one transition. It is a no-op before the
// backoff deadline and after a terminal state. The returned error reports
// bookkeeping failures only; adapter and ledger refusals are absorbed into
// the trade's own state.
func (m *Machine) Step(ctx context.Context, now time.Time) error {
	if m.trade.State.IsTerminal() {
		return nil
	}

	if now.Before(m.notBefore) {
		return nil
	}

	switch m.trade.State {
	case types.TradeStatePlanned:
		return m.submit(ctx, now)
	case types.TradeStateSubmitted, types.TradeStateConfirming:
		return m.confirm(ctx, now)
	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "trade %s in unexpected state %s", m.trade.ID, m.trade.State)
	}
}

// Abort routes a non-terminal trade to Failed. The scheduler uses it when the
// cycle deadline expires with the trade still unresolved; the venue-side order,
// if any, is left alone.
func (m *Machine) Abort(now time.Time, reason types.Reason) error {
	if m.trade.State.IsTerminal() {
		return nil
	}

	return m.fail(now, reason)
}

func (m *Machine) submit(ctx context.Context, now time.Time) error {
	// incremented before the call so the adapter can tell a first submission
	// from a retry and look up the original order
	m.trade.Attempts++

	handle, err := m.adapter.Submit(ctx, m.trade)
	if err != nil {
		return m.handleAttemptError(now, "submit", err)
	}

	m.handle = handle
	m.trade.State = types.TradeStateSubmitted
	m.trade.VenueOrderID = optional.Some(handle.VenueOrderID)
	m.trade.SubmittedAt = optional.Some(now)

	m.logger.Info("trade submitted",
		zap.String("trade", m.trade.ID),
		zap.String("asset", m.trade.Asset),
		zap.String("venue_order", handle.VenueOrderID),
		zap.Int("attempt", m.trade.Attempts))

	return nil
}

func (m *Machine) confirm(ctx context.Context, now time.Time) error {
	outcome, err := m.adapter.Poll(ctx, m.handle)
	if err != nil {
		return m.handleAttemptError(now, "poll", err)
	}

	switch outcome.Status {
	case execution.OutcomeStatusPending:
		if m.trade.State == types.TradeStateSubmitted {
			m.trade.State = types.TradeStateConfirming
		}

		submittedAt := m.trade.SubmittedAt.TakeOr(m.trade.CreatedAt)
		if now.Sub(submittedAt) > m.policy.ConfirmationTimeout {
			return m.fail(now, types.Reason{
				Reason:  types.FailureReasonConfirmationTimeout,
				Message: fmt.Sprintf("no confirmation within %s of submission", m.policy.ConfirmationTimeout),
			})
		}

		return nil

	case execution.OutcomeStatusConfirmed:
		m.trade.State = types.TradeStateConfirming

		return m.settle(now, outcome)

	case execution.OutcomeStatusRejected:
		return m.fail(now, outcome.Reason)

	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "unknown poll outcome status %s", outcome.Status)
	}
}

// settle applies the confirmed fill to the ledger. This is the only place a
// trade mutates the portfolio, and it runs at most once per trade.
func (m *Machine) settle(now time.Time, outcome execution.Outcome) error {
	if m.trade.SlippageExceeded(outcome.FilledPrice, m.policy.SlippageTolerance) {
		return m.fail(now, types.Reason{
			Reason: types.FailureReasonSlippageViolation,
			Message: fmt.Sprintf("fill price %.8f deviates from planned %.8f beyond tolerance %.4f",
				outcome.FilledPrice, m.trade.PlannedPrice, m.policy.SlippageTolerance),
		})
	}

	var (
		realized float64
		err      error
	)

	switch m.trade.Side {
	case types.TradeSideBuy:
		err = m.settler.OpenOrIncrease(m.trade.Asset, outcome.FilledQuantity, outcome.FilledPrice, now)
	case types.TradeSideSell:
		realized, err = m.settler.ReduceOrClose(m.trade.Asset, outcome.FilledQuantity, outcome.FilledPrice, now)
	default:
		err = errors.Newf(errors.ErrCodeInvalidParameter, "unsupported trade side: %s", m.trade.Side)
	}

	if err != nil {
		return m.fail(now, types.Reason{
			Reason:  types.FailureReasonLedgerRejected,
			Message: err.Error(),
		})
	}

	if m.trade.Side == types.TradeSideBuy && (m.trade.StopLossPrice.IsSome() || m.trade.TakeProfitPrice.IsSome()) {
		if err := m.settler.SetTriggers(m.trade.Asset, m.trade.StopLossPrice, m.trade.TakeProfitPrice); err != nil {
			m.logger.Warn("failed to arm position triggers",
				zap.String("trade", m.trade.ID),
				zap.String("asset", m.trade.Asset),
				zap.Error(err))
		}
	}

	m.trade.State = types.TradeStateSettled
	m.trade.FilledQuantity = outcome.FilledQuantity
	m.trade.FilledPrice = outcome.FilledPrice
	m.trade.RealizedPnL = realized
	m.trade.SettledAt = optional.Some(now)

	if err := m.settler.RecordTrade(m.trade); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerInvariant, "failed to record settled trade", err)
	}

	m.logger.Info("trade settled",
		zap.String("trade", m.trade.ID),
		zap.String("asset", m.trade.Asset),
		zap.String("side", string(m.trade.Side)),
		zap.Float64("quantity", outcome.FilledQuantity),
		zap.Float64("price", outcome.FilledPrice),
		zap.Float64("realized_pnl", realized))

	return nil
}

// handleAttemptError decides between retrying after backoff and failing the
// trade. Only ErrCodeAdapterTransient is retryable, and only within the
// attempt budget.
func (m *Machine) handleAttemptError(now time.Time, operation string, err error) error {
	if !errors.HasCode(err, errors.ErrCodeAdapterTransient) {
		return m.fail(now, types.Reason{
			Reason:  types.FailureReasonAdapterRejected,
			Message: err.Error(),
		})
	}

	m.failures++
	if m.failures >= m.policy.MaxAttempts {
		return m.fail(now, types.Reason{
			Reason:  types.FailureReasonRetryBudgetExhausted,
			Message: fmt.Sprintf("%s failed %d times, last error: %s", operation, m.failures, err.Error()),
		})
	}

	delay := m.backoff()
	m.notBefore = now.Add(delay)

	m.logger.Warn("transient adapter error, backing off",
		zap.String("trade", m.trade.ID),
		zap.String("operation", operation),
		zap.Int("failures", m.failures),
		zap.Duration("backoff", delay),
		zap.Error(err))

	return nil
}

func (m *Machine) backoff() time.Duration {
	exponent := m.failures - 1
	if exponent > 3 {
		exponent = 3
	}

	return m.policy.RetryBackoff << uint(exponent)
}

func (m *Machine) fail(now time.Time, reason types.Reason) error {
	m.trade.State = types.TradeStateFailed
	m.trade.FailureReason = optional.Some(reason)

	if err := m.settler.RecordTrade(m.trade); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerInvariant, "failed to record failed trade", err)
	}

	m.logger.Warn("trade failed",
		zap.String("trade", m.trade.ID),
		zap.String("asset", m.trade.Asset),
		zap.String("reason", reason.Reason),
		zap.String("message", reason.Message),
		zap.Time("at", now))

	return nil
}
