package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pyxis-lab/pyxis-executor/internal/engine"
	"github.com/pyxis-lab/pyxis-executor/internal/lifecycle"
	"github.com/pyxis-lab/pyxis-executor/internal/store"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

// runCycle drives one full deciding, executing and reconciling pass and seals
// the result into the journal. Only a venue outage past the threshold and an
// aborting callback surface as errors; everything else is resolved inside the
// cycle and recorded on it.
func (e *ExecutorEngineV1) runCycle(ctx context.Context, at time.Time, callbacks engine.LifecycleCallbacks, current int, total int) error {
	number := e.ledger.AdvanceCycle()

	e.beginCycle(number, at)
	defer e.endCycle()

	if callbacks.OnCycleStart != nil {
		if err := (*callbacks.OnCycleStart)(number, current, total); err != nil {
			return errors.Wrapf(errors.ErrCodeCallbackFailed, err, "cycle start callback aborted cycle %d", number)
		}
	}

	if err := e.ledger.MarkToMarket(ctx, e.pricing, at); err != nil {
		e.log.Warn("Mark to market failed before deciding",
			zap.Int64("cycle", number),
			zap.Error(err),
		)
	}

	view := e.ledger.GetSnapshot()

	intents := e.triggerIntents(ctx, view, at)

	decided, err := e.decider.Decide(ctx, view, e.pricing, at)
	if err != nil {
		e.log.Error("Decision failed, protective triggers still execute",
			zap.Int64("cycle", number),
			zap.String("decider", e.decider.Name()),
			zap.Error(err),
		)
	} else {
		intents = append(intents, decided...)
	}

	machines := e.buildMachines(view, intents, number, at)

	var trades []types.Trade

	timedOut := false

	if len(machines) > 0 {
		e.setPhase(types.SchedulerStateExecuting)
		e.setActiveTrades(len(machines))

		e.executeTrades(ctx, machines, at)

		e.setActiveTrades(0)

		trades = make([]types.Trade, 0, len(machines))

		for _, machine := range machines {
			trade := machine.GetTrade()
			trades = append(trades, trade)

			if trade.FailureReason.IsSome() && trade.FailureReason.Unwrap().Reason == types.FailureReasonCycleTimeout {
				timedOut = true
			}

			switch trade.State {
			case types.TradeStateSettled:
				if callbacks.OnTradeSettled != nil {
					(*callbacks.OnTradeSettled)(trade)
				}
			case types.TradeStateFailed:
				if callbacks.OnTradeFailed != nil {
					(*callbacks.OnTradeFailed)(trade)
				}
			}
		}

		if err := e.ledger.MarkToMarket(ctx, e.pricing, e.clock.Now()); err != nil {
			e.log.Warn("Mark to market failed after executing",
				zap.Int64("cycle", number),
				zap.Error(err),
			)
		}
	}

	e.setPhase(types.SchedulerStateReconciling)

	report, reconcileErr := e.reconciler.Reconcile(ctx, e.clock.Now())
	if reconcileErr != nil {
		e.log.Warn("Reconciliation failed",
			zap.Int64("cycle", number),
			zap.Error(reconcileErr),
		)
	}

	record := e.seal(number, at, view, trades, report.Anomalies, timedOut)

	if callbacks.OnCycleEnd != nil {
		(*callbacks.OnCycleEnd)(record)
	}

	return e.trackOutage(trades, reconcileErr, number)
}

// triggerIntents closes positions whose stop loss or take profit level is
// breached at the cycle's opening quote. Trigger closes run ahead of the
// decider's intents so a protective exit cannot be starved by new orders.
func (e *ExecutorEngineV1) triggerIntents(ctx context.Context, view types.PortfolioSnapshot, at time.Time) []types.TradeIntent {
	assets := make([]string, 0, len(view.Positions))
	for asset := range view.Positions {
		assets = append(assets, asset)
	}

	sort.Strings(assets)

	var intents []types.TradeIntent

	for _, asset := range assets {
		position := view.Positions[asset]

		if position.StopLossPrice.IsNone() && position.TakeProfitPrice.IsNone() {
			continue
		}

		quote, err := e.pricing.Quote(ctx, asset, at)
		if err != nil {
			e.log.Warn("No quote for trigger check",
				zap.String("asset", asset),
				zap.Error(err),
			)

			continue
		}

		var reason types.Reason

		switch {
		case position.StopLossPrice.IsSome() && quote.Price <= position.StopLossPrice.Unwrap():
			reason = types.Reason{
				Reason:  types.IntentReasonStopLoss,
				Message: fmt.Sprintf("price %.4f at or below stop %.4f", quote.Price, position.StopLossPrice.Unwrap()),
			}
		case position.TakeProfitPrice.IsSome() && quote.Price >= position.TakeProfitPrice.Unwrap():
			reason = types.Reason{
				Reason:  types.IntentReasonTakeProfit,
				Message: fmt.Sprintf("price %.4f at or above target %.4f", quote.Price, position.TakeProfitPrice.Unwrap()),
			}
		default:
			continue
		}

		intents = append(intents, types.TradeIntent{
			Asset:    asset,
			Side:     types.TradeSideSell,
			Quantity: position.Quantity,
			Price:    quote.Price,
			Reason:   reason,
		})

		e.log.Info("Trigger close queued",
			zap.String("asset", asset),
			zap.String("reason", reason.Reason),
			zap.Float64("price", quote.Price),
		)
	}

	return intents
}

// buildMachines turns intents into planned trades with their lifecycle
// machines. Invalid intents are dropped and logged; they never reach the
// venue.
func (e *ExecutorEngineV1) buildMachines(view types.PortfolioSnapshot, intents []types.TradeIntent, number int64, at time.Time) []*lifecycle.Machine {
	policy := lifecycle.Policy{
		SlippageTolerance:   e.config.SlippageTolerance,
		MaxAttempts:         e.config.MaxAttempts,
		RetryBackoff:        e.config.RetryBackoff,
		ConfirmationTimeout: e.config.ConfirmationTimeout,
	}

	machines := make([]*lifecycle.Machine, 0, len(intents))

	for _, intent := range intents {
		if err := intent.Validate(); err != nil {
			e.log.Error("Dropping invalid intent",
				zap.Int64("cycle", number),
				zap.String("asset", intent.Asset),
				zap.Error(err),
			)

			continue
		}

		trade := types.Trade{
			ID:              uuid.NewString(),
			SequenceNumber:  e.ledger.NextTradeSequence(),
			CycleNumber:     number,
			Asset:           intent.Asset,
			Side:            intent.Side,
			Direction:       deriveDirection(view, intent),
			PlannedQuantity: intent.Quantity,
			PlannedPrice:    intent.Price,
			Reason:          intent.Reason,
			State:           types.TradeStatePlanned,
			StopLossPrice:   intent.StopLossPrice,
			TakeProfitPrice: intent.TakeProfitPrice,
			CreatedAt:       at,
		}

		machine, err := lifecycle.NewMachine(trade, e.adapter, e.ledger, policy, e.log)
		if err != nil {
			e.log.Error("Failed to build trade machine",
				zap.String("trade_id", trade.ID),
				zap.Error(err),
			)

			continue
		}

		machines = append(machines, machine)
	}

	return machines
}

// deriveDirection reads the intent against the current book. Buys open or
// increase; sells reduce, or close when they take the whole position.
func deriveDirection(view types.PortfolioSnapshot, intent types.TradeIntent) types.TradeDirection {
	position, held := view.Position(intent.Asset)

	if intent.Side == types.TradeSideBuy {
		if held {
			return types.TradeDirectionIncrease
		}

		return types.TradeDirectionOpen
	}

	if held && intent.Quantity >= position.Quantity {
		return types.TradeDirectionClose
	}

	return types.TradeDirectionReduce
}

// executeTrades drives every machine to a terminal state or to the cycle
// deadline. Each trade progresses on its own goroutine; the deadline is
// measured on the engine clock so backtests stay in their own time frame.
func (e *ExecutorEngineV1) executeTrades(ctx context.Context, machines []*lifecycle.Machine, at time.Time) {
	deadline := at.Add(e.config.CycleTimeout)

	var wg sync.WaitGroup

	for _, machine := range machines {
		wg.Add(1)

		go func() {
			defer wg.Done()
			e.driveMachine(ctx, machine, deadline)
		}()
	}

	wg.Wait()
}

func (e *ExecutorEngineV1) driveMachine(ctx context.Context, machine *lifecycle.Machine, deadline time.Time) {
	for !machine.Done() {
		now := e.clock.Now()

		if !now.Before(deadline) {
			e.abortMachine(machine, now, "cycle deadline expired before the trade settled")

			return
		}

		if err := machine.Step(ctx, now); err != nil {
			e.log.Error("Trade step failed",
				zap.String("trade_id", machine.GetTrade().ID),
				zap.Error(err),
			)
		}

		if machine.Done() {
			return
		}

		next := now.Add(e.config.PollInterval)

		if notBefore := machine.NotBefore(); notBefore.After(next) {
			next = notBefore
		}

		// Waking exactly at the deadline turns a missed settlement into an
		// abort instead of an overrun.
		if next.After(deadline) {
			next = deadline
		}

		if err := e.clock.SleepUntil(ctx, next); err != nil {
			e.abortMachine(machine, e.clock.Now(), "run stopped before the trade settled")

			return
		}
	}
}

func (e *ExecutorEngineV1) abortMachine(machine *lifecycle.Machine, now time.Time, message string) {
	reason := types.Reason{
		Reason:  types.FailureReasonCycleTimeout,
		Message: message,
	}

	if err := machine.Abort(now, reason); err != nil {
		e.log.Error("Failed to abort trade",
			zap.String("trade_id", machine.GetTrade().ID),
			zap.Error(err),
		)
	}
}

// seal journals the finished cycle and persists the ledger. Neither failure
// is fatal; the run carries on and the gap surfaces in the journal.
func (e *ExecutorEngineV1) seal(number int64, at time.Time, before types.PortfolioSnapshot, trades []types.Trade, anomalies []types.Anomaly, timedOut bool) types.CycleRecord {
	after := e.ledger.GetSnapshot()

	record := types.CycleRecord{
		Number:      number,
		DecidedAt:   at,
		Status:      cycleStatus(trades),
		TradeIDs:    tradeIDs(trades),
		ValueBefore: before.TotalValue,
		CashBefore:  before.Cash,
		ValueAfter:  after.TotalValue,
		CashAfter:   after.Cash,
		Anomalies:   anomalies,
		TimedOut:    timedOut,
		SealedAt:    e.clock.Now(),
	}

	if err := e.journal.Append(record, trades); err != nil {
		e.log.Error("Failed to journal cycle",
			zap.Int64("cycle", number),
			zap.Error(err),
		)
	}

	if err := e.store.Save(store.StateFile{RunID: e.runID, Portfolio: after}); err != nil {
		e.log.Error("Failed to persist state",
			zap.Int64("cycle", number),
			zap.Error(err),
		)
	}

	e.log.Debug("Cycle sealed",
		zap.Int64("cycle", number),
		zap.String("status", string(record.Status)),
		zap.Int("trades", len(trades)),
		zap.Float64("value", record.ValueAfter),
	)

	return record
}

// trackOutage counts consecutive cycles in which the venue was unreachable.
// A cycle counts when every trade burned its whole retry budget on transient
// failures, or the reconciliation balance fetch itself failed the same way.
func (e *ExecutorEngineV1) trackOutage(trades []types.Trade, reconcileErr error, number int64) error {
	if !venueUnreachable(trades, reconcileErr) {
		e.outageStreak = 0

		return nil
	}

	e.outageStreak++

	e.log.Warn("Venue unreachable this cycle",
		zap.Int64("cycle", number),
		zap.Int("streak", e.outageStreak),
		zap.Int("threshold", e.config.OutageThreshold),
	)

	if e.outageStreak >= e.config.OutageThreshold {
		return errors.Newf(errors.ErrCodeAdapterOutage, "venue unreachable for %d consecutive cycles", e.outageStreak)
	}

	return nil
}

func venueUnreachable(trades []types.Trade, reconcileErr error) bool {
	if reconcileErr != nil && errors.HasCode(reconcileErr, errors.ErrCodeAdapterTransient) {
		return true
	}

	if len(trades) == 0 {
		return false
	}

	for _, trade := range trades {
		if trade.State != types.TradeStateFailed || trade.FailureReason.IsNone() {
			return false
		}

		reason := trade.FailureReason.Unwrap().Reason
		if reason != types.FailureReasonRetryBudgetExhausted && reason != types.FailureReasonConfirmationTimeout {
			return false
		}
	}

	return true
}

func cycleStatus(trades []types.Trade) types.CycleStatus {
	if len(trades) == 0 {
		return types.CycleStatusEmpty
	}

	for _, trade := range trades {
		if trade.State == types.TradeStateFailed {
			return types.CycleStatusPartial
		}
	}

	return types.CycleStatusComplete
}

func tradeIDs(trades []types.Trade) []string {
	ids := make([]string, len(trades))
	for i, trade := range trades {
		ids[i] = trade.ID
	}

	return ids
}
