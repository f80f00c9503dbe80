package execution

import (
	"context"
	"sync"

	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/pricing"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

// SimulatedAdapter fills trades instantly at the quoted price, with no
// confirmation latency to model. The fill is computed at submit time and
// served unchanged by every subsequent poll, so a backtest replays the exact
// prices the decision function saw and polling stays idempotent by
// construction.
type SimulatedAdapter struct {
	pricing pricing.Provider
	logger  *logger.Logger

	mu       sync.Mutex
	outcomes map[string]Outcome
}

var _ Adapter = (*SimulatedAdapter)(nil)

func NewSimulatedAdapter(pricing pricing.Provider, logger *logger.Logger) *SimulatedAdapter {
	return &SimulatedAdapter{
		pricing:  pricing,
		logger:   logger,
		mu:       sync.Mutex{},
		outcomes: make(map[string]Outcome),
	}
}

// Submit implements Adapter. The fill price is the quote at the trade's
// creation instant; a quote the venue cannot serve or liquidity below the
// planned quantity is a terminal rejection, as a real venue would refuse the
// order rather than queue it.
func (a *SimulatedAdapter) Submit(ctx context.Context, trade types.Trade) (Handle, error) {
	a.mu.Lock()
	_, exists := a.outcomes[trade.ID]
	a.mu.Unlock()

	handle := Handle{
		ID:           trade.ID,
		VenueOrderID: "sim-" + trade.ID,
		Asset:        trade.Asset,
	}

	// resubmission of a trade already filled returns the original handle
	if exists {
		return handle, nil
	}

	quote, err := a.pricing.Quote(ctx, trade.Asset, trade.CreatedAt)
	if err != nil {
		return Handle{}, errors.Wrapf(errors.ErrCodeAdapterRejected, err, "no executable quote for %s", trade.Asset)
	}

	if trade.PlannedQuantity > quote.Liquidity {
		return Handle{}, errors.Newf(errors.ErrCodeAdapterRejected,
			"quantity %.8f exceeds available liquidity %.8f for %s",
			trade.PlannedQuantity, quote.Liquidity, trade.Asset)
	}

	outcome := Outcome{
		Status:         OutcomeStatusConfirmed,
		FilledQuantity: trade.PlannedQuantity,
		FilledPrice:    quote.Price,
		Reason:         types.Reason{Reason: "", Message: ""},
	}

	a.mu.Lock()
	a.outcomes[trade.ID] = outcome
	a.mu.Unlock()

	a.logger.Debug("simulated fill",
		zap.String("trade", trade.ID),
		zap.String("asset", trade.Asset),
		zap.Float64("quantity", outcome.FilledQuantity),
		zap.Float64("price", outcome.FilledPrice))

	return handle, nil
}

// Poll implements Adapter.
func (a *SimulatedAdapter) Poll(_ context.Context, handle Handle) (Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	outcome, ok := a.outcomes[handle.ID]
	if !ok {
		return Outcome{}, errors.Newf(errors.ErrCodeInvalidParameter, "unknown submission %s", handle.ID)
	}

	return outcome, nil
}

// Close implements Adapter.
func (a *SimulatedAdapter) Close() error {
	return nil
}
