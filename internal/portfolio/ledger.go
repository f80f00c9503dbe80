// Package portfolio holds the mutable ledger: cash, open positions, closed
// positions, and the global trade history. Mutators preserve the ledger
// invariants (cash never negative, no short positions, one history entry per
// trade) and reject any mutation that would break them without applying it.
// The ledger does no I/O; persistence and journaling live elsewhere.
package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"github.com/shopspring/decimal"
)

// Quoter is the pricing capability mark-to-market needs: one executable price
// per asset and instant.
type Quoter interface {
	Quote(ctx context.Context, asset string, at time.Time) (types.Quote, error)
}

// Ledger is the aggregate portfolio state. All access goes through its
// mutex; settlement mutations hold the write lock only for the duration of
// one trade's mutation, never across a whole trade lifecycle.
type Ledger struct {
	mu sync.RWMutex

	cash           float64
	totalDeposited float64

	positions       map[string]types.Position
	closedPositions []types.Position

	trades     []types.Trade
	tradeIndex map[string]struct{}

	cycleNumber   int64
	tradeSequence int64
	lastMarkAt    time.Time
}

// NewLedger creates a ledger holding initialCash and nothing else.
func NewLedger(initialCash float64) (*Ledger, error) {
	if initialCash < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "initial cash must not be negative, got %.2f", initialCash)
	}

	return &Ledger{
		mu:              sync.RWMutex{},
		cash:            initialCash,
		totalDeposited:  initialCash,
		positions:       make(map[string]types.Position),
		closedPositions: []types.Position{},
		trades:          []types.Trade{},
		tradeIndex:      make(map[string]struct{}),
		cycleNumber:     0,
		tradeSequence:   0,
		lastMarkAt:      time.Time{},
	}, nil
}

// RestoreLedger rebuilds a ledger from a persisted snapshot.
func RestoreLedger(snapshot types.PortfolioSnapshot) (*Ledger, error) {
	if snapshot.Cash < 0 {
		return nil, errors.Newf(errors.ErrCodeStateCorrupted, "persisted cash is negative: %.2f", snapshot.Cash)
	}

	ledger := &Ledger{
		mu:              sync.RWMutex{},
		cash:            snapshot.Cash,
		totalDeposited:  snapshot.TotalDeposited,
		positions:       make(map[string]types.Position, len(snapshot.Positions)),
		closedPositions: make([]types.Position, 0, len(snapshot.ClosedPositions)),
		trades:          make([]types.Trade, 0, len(snapshot.Trades)),
		tradeIndex:      make(map[string]struct{}, len(snapshot.Trades)),
		cycleNumber:     snapshot.CycleNumber,
		tradeSequence:   snapshot.TradeSequence,
		lastMarkAt:      snapshot.Timestamp,
	}

	for asset, position := range snapshot.Positions {
		if position.Quantity <= 0 {
			return nil, errors.Newf(errors.ErrCodeStateCorrupted, "persisted position %s has non-positive quantity %.8f", asset, position.Quantity)
		}

		ledger.positions[asset] = copyPosition(position)
	}

	for _, position := range snapshot.ClosedPositions {
		ledger.closedPositions = append(ledger.closedPositions, copyPosition(position))
	}

	for _, trade := range snapshot.Trades {
		if _, ok := ledger.tradeIndex[trade.ID]; ok {
			return nil, errors.Newf(errors.ErrCodeStateCorrupted, "persisted trade %s appears twice", trade.ID)
		}

		ledger.trades = append(ledger.trades, trade)
		ledger.tradeIndex[trade.ID] = struct{}{}
	}

	return ledger, nil
}

// Deposit adds cash from outside the trading flow.
func (l *Ledger) Deposit(amount float64) error {
	if amount <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "deposit must be positive, got %.2f", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cash, _ = decimal.NewFromFloat(l.cash).Add(decimal.NewFromFloat(amount)).Float64()
	l.totalDeposited, _ = decimal.NewFromFloat(l.totalDeposited).Add(decimal.NewFromFloat(amount)).Float64()

	return nil
}

// GetCash returns the uncommitted cash balance.
func (l *Ledger) GetCash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.cash
}

// GetTotalDeposited returns the sum of initial cash and later deposits.
func (l *Ledger) GetTotalDeposited() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.totalDeposited
}

// GetPosition returns the open position for asset, if any.
func (l *Ledger) GetPosition(asset string) (types.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	position, ok := l.positions[asset]
	if !ok {
		return types.Position{}, false
	}

	return copyPosition(position), true
}

// GetCycleNumber returns the current cycle number.
func (l *Ledger) GetCycleNumber() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.cycleNumber
}

// AdvanceCycle increments the cycle number and returns the new value.
func (l *Ledger) AdvanceCycle() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cycleNumber++

	return l.cycleNumber
}

// NextTradeSequence hands out the next trade sequence number. Numbers are
// assigned once and never reused, including across restarts.
func (l *Ledger) NextTradeSequence() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tradeSequence++

	return l.tradeSequence
}

// OpenOrIncrease settles a buy: cash decreases by quantity*price, the asset's
// position is created or grown with a volume-weighted entry price. Fails with
// ErrCodeInsufficientCash when the cost exceeds available cash, leaving the
// ledger untouched.
func (l *Ledger) OpenOrIncrease(asset string, quantity, price float64, timestamp time.Time) error {
	if quantity <= 0 || price <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "quantity and price must be positive, got %.8f at %.8f", quantity, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cost := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price))
	cashDec := decimal.NewFromFloat(l.cash)

	if cost.GreaterThan(cashDec) {
		return errors.Newf(errors.ErrCodeInsufficientCash,
			"buy %s %.8f at %.8f costs %s but only %.8f cash is available",
			asset, quantity, price, cost.String(), l.cash)
	}

	position, exists := l.positions[asset]
	if exists {
		heldQty := decimal.NewFromFloat(position.Quantity)
		heldCost := heldQty.Mul(decimal.NewFromFloat(position.AverageEntryPrice))
		newQty := heldQty.Add(decimal.NewFromFloat(quantity))

		position.Quantity, _ = newQty.Float64()
		position.AverageEntryPrice, _ = heldCost.Add(cost).Div(newQty).Float64()
	} else {
		position = types.Position{
			Asset:             asset,
			Quantity:          quantity,
			AverageEntryPrice: price,
			RealizedPnL:       0,
			UnrealizedPnL:     0,
			LastMarkPrice:     0,
			LastMarkAt:        optional.None[time.Time](),
			StopLossPrice:     optional.None[float64](),
			TakeProfitPrice:   optional.None[float64](),
			TradeIDs:          []string{},
			OpenedAt:          timestamp,
			ClosedAt:          optional.None[time.Time](),
		}
	}

	position.MarkToPrice(price, timestamp)

	l.cash, _ = cashDec.Sub(cost).Float64()
	l.positions[asset] = position
	l.lastMarkAt = timestamp

	return nil
}

// ReduceOrClose settles a sell: cash increases by quantity*price, the
// position shrinks, and the realized pnl against the average entry price is
// returned. A position that reaches zero quantity is closed and moved to the
// closed list. Fails with ErrCodeInsufficientPosition when the requested
// quantity exceeds the held quantity, leaving the ledger untouched. Short
// positions do not exist in this model.
func (l *Ledger) ReduceOrClose(asset string, quantity, price float64, timestamp time.Time) (float64, error) {
	if quantity <= 0 || price <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "quantity and price must be positive, got %.8f at %.8f", quantity, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	position, exists := l.positions[asset]
	if !exists {
		return 0, errors.Newf(errors.ErrCodeInsufficientPosition, "sell %s %.8f but no position is open", asset, quantity)
	}

	heldQty := decimal.NewFromFloat(position.Quantity)
	sellQty := decimal.NewFromFloat(quantity)

	if sellQty.GreaterThan(heldQty) {
		return 0, errors.Newf(errors.ErrCodeInsufficientPosition,
			"sell %s %.8f but only %.8f is held", asset, quantity, position.Quantity)
	}

	priceDec := decimal.NewFromFloat(price)
	proceeds := sellQty.Mul(priceDec)
	realizedDec := priceDec.Sub(decimal.NewFromFloat(position.AverageEntryPrice)).Mul(sellQty)
	realized, _ := realizedDec.Float64()

	remaining := heldQty.Sub(sellQty)

	position.Quantity, _ = remaining.Float64()
	position.RealizedPnL, _ = decimal.NewFromFloat(position.RealizedPnL).Add(realizedDec).Float64()

	l.cash, _ = decimal.NewFromFloat(l.cash).Add(proceeds).Float64()
	l.lastMarkAt = timestamp

	if remaining.IsZero() {
		position.UnrealizedPnL = 0
		position.LastMarkPrice = price
		position.LastMarkAt = optional.Some(timestamp)
		position.ClosedAt = optional.Some(timestamp)
		l.closedPositions = append(l.closedPositions, position)
		delete(l.positions, asset)

		return realized, nil
	}

	position.MarkToPrice(price, timestamp)
	l.positions[asset] = position

	return realized, nil
}

// SetTriggers attaches stop-loss and take-profit prices to an open position.
func (l *Ledger) SetTriggers(asset string, stopLoss, takeProfit optional.Option[float64]) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	position, exists := l.positions[asset]
	if !exists {
		return errors.Newf(errors.ErrCodePositionNotFound, "no open position for %s", asset)
	}

	position.StopLossPrice = stopLoss
	position.TakeProfitPrice = takeProfit
	l.positions[asset] = position

	return nil
}

// MarkToMarket refreshes every open position's unrealized pnl from the
// quoter. Cost basis is never touched. A failed quote leaves that position at
// its previous mark; the remaining positions are still marked and the first
// failure is returned.
func (l *Ledger) MarkToMarket(ctx context.Context, quoter Quoter, timestamp time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error

	for asset, position := range l.positions {
		quote, err := quoter.Quote(ctx, asset, timestamp)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(errors.GetCode(err), err, "mark to market failed for %s", asset)
			}

			continue
		}

		position.MarkToPrice(quote.Price, timestamp)
		l.positions[asset] = position
	}

	l.lastMarkAt = timestamp

	return firstErr
}

// RecordTrade archives a trade that reached a terminal state into the global
// history, keeping the history ordered by sequence number. Settled trades are
// also back-referenced from their position. Recording the same trade twice is
// an invariant violation.
func (l *Ledger) RecordTrade(trade types.Trade) error {
	if !trade.State.IsTerminal() {
		return errors.Newf(errors.ErrCodeLedgerInvariant, "trade %s is %s, only terminal trades are recorded", trade.ID, trade.State)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tradeIndex[trade.ID]; ok {
		return errors.Newf(errors.ErrCodeLedgerInvariant, "trade %s is already recorded", trade.ID)
	}

	insertAt := len(l.trades)
	for insertAt > 0 && l.trades[insertAt-1].SequenceNumber > trade.SequenceNumber {
		insertAt--
	}

	l.trades = append(l.trades, types.Trade{})
	copy(l.trades[insertAt+1:], l.trades[insertAt:])
	l.trades[insertAt] = trade
	l.tradeIndex[trade.ID] = struct{}{}

	if trade.State == types.TradeStateSettled {
		if position, ok := l.positions[trade.Asset]; ok {
			position.TradeIDs = append(position.TradeIDs, trade.ID)
			l.positions[trade.Asset] = position
		} else if n := len(l.closedPositions); n > 0 && l.closedPositions[n-1].Asset == trade.Asset {
			l.closedPositions[n-1].TradeIDs = append(l.closedPositions[n-1].TradeIDs, trade.ID)
		}
	}

	return nil
}

// GetTrades returns the trades matching the filter, ordered by sequence number.
func (l *Ledger) GetTrades(filter types.TradeFilter) []types.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := []types.Trade{}

	for _, trade := range l.trades {
		if !filter.Matches(&trade) {
			continue
		}

		result = append(result, trade)

		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}

	return result
}

// GetSnapshot returns a deep copy of the whole ledger. Mutating the snapshot
// never touches the live state.
func (l *Ledger) GetSnapshot() types.PortfolioSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positions := make(map[string]types.Position, len(l.positions))
	totalValue := decimal.NewFromFloat(l.cash)
	unrealized := decimal.Zero
	realized := decimal.Zero

	for asset, position := range l.positions {
		positions[asset] = copyPosition(position)
		totalValue = totalValue.Add(decimal.NewFromFloat(position.MarketValue()))
		unrealized = unrealized.Add(decimal.NewFromFloat(position.UnrealizedPnL))
		realized = realized.Add(decimal.NewFromFloat(position.RealizedPnL))
	}

	closed := make([]types.Position, 0, len(l.closedPositions))
	for _, position := range l.closedPositions {
		closed = append(closed, copyPosition(position))
		realized = realized.Add(decimal.NewFromFloat(position.RealizedPnL))
	}

	trades := make([]types.Trade, 0, len(l.trades))
	for _, trade := range l.trades {
		trades = append(trades, trade)
	}

	snapshot := types.PortfolioSnapshot{
		Timestamp:       l.lastMarkAt,
		Cash:            l.cash,
		TotalDeposited:  l.totalDeposited,
		CycleNumber:     l.cycleNumber,
		TradeSequence:   l.tradeSequence,
		Positions:       positions,
		ClosedPositions: closed,
		Trades:          trades,
		TotalValue:      0,
		RealizedPnL:     0,
		UnrealizedPnL:   0,
	}
	snapshot.TotalValue, _ = totalValue.Float64()
	snapshot.RealizedPnL, _ = realized.Float64()
	snapshot.UnrealizedPnL, _ = unrealized.Float64()

	return snapshot
}

// ForceSetCash overwrites the cash balance during a reconciliation
// correction and returns the previous value.
func (l *Ledger) ForceSetCash(amount float64) (float64, error) {
	if amount < 0 {
		return 0, errors.Newf(errors.ErrCodeLedgerInvariant, "cash must not be negative, got %.2f", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	previous := l.cash
	l.cash = amount

	return previous, nil
}

// ForceSetPositionQuantity overwrites an open position's quantity during a
// reconciliation correction and returns the previous quantity. Setting zero
// closes the position; a position created from nothing carries a zero entry
// price, so its cost basis stays honest about being unknown.
func (l *Ledger) ForceSetPositionQuantity(asset string, quantity float64, timestamp time.Time) (float64, error) {
	if quantity < 0 {
		return 0, errors.Newf(errors.ErrCodeLedgerInvariant, "position quantity must not be negative, got %.8f", quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	position, exists := l.positions[asset]
	if !exists {
		if quantity == 0 {
			return 0, nil
		}

		l.positions[asset] = types.Position{
			Asset:             asset,
			Quantity:          quantity,
			AverageEntryPrice: 0,
			RealizedPnL:       0,
			UnrealizedPnL:     0,
			LastMarkPrice:     0,
			LastMarkAt:        optional.None[time.Time](),
			StopLossPrice:     optional.None[float64](),
			TakeProfitPrice:   optional.None[float64](),
			TradeIDs:          []string{},
			OpenedAt:          timestamp,
			ClosedAt:          optional.None[time.Time](),
		}

		return 0, nil
	}

	previous := position.Quantity

	if quantity == 0 {
		position.Quantity = 0
		position.UnrealizedPnL = 0
		position.ClosedAt = optional.Some(timestamp)
		l.closedPositions = append(l.closedPositions, position)
		delete(l.positions, asset)

		return previous, nil
	}

	position.Quantity = quantity
	if position.LastMarkPrice > 0 {
		position.MarkToPrice(position.LastMarkPrice, timestamp)
	}

	l.positions[asset] = position

	return previous, nil
}

func copyPosition(position types.Position) types.Position {
	tradeIDs := make([]string, len(position.TradeIDs))
	copy(tradeIDs, position.TradeIDs)
	position.TradeIDs = tradeIDs

	return position
}
