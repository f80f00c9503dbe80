package journal

import (
	"time"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"github.com/shopspring/decimal"
)

// Stats replays the journal into every aggregate that sealed cycles alone can
// produce. Unrealized PnL, holding times and run metadata depend on the live
// portfolio snapshot, so the engine fills those in afterwards.
func (j *Journal) Stats(initialCapital float64) (types.ExecutionStats, error) {
	cycleResult, err := j.CycleStats()
	if err != nil {
		return types.ExecutionStats{}, err
	}

	tradeResult, tradePnl, err := j.TradeStats()
	if err != nil {
		return types.ExecutionStats{}, err
	}

	series, err := j.ReturnSeries(initialCapital)
	if err != nil {
		return types.ExecutionStats{}, err
	}

	tradeResult.MaxDrawdown = MaxDrawdown(series)

	stats := types.ExecutionStats{
		Timestamp:      time.Now(),
		InitialCapital: initialCapital,
		FinalValue:     initialCapital,
		CycleResult:    cycleResult,
		TradeResult:    tradeResult,
		TradePnl:       tradePnl,
		ReturnSeries:   series,
	}

	if len(series) > 0 {
		last := series[len(series)-1]
		stats.FinalValue = last.TotalValue
		stats.TotalReturn = last.Return
	}

	return stats, nil
}

// CycleStats counts sealed cycles by status plus the anomalies journaled
// across all of them.
func (j *Journal) CycleStats() (types.CycleResult, error) {
	var result types.CycleResult

	err := j.db.QueryRow(`
		SELECT
			count(*),
			count(*) FILTER (WHERE status = $1),
			count(*) FILTER (WHERE status = $2),
			count(*) FILTER (WHERE status = $3),
			(SELECT count(*) FROM anomalies)
		FROM cycles
	`, string(types.CycleStatusComplete), string(types.CycleStatusPartial), string(types.CycleStatusEmpty)).
		Scan(&result.NumberOfCycles, &result.NumberOfCompleteCycles,
			&result.NumberOfPartialCycles, &result.NumberOfEmptyCycles, &result.NumberOfAnomalies)
	if err != nil {
		return types.CycleResult{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to aggregate cycle statistics", err)
	}

	return result, nil
}

// TradeStats counts terminal trades and sums realized PnL. Winning and losing
// counts consider settled sells only, since realized PnL exists only there;
// break-even sells fall in neither bucket. Win rate is over decided sells and
// MaxDrawdown is left to the return series.
func (j *Journal) TradeStats() (types.TradeResult, types.TradePnl, error) {
	var (
		result types.TradeResult
		pnl    types.TradePnl
	)

	err := j.db.QueryRow(`
		SELECT
			count(*),
			count(*) FILTER (WHERE state = $1),
			count(*) FILTER (WHERE state = $2),
			count(*) FILTER (WHERE state = $1 AND side = $3 AND realized_pnl > 0),
			count(*) FILTER (WHERE state = $1 AND side = $3 AND realized_pnl < 0),
			coalesce(sum(realized_pnl) FILTER (WHERE state = $1 AND side = $3), 0),
			coalesce(min(realized_pnl) FILTER (WHERE state = $1 AND side = $3), 0),
			coalesce(max(realized_pnl) FILTER (WHERE state = $1 AND side = $3), 0)
		FROM trades
	`, string(types.TradeStateSettled), string(types.TradeStateFailed), string(types.TradeSideSell)).
		Scan(&result.NumberOfTrades, &result.NumberOfSettledTrades, &result.NumberOfFailedTrades,
			&result.NumberOfWinningTrades, &result.NumberOfLosingTrades,
			&pnl.RealizedPnL, &pnl.MaximumLoss, &pnl.MaximumProfit)
	if err != nil {
		return types.TradeResult{}, types.TradePnl{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to aggregate trade statistics", err)
	}

	decided := result.NumberOfWinningTrades + result.NumberOfLosingTrades
	if decided > 0 {
		result.WinRate, _ = decimal.NewFromInt(int64(result.NumberOfWinningTrades)).
			Div(decimal.NewFromInt(int64(decided))).Float64()
	}

	return result, pnl, nil
}

// ReturnSeries replays the per-cycle portfolio value curve. Returns are
// measured against initialCapital, the cash deposited before the first cycle.
func (j *Journal) ReturnSeries(initialCapital float64) ([]types.ReturnPoint, error) {
	if initialCapital <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "initial capital must be positive, got %.2f", initialCapital)
	}

	rows, err := j.db.Query(`SELECT number, sealed_at, value_after FROM cycles ORDER BY number ASC`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read return series", err)
	}

	defer rows.Close()

	capital := decimal.NewFromFloat(initialCapital)
	series := make([]types.ReturnPoint, 0)

	for rows.Next() {
		var point types.ReturnPoint
		if err := rows.Scan(&point.CycleNumber, &point.Timestamp, &point.TotalValue); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan return point", err)
		}

		point.Return, _ = decimal.NewFromFloat(point.TotalValue).
			Sub(capital).Div(capital).Float64()

		series = append(series, point)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating return series", err)
	}

	return series, nil
}

// MaxDrawdown returns the largest peak-to-trough decline of the value series,
// as a fraction of the peak. Zero when the series never declines.
func MaxDrawdown(series []types.ReturnPoint) float64 {
	peak := decimal.Zero
	maxDrawdown := decimal.Zero

	for _, point := range series {
		value := decimal.NewFromFloat(point.TotalValue)

		if value.GreaterThan(peak) {
			peak = value
		}

		if !peak.IsPositive() {
			continue
		}

		drawdown := peak.Sub(value).Div(peak)
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}

	result, _ := maxDrawdown.Float64()

	return result
}
