package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TradeHoldingTime struct {
	// Minimum holding time of a settled round trip in seconds
	Min int `yaml:"min" json:"min"`
	// Maximum holding time of a settled round trip in seconds
	Max int `yaml:"max" json:"max"`
	// Average holding time of a settled round trip in seconds
	Avg int `yaml:"avg" json:"avg"`
}

type TradePnl struct {
	// Realized PnL. By adding all the settled sell trades' pnl.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl"`
	// Unrealized PnL of positions still open at the last sealed cycle.
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl"`
	// Total PnL. By adding RealizedPnL and UnrealizedPnL.
	TotalPnL float64 `yaml:"total_pnl" json:"total_pnl"`
	// Maximum loss. Find all realized pnl's minimum value.
	MaximumLoss float64 `yaml:"maximum_loss" json:"maximum_loss"`
	// Maximum profit. Find all realized pnl's maximum value.
	MaximumProfit float64 `yaml:"maximum_profit" json:"maximum_profit"`
}

type TradeResult struct {
	// Count of all trades that reached a terminal state.
	NumberOfTrades int `yaml:"number_of_trades" json:"number_of_trades"`
	// Count of trades that settled.
	NumberOfSettledTrades int `yaml:"number_of_settled_trades" json:"number_of_settled_trades"`
	// Count of trades that failed before settling.
	NumberOfFailedTrades int `yaml:"number_of_failed_trades" json:"number_of_failed_trades"`
	// Count of winning sells that has positive pnl.
	NumberOfWinningTrades int `yaml:"number_of_winning_trades" json:"number_of_winning_trades"`
	// Count of losing sells that has negative pnl.
	NumberOfLosingTrades int `yaml:"number_of_losing_trades" json:"number_of_losing_trades"`
	// Win rate.
	WinRate float64 `yaml:"win_rate" json:"win_rate"`
	// Maximum drawdown over the per-cycle value series.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
}

type CycleResult struct {
	// Count of all sealed cycles.
	NumberOfCycles int `yaml:"number_of_cycles" json:"number_of_cycles"`
	// Count of cycles where every trade settled.
	NumberOfCompleteCycles int `yaml:"number_of_complete_cycles" json:"number_of_complete_cycles"`
	// Count of cycles with at least one failed trade.
	NumberOfPartialCycles int `yaml:"number_of_partial_cycles" json:"number_of_partial_cycles"`
	// Count of cycles that produced no trades.
	NumberOfEmptyCycles int `yaml:"number_of_empty_cycles" json:"number_of_empty_cycles"`
	// Count of reconciliation anomalies journaled across all cycles.
	NumberOfAnomalies int `yaml:"number_of_anomalies" json:"number_of_anomalies"`
}

// ReturnPoint is one entry of the per-cycle return series.
type ReturnPoint struct {
	CycleNumber int64     `yaml:"cycle_number" json:"cycle_number"`
	Timestamp   time.Time `yaml:"timestamp" json:"timestamp"`
	// TotalValue is the portfolio value when the cycle was sealed.
	TotalValue float64 `yaml:"total_value" json:"total_value"`
	// Return is the fractional return over the deposited capital at this point.
	Return float64 `yaml:"return" json:"return"`
}

// DecisionInfo contains metadata about the decision function that drove a run.
type DecisionInfo struct {
	// ID is the unique identifier for the decision function (e.g., "com.example.decision.rebalance")
	ID string `yaml:"id" json:"id"`
	// Version is the engine version the run was produced with
	Version string `yaml:"version" json:"version"`
	// Name is the human-readable name of the decision function
	Name string `yaml:"name" json:"name"`
}

// ExecutionStats is the replayable summary of a whole run, recomputed from
// the sealed cycle journal rather than accumulated incrementally.
type ExecutionStats struct {
	// ID is the unique identifier for this run.
	ID string `yaml:"id" json:"id"`
	// Timestamp is when these statistics were computed.
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	// Assets traded in this run.
	Assets []string `yaml:"assets" json:"assets"`
	// InitialCapital is the deposited cash the run started with.
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	// FinalValue is the portfolio value at the last sealed cycle.
	FinalValue float64 `yaml:"final_value" json:"final_value"`
	// TotalReturn is the fractional return over the deposited capital.
	TotalReturn float64 `yaml:"total_return" json:"total_return"`
	// Result of all cycles.
	CycleResult CycleResult `yaml:"cycle_result" json:"cycle_result"`
	// Result of all trades.
	TradeResult TradeResult `yaml:"trade_result" json:"trade_result"`
	// Holding time of all round trips.
	TradeHoldingTime TradeHoldingTime `yaml:"trade_holding_time" json:"trade_holding_time"`
	// PnL of all trades.
	TradePnl TradePnl `yaml:"trade_pnl" json:"trade_pnl"`
	// ReturnSeries is the per-cycle value and return curve.
	ReturnSeries []ReturnPoint `yaml:"return_series" json:"return_series"`
	// Decision contains metadata about the decision function that drove the run.
	Decision DecisionInfo `yaml:"decision" json:"decision"`
	// JournalPath is the path to the cycle journal database.
	JournalPath string `yaml:"journal_path" json:"journal_path"`
	// StatePath is the path to the persisted ledger state file.
	StatePath string `yaml:"state_path" json:"state_path"`
}

func WriteExecutionStats(path string, stats ExecutionStats) error {
	// Marshal the struct to YAML
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal execution stats to YAML: %w", err)
	}

	// Write the YAML data to the file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write execution stats to file: %w", err)
	}

	return nil
}

func ReadExecutionStats(path string) (ExecutionStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExecutionStats{}, fmt.Errorf("failed to read execution stats file: %w", err)
	}

	var stats ExecutionStats
	if err := yaml.Unmarshal(data, &stats); err != nil {
		return ExecutionStats{}, fmt.Errorf("failed to unmarshal execution stats: %w", err)
	}

	return stats, nil
}
