// Package engine defines the execution engine surface: configuration, the
// lifecycle callbacks a caller can observe a run through, and the Engine
// interface both modes implement. The v1 implementation lives in engine_v1.
package engine

import (
	"context"

	"github.com/pyxis-lab/pyxis-executor/internal/clock"
	"github.com/pyxis-lab/pyxis-executor/internal/decision"
	"github.com/pyxis-lab/pyxis-executor/internal/execution"
	"github.com/pyxis-lab/pyxis-executor/internal/pricing"
	"github.com/pyxis-lab/pyxis-executor/internal/reconcile"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

// Lifecycle callback types for run phases
// All callbacks with error return can abort execution if they return an error

// OnRunStartCallback is called once before the first cycle. totalCycles is
// the number of clock boundaries ahead, 0 when unknown (live mode).
type OnRunStartCallback func(runID string, totalCycles int) error

// OnRunEndCallback is called when the run completes (always called via defer).
type OnRunEndCallback func(err error)

// OnCycleStartCallback is called when a cycle begins, before the decision
// function runs.
type OnCycleStartCallback func(cycleNumber int64, current int, total int) error

// OnCycleEndCallback is called with the sealed record after each cycle.
type OnCycleEndCallback func(record types.CycleRecord)

// OnTradeSettledCallback is called for every trade that settles.
type OnTradeSettledCallback func(trade types.Trade)

// OnTradeFailedCallback is called for every trade that fails.
type OnTradeFailedCallback func(trade types.Trade)

// LifecycleCallbacks holds all lifecycle callback functions for an engine run.
// All fields are pointers - nil means no callback will be invoked.
type LifecycleCallbacks struct {
	OnRunStart     *OnRunStartCallback
	OnRunEnd       *OnRunEndCallback
	OnCycleStart   *OnCycleStartCallback
	OnCycleEnd     *OnCycleEndCallback
	OnTradeSettled *OnTradeSettledCallback
	OnTradeFailed  *OnTradeFailedCallback
}

//nolint:interfacebloat // Engine is a core interface that naturally requires multiple methods
type Engine interface {
	// Initialize the engine with the given YAML configuration content.
	Initialize(config string) error
	// SetDecider sets the decision function driven every cycle.
	SetDecider(decider decision.Decider) error
	// SetResultsFolder sets the directory holding the journal, the state file,
	// and the final stats.
	SetResultsFolder(folder string) error
	// SetPricingProvider overrides the pricing source the configuration would
	// build. Mainly for tests and embedding.
	SetPricingProvider(provider pricing.Provider) error
	// SetExecutionAdapter overrides the execution adapter the configuration
	// would build.
	SetExecutionAdapter(adapter execution.Adapter) error
	// SetClock overrides the cycle clock the configuration would build.
	SetClock(clk clock.Clock) error
	// SetReconciler overrides the reconciler the configuration would build.
	SetReconciler(reconciler reconcile.Reconciler) error
	// Run drives cycles until the clock is exhausted (backtest) or the context
	// is canceled (live). Use LifecycleCallbacks to observe the run.
	Run(ctx context.Context, callbacks LifecycleCallbacks) error
	// CurrentState returns the engine status and a read-only portfolio snapshot.
	CurrentState() (types.EngineState, error)
	// CycleHistory returns a lazy iterator over sealed cycles. Each range
	// re-queries the journal, so the iterator is restartable.
	CycleHistory(filter types.CycleFilter) func(yield func(types.CycleRecord, error) bool)
	// ForceReconciliation runs a drift check outside the cycle schedule.
	ForceReconciliation(ctx context.Context) (reconcile.Report, error)
	// Statistics replays the journal into the run's aggregate statistics.
	Statistics() (types.ExecutionStats, error)
	// GetConfigSchema returns the JSON schema of the engine configuration.
	GetConfigSchema() (string, error)
	// Close releases the journal and every owned component.
	Close() error
}
