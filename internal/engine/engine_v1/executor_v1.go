package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pyxis-lab/pyxis-executor/internal/clock"
	"github.com/pyxis-lab/pyxis-executor/internal/decision"
	"github.com/pyxis-lab/pyxis-executor/internal/engine"
	"github.com/pyxis-lab/pyxis-executor/internal/execution"
	"github.com/pyxis-lab/pyxis-executor/internal/journal"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/portfolio"
	"github.com/pyxis-lab/pyxis-executor/internal/pricing"
	"github.com/pyxis-lab/pyxis-executor/internal/reconcile"
	"github.com/pyxis-lab/pyxis-executor/internal/store"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/internal/version"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ExecutorEngineV1 runs strategy cycles against a pluggable pricing provider,
// execution adapter, clock and reconciler. The mode in the configuration
// selects the default set; injected components always win, which is how tests
// and the e2e harness splice in their own venues.
type ExecutorEngineV1 struct {
	config        engine.Config
	decider       decision.Decider
	resultsFolder string
	log           *logger.Logger
	runID         string

	ledger      *portfolio.Ledger
	journal     *journal.Journal
	store       *store.Store
	pricing     pricing.Provider
	adapter     execution.Adapter
	clock       clock.Clock
	reconciler  reconcile.Reconciler
	journalPath string

	mu             sync.RWMutex
	status         types.EngineStatus
	schedulerState types.SchedulerState
	cycleNumber    int64
	cycleStartedAt time.Time
	activeTrades   int
	running        bool

	outageStreak int
	initialized  bool
	prepared     bool
}

func NewExecutorEngineV1() engine.Engine {
	return &ExecutorEngineV1{
		config:         engine.EmptyConfig(),
		decider:        nil,
		resultsFolder:  "",
		log:            nil,
		runID:          "",
		ledger:         nil,
		journal:        nil,
		store:          nil,
		pricing:        nil,
		adapter:        nil,
		clock:          nil,
		reconciler:     nil,
		journalPath:    "",
		mu:             sync.RWMutex{},
		status:         types.EngineStatusInitializing,
		schedulerState: types.SchedulerStateIdle,
		cycleNumber:    0,
		cycleStartedAt: time.Time{},
		activeTrades:   0,
		running:        false,
		outageStreak:   0,
		initialized:    false,
		prepared:       false,
	}
}

// Initialize implements engine.Engine.
func (e *ExecutorEngineV1) Initialize(config string) error {
	parsed := engine.EmptyConfig()

	err := yaml.Unmarshal([]byte(config), &parsed)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse engine config", err)
	}

	if err := parsed.Validate(); err != nil {
		return err
	}

	e.config = parsed

	var loggerError error

	e.log, loggerError = logger.NewLogger()
	if loggerError != nil {
		return loggerError
	}

	e.runID = uuid.NewString()
	e.initialized = true
	e.setStatus(types.EngineStatusInitializing)

	e.log.Debug("Execution engine initialized",
		zap.String("run_id", e.runID),
		zap.String("mode", string(e.config.Mode)),
	)

	return nil
}

// SetDecider implements engine.Engine.
func (e *ExecutorEngineV1) SetDecider(decider decision.Decider) error {
	if decider == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "decider must not be nil")
	}

	e.decider = decider
	e.log.Debug("Decider set",
		zap.String("name", decider.Name()),
	)

	return nil
}

// SetResultsFolder implements engine.Engine.
func (e *ExecutorEngineV1) SetResultsFolder(folder string) error {
	e.resultsFolder = folder
	e.log.Debug("Results folder set",
		zap.String("folder", folder),
	)

	return nil
}

// SetPricingProvider implements engine.Engine.
func (e *ExecutorEngineV1) SetPricingProvider(provider pricing.Provider) error {
	e.pricing = provider

	return nil
}

// SetExecutionAdapter implements engine.Engine.
func (e *ExecutorEngineV1) SetExecutionAdapter(adapter execution.Adapter) error {
	e.adapter = adapter

	return nil
}

// SetClock implements engine.Engine.
func (e *ExecutorEngineV1) SetClock(clk clock.Clock) error {
	e.clock = clk

	return nil
}

// SetReconciler implements engine.Engine.
func (e *ExecutorEngineV1) SetReconciler(reconciler reconcile.Reconciler) error {
	e.reconciler = reconciler

	return nil
}

// Run implements engine.Engine. It drives strategy cycles until the clock is
// exhausted or the context is canceled. A venue outage past the configured
// threshold and an aborting callback stop the run with an error; any other
// cycle failure is logged and the run carries on.
func (e *ExecutorEngineV1) Run(ctx context.Context, callbacks engine.LifecycleCallbacks) (runErr error) {
	if err := e.preRunCheck(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()

		return errors.New(errors.ErrCodeInvalidParameter, "engine is already running")
	}

	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if err := e.prepare(); err != nil {
		return err
	}

	e.setStatus(types.EngineStatusRunning)

	defer e.setStatus(types.EngineStatusStopped)

	total := 0
	if counter, ok := e.clock.(interface{ Remaining() int }); ok {
		total = counter.Remaining()
	}

	if callbacks.OnRunEnd != nil {
		defer func() {
			(*callbacks.OnRunEnd)(runErr)
		}()
	}

	if callbacks.OnRunStart != nil {
		if err := (*callbacks.OnRunStart)(e.runID, total); err != nil {
			return errors.Wrap(errors.ErrCodeCallbackFailed, "run start callback aborted the run", err)
		}
	}

	e.log.Info("Run starting",
		zap.String("run_id", e.runID),
		zap.String("mode", string(e.config.Mode)),
		zap.Int("total_cycles", total),
	)

	current := 0

	for {
		at, ok := e.clock.Next(ctx)
		if !ok {
			break
		}

		current++

		if err := e.runCycle(ctx, at, callbacks, current, total); err != nil {
			if errors.HasCode(err, errors.ErrCodeAdapterOutage) || errors.HasCode(err, errors.ErrCodeCallbackFailed) {
				return err
			}

			e.log.Error("Cycle failed, continuing",
				zap.Int64("cycle", e.ledger.GetCycleNumber()),
				zap.Error(err),
			)
		}
	}

	if err := e.writeResults(); err != nil {
		return err
	}

	e.log.Info("Run finished",
		zap.String("run_id", e.runID),
		zap.Int("cycles", current),
	)

	return nil
}

// CurrentState implements engine.Engine.
func (e *ExecutorEngineV1) CurrentState() (types.EngineState, error) {
	if !e.initialized {
		return types.EngineState{}, errors.New(errors.ErrCodeEngineNotInitialized, "engine is not initialized")
	}

	e.mu.RLock()
	state := types.EngineState{
		Status:         e.status,
		SchedulerState: e.schedulerState,
		CycleNumber:    e.cycleNumber,
		CycleStartedAt: e.cycleStartedAt,
		ActiveTrades:   e.activeTrades,
		Portfolio:      types.PortfolioSnapshot{},
	}
	e.mu.RUnlock()

	if e.ledger != nil {
		state.Portfolio = e.ledger.GetSnapshot()
	}

	return state, nil
}

// CycleHistory implements engine.Engine. The iterator is lazy; each range
// re-reads the journal.
func (e *ExecutorEngineV1) CycleHistory(filter types.CycleFilter) func(yield func(types.CycleRecord, error) bool) {
	return func(yield func(types.CycleRecord, error) bool) {
		if e.journal == nil {
			yield(types.CycleRecord{}, errors.New(errors.ErrCodeEngineNotInitialized, "engine has no journal before the first run"))

			return
		}

		for record, err := range e.journal.Cycles(filter) {
			if !yield(record, err) {
				return
			}
		}
	}
}

// ForceReconciliation implements engine.Engine.
func (e *ExecutorEngineV1) ForceReconciliation(ctx context.Context) (reconcile.Report, error) {
	if !e.prepared {
		return reconcile.Report{}, errors.New(errors.ErrCodeEngineNotInitialized, "engine components are not built before the first run")
	}

	report, err := e.reconciler.Reconcile(ctx, e.clock.Now())
	if err != nil {
		return reconcile.Report{}, err
	}

	if !report.Clean() {
		e.log.Warn("Forced reconciliation found drift",
			zap.Int("anomalies", len(report.Anomalies)),
		)
	}

	return report, nil
}

// Statistics implements engine.Engine. Journal-derived figures are recomputed
// from the sealed cycles; open-position figures come from the live ledger.
func (e *ExecutorEngineV1) Statistics() (types.ExecutionStats, error) {
	if e.journal == nil || e.ledger == nil {
		return types.ExecutionStats{}, errors.New(errors.ErrCodeEngineNotInitialized, "engine has no journal before the first run")
	}

	stats, err := e.journal.Stats(e.ledger.GetTotalDeposited())
	if err != nil {
		return types.ExecutionStats{}, err
	}

	snapshot := e.ledger.GetSnapshot()

	stats.ID = e.runID
	stats.Assets = e.config.Assets
	stats.TradePnl.UnrealizedPnL = snapshot.UnrealizedPnL
	stats.TradePnl.TotalPnL = decimal.NewFromFloat(stats.TradePnl.RealizedPnL).
		Add(decimal.NewFromFloat(snapshot.UnrealizedPnL)).InexactFloat64()
	stats.TradeHoldingTime = holdingTimes(snapshot.ClosedPositions)
	stats.JournalPath = e.journalPath
	stats.StatePath = e.store.GetPath()

	if e.decider != nil {
		stats.Decision = types.DecisionInfo{
			ID:      fmt.Sprintf("lab.pyxis.decision.%s", e.decider.Name()),
			Version: version.GetVersion(),
			Name:    e.decider.Name(),
		}
	}

	return stats, nil
}

// GetConfigSchema implements engine.Engine.
func (e *ExecutorEngineV1) GetConfigSchema() (string, error) {
	config := e.config

	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to generate schema", err)
	}

	return schema, nil
}

// Close implements engine.Engine. It releases every component the engine
// holds, injected ones included.
func (e *ExecutorEngineV1) Close() error {
	var firstErr error

	record := func(component string, err error) {
		if err == nil {
			return
		}

		if e.log != nil {
			e.log.Warn("Failed to close component",
				zap.String("component", component),
				zap.Error(err),
			)
		}

		if firstErr == nil {
			firstErr = err
		}
	}

	if e.journal != nil {
		record("journal", e.journal.Close())
		e.journal = nil
	}

	if e.pricing != nil {
		record("pricing", e.pricing.Close())
		e.pricing = nil
	}

	if e.adapter != nil {
		record("adapter", e.adapter.Close())
		e.adapter = nil
	}

	if e.clock != nil {
		record("clock", e.clock.Close())
		e.clock = nil
	}

	e.prepared = false

	return firstErr
}

func (e *ExecutorEngineV1) preRunCheck() error {
	if !e.initialized {
		return errors.New(errors.ErrCodeEngineNotInitialized, "engine is not initialized")
	}

	if e.decider == nil {
		e.log.Error("No decider set")

		return errors.New(errors.ErrCodeEngineNotInitialized, "no decider set")
	}

	if e.resultsFolder == "" {
		e.log.Error("No results folder set")

		return errors.New(errors.ErrCodeEngineNotInitialized, "no results folder set")
	}

	return nil
}

// prepare builds the persistence layer and the mode components. It runs once;
// a second Run on the same engine reuses the open journal and ledger.
func (e *ExecutorEngineV1) prepare() error {
	if e.prepared {
		return nil
	}

	if err := os.MkdirAll(e.resultsFolder, 0o755); err != nil {
		return errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to create results folder %s", e.resultsFolder)
	}

	stateStore, err := store.NewStore(filepath.Join(e.resultsFolder, "state.json"), e.log)
	if err != nil {
		return err
	}

	e.store = stateStore
	e.journalPath = filepath.Join(e.resultsFolder, "journal.db")

	cycleJournal, err := journal.NewJournal(e.journalPath, e.log)
	if err != nil {
		return err
	}

	e.journal = cycleJournal

	if err := e.restoreLedger(); err != nil {
		return err
	}

	if err := e.buildComponents(); err != nil {
		return err
	}

	e.prepared = true

	return nil
}

// restoreLedger resumes from the persisted state file when one exists and
// starts a fresh ledger holding the configured capital otherwise.
func (e *ExecutorEngineV1) restoreLedger() error {
	state, found, err := e.store.Load()
	if err != nil {
		return err
	}

	if found {
		ledger, err := portfolio.RestoreLedger(state.Portfolio)
		if err != nil {
			return err
		}

		e.ledger = ledger
		e.runID = state.RunID

		e.log.Info("Resumed from persisted state",
			zap.String("run_id", e.runID),
			zap.Int64("cycle", ledger.GetCycleNumber()),
			zap.Float64("cash", ledger.GetCash()),
		)
	} else {
		ledger, err := portfolio.NewLedger(e.config.InitialCapital)
		if err != nil {
			return err
		}

		e.ledger = ledger
	}

	// A crash between sealing a cycle and saving the state file leaves the
	// journal one cycle ahead of the ledger. Numbering resumes after the last
	// sealed record so the journal never sees a duplicate.
	last, sealed, err := e.journal.LastSealed()
	if err != nil {
		return err
	}

	if sealed {
		for e.ledger.GetCycleNumber() < last.Number {
			e.ledger.AdvanceCycle()
		}
	}

	return nil
}

func (e *ExecutorEngineV1) buildComponents() error {
	switch e.config.Mode {
	case engine.ModeBacktest:
		return e.buildBacktestComponents()
	case engine.ModeLive:
		return e.buildLiveComponents()
	default:
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown mode %q", e.config.Mode)
	}
}

func (e *ExecutorEngineV1) buildBacktestComponents() error {
	if e.pricing == nil {
		provider, err := pricing.NewHistoricalProvider(":memory:", e.config.StaleTolerance, e.log)
		if err != nil {
			return err
		}

		if err := provider.Initialize(e.config.DataPath); err != nil {
			return err
		}

		e.pricing = provider
	}

	if e.clock == nil {
		source, ok := e.pricing.(clock.TimestampSource)
		if !ok {
			return errors.New(errors.ErrCodeInvalidConfiguration, "backtest clock needs a pricing provider that exposes its timestamp series")
		}

		backtestClock, err := clock.NewBacktestClock(source, e.config.StartTime, e.config.EndTime)
		if err != nil {
			return err
		}

		e.clock = backtestClock
	}

	if e.adapter == nil {
		e.adapter = execution.NewSimulatedAdapter(e.pricing, e.log)
	}

	if e.reconciler == nil {
		e.reconciler = reconcile.NewNoopReconciler()
	}

	return nil
}

func (e *ExecutorEngineV1) buildLiveComponents() error {
	venue := e.config.Venue

	if e.pricing == nil {
		e.pricing = pricing.NewLiveProvider(venue.ApiKey, venue.SecretKey, venue.BaseURL, e.config.CashAsset, venue.UseTestnet, e.log)
	}

	if e.adapter == nil {
		e.adapter = execution.NewBinanceAdapter(venue.ApiKey, venue.SecretKey, venue.BaseURL, e.config.CashAsset, venue.UseTestnet, e.log)
	}

	if e.clock == nil {
		e.clock = clock.NewLiveClock(e.config.CycleInterval)
	}

	if e.reconciler == nil {
		source := reconcile.NewBinanceBalanceSource(venue.ApiKey, venue.SecretKey, venue.BaseURL, venue.UseTestnet, e.log)

		reconciler, err := reconcile.NewLiveReconciler(source, e.ledger, e.config.CashAsset, e.config.Assets, e.config.DriftTolerance, e.log)
		if err != nil {
			return err
		}

		e.reconciler = reconciler
	}

	return nil
}

// writeResults materializes the run summary into the results folder. The
// journal is additionally exported to parquet in backtest mode, where the
// folder is the product of the run.
func (e *ExecutorEngineV1) writeResults() error {
	stats, err := e.Statistics()
	if err != nil {
		return err
	}

	if err := types.WriteExecutionStats(filepath.Join(e.resultsFolder, "stats.yaml"), stats); err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to write run statistics", err)
	}

	if e.config.Mode == engine.ModeBacktest {
		if err := e.journal.ExportParquet(e.resultsFolder); err != nil {
			return err
		}
	}

	return nil
}

// holdingTimes summarizes closed round trips. Open positions do not count.
func holdingTimes(closed []types.Position) types.TradeHoldingTime {
	var result types.TradeHoldingTime

	count := 0
	total := 0

	for _, position := range closed {
		if position.ClosedAt.IsNone() {
			continue
		}

		seconds := int(position.ClosedAt.Unwrap().Sub(position.OpenedAt).Seconds())

		if count == 0 || seconds < result.Min {
			result.Min = seconds
		}

		if seconds > result.Max {
			result.Max = seconds
		}

		total += seconds
		count++
	}

	if count > 0 {
		result.Avg = total / count
	}

	return result
}

func (e *ExecutorEngineV1) setStatus(status types.EngineStatus) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
}

func (e *ExecutorEngineV1) setPhase(phase types.SchedulerState) {
	e.mu.Lock()
	e.schedulerState = phase
	e.mu.Unlock()
}

func (e *ExecutorEngineV1) beginCycle(number int64, at time.Time) {
	e.mu.Lock()
	e.cycleNumber = number
	e.cycleStartedAt = at
	e.schedulerState = types.SchedulerStateDeciding
	e.mu.Unlock()
}

func (e *ExecutorEngineV1) endCycle() {
	e.mu.Lock()
	e.schedulerState = types.SchedulerStateIdle
	e.activeTrades = 0
	e.mu.Unlock()
}

func (e *ExecutorEngineV1) setActiveTrades(count int) {
	e.mu.Lock()
	e.activeTrades = count
	e.mu.Unlock()
}
