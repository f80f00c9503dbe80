package types

import "time"

// SchedulerState represents the phase of the strategy cycle scheduler. At
// most one cycle is in flight, so the scheduler is always in exactly one
// phase.
type SchedulerState string

const (
	// SchedulerStateIdle indicates no cycle is in flight.
	SchedulerStateIdle SchedulerState = "idle"

	// SchedulerStateDeciding indicates the decision function is being evaluated.
	SchedulerStateDeciding SchedulerState = "deciding"

	// SchedulerStateExecuting indicates trade machines are being driven.
	SchedulerStateExecuting SchedulerState = "executing"

	// SchedulerStateReconciling indicates the ledger is being checked against
	// the external venue before the cycle seals.
	SchedulerStateReconciling SchedulerState = "reconciling"
)

// EngineStatus represents the current state of the execution engine.
type EngineStatus string

const (
	// EngineStatusInitializing indicates the engine is loading state and
	// repairing interrupted trades.
	EngineStatusInitializing EngineStatus = "initializing"

	// EngineStatusRunning indicates the engine is scheduling cycles.
	EngineStatusRunning EngineStatus = "running"

	// EngineStatusStopped indicates the engine has stopped.
	EngineStatusStopped EngineStatus = "stopped"
)

// EngineState is the externally visible snapshot of the engine: scheduler
// phase, cycle counters, and the current ledger snapshot. Served by the
// monitor and returned by CurrentState.
type EngineState struct {
	Status         EngineStatus      `json:"status" yaml:"status"`
	SchedulerState SchedulerState    `json:"scheduler_state" yaml:"scheduler_state"`
	CycleNumber    int64             `json:"cycle_number" yaml:"cycle_number"`
	CycleStartedAt time.Time         `json:"cycle_started_at" yaml:"cycle_started_at"`
	ActiveTrades   int               `json:"active_trades" yaml:"active_trades"`
	Portfolio      PortfolioSnapshot `json:"portfolio" yaml:"portfolio"`
}
