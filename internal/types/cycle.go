package types

import (
	"time"

	"github.com/moznion/go-optional"
)

type CycleStatus string

const (
	// CycleStatusComplete means every trade of the cycle settled.
	CycleStatusComplete CycleStatus = "complete"
	// CycleStatusPartial means at least one trade of the cycle failed.
	CycleStatusPartial CycleStatus = "partial"
	// CycleStatusEmpty means the decision function produced no intents.
	CycleStatusEmpty CycleStatus = "empty"
)

// Anomaly is one reconciliation finding: a divergence between the ledger and
// the external balance source, journaled with the correction that was applied.
type Anomaly struct {
	Asset string `yaml:"asset" json:"asset" csv:"asset"`
	// LedgerQuantity is what the ledger held before correction.
	LedgerQuantity float64 `yaml:"ledger_quantity" json:"ledger_quantity" csv:"ledger_quantity"`
	// ObservedQuantity is what the external source reported.
	ObservedQuantity float64   `yaml:"observed_quantity" json:"observed_quantity" csv:"observed_quantity"`
	DetectedAt       time.Time `yaml:"detected_at" json:"detected_at" csv:"detected_at"`
	// Corrected is false when the divergence was within tolerance and left alone.
	Corrected bool `yaml:"corrected" json:"corrected" csv:"corrected"`
}

// CycleRecord is one sealed, append-only journal entry describing a finished
// strategy cycle. Once sealed a record never changes.
type CycleRecord struct {
	// Number is the cycle's position in the run, starting at 1.
	Number int64 `yaml:"number" json:"number" csv:"number"`
	// DecidedAt is when the decision function was invoked, on the engine clock.
	DecidedAt time.Time   `yaml:"decided_at" json:"decided_at" csv:"decided_at"`
	Status    CycleStatus `yaml:"status" json:"status" csv:"status"`

	// TradeIDs lists every trade the cycle produced, settled or failed.
	TradeIDs []string `yaml:"trade_ids" json:"trade_ids" csv:"trade_ids"`

	ValueBefore float64 `yaml:"value_before" json:"value_before" csv:"value_before"`
	CashBefore  float64 `yaml:"cash_before" json:"cash_before" csv:"cash_before"`
	ValueAfter  float64 `yaml:"value_after" json:"value_after" csv:"value_after"`
	CashAfter   float64 `yaml:"cash_after" json:"cash_after" csv:"cash_after"`

	// Anomalies journaled by the reconciliation pass that sealed the cycle.
	Anomalies []Anomaly `yaml:"anomalies" json:"anomalies" csv:"anomalies"`

	// TimedOut is true when the cycle was sealed by the cycle deadline
	// rather than by every trade reaching a terminal state.
	TimedOut bool `yaml:"timed_out" json:"timed_out" csv:"timed_out"`

	SealedAt time.Time `yaml:"sealed_at" json:"sealed_at" csv:"sealed_at"`
}

// HasTrades reports whether the cycle produced any trades.
func (c *CycleRecord) HasTrades() bool {
	return len(c.TradeIDs) > 0
}

// CycleFilter selects sealed cycles when querying the journal.
type CycleFilter struct {
	// AfterNumber returns cycles with Number strictly greater (0 means from the start).
	AfterNumber int64 `yaml:"after_number" json:"after_number"`
	// Status filters by cycle status (empty means no filter).
	Status optional.Option[CycleStatus] `yaml:"status" json:"status"`
	// Limit limits the number of cycles returned (0 means no limit).
	Limit int `yaml:"limit" json:"limit"`
}
