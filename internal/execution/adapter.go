// Package execution defines the execution capability the trade lifecycle
// drives: submit an intent to a venue, then poll until the venue reports a
// fill or a rejection. Two implementations exist, a live Binance order
// gateway and an instant simulated fill engine, selected at startup by
// configuration.
package execution

import (
	"context"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

// Handle identifies one submission at the venue. The engine-side ID is
// stable across retries of the same trade, which is what makes resubmission
// idempotent.
type Handle struct {
	// ID is the engine-side submission identifier, the trade's ID.
	ID string
	// VenueOrderID is the venue's identifier once the order is acknowledged.
	VenueOrderID string
	// Asset the submission trades.
	Asset string
}

type OutcomeStatus string

const (
	// OutcomeStatusPending means the venue has the order but no final result yet.
	OutcomeStatusPending OutcomeStatus = "PENDING"
	// OutcomeStatusConfirmed means the venue reports a final fill.
	OutcomeStatusConfirmed OutcomeStatus = "CONFIRMED"
	// OutcomeStatusRejected means the venue terminally refused the order.
	OutcomeStatusRejected OutcomeStatus = "REJECTED"
)

// Outcome is the venue's answer to a poll.
type Outcome struct {
	Status OutcomeStatus
	// FilledQuantity and FilledPrice are set when Status is CONFIRMED.
	FilledQuantity float64
	FilledPrice    float64
	// Reason is set when Status is REJECTED.
	Reason types.Reason
}

type Adapter interface {
	// Submit sends the trade to the venue and returns a handle for polling.
	// Submitting a trade whose earlier submission may still be live must not
	// place a second order; the adapter returns the existing handle instead.
	// Fails with ErrCodeAdapterTransient when worth retrying and
	// ErrCodeAdapterRejected when the venue terminally refused.
	Submit(ctx context.Context, trade types.Trade) (Handle, error)
	// Poll reports the current outcome for a handle. Idempotent: polling a
	// confirmed handle again returns the same fill and changes nothing.
	Poll(ctx context.Context, handle Handle) (Outcome, error)
	// Close releases any resources held by the adapter.
	Close() error
}
