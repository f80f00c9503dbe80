// Package reconcile compares the ledger against an external source of truth
// and corrects drift. The ledger is adjusted to the external value, never the
// other way around; every correction is reported so the journal keeps a
// record of what diverged.
package reconcile

import (
	"context"
	"math"
	"time"

	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

// BalanceSource reports externally observed holdings, cash included under its
// own asset code.
type BalanceSource interface {
	Balances(ctx context.Context) ([]types.Balance, error)
	Close() error
}

// Corrector is the slice of the ledger a reconciler needs. portfolio.Ledger
// satisfies it.
type Corrector interface {
	GetSnapshot() types.PortfolioSnapshot
	ForceSetCash(amount float64) (float64, error)
	ForceSetPositionQuantity(asset string, quantity float64, timestamp time.Time) (float64, error)
}

// Report summarizes one reconciliation pass.
type Report struct {
	CheckedAt time.Time       `json:"checked_at" yaml:"checked_at"`
	Anomalies []types.Anomaly `json:"anomalies" yaml:"anomalies"`
}

// Clean reports whether the pass found no drift.
func (r Report) Clean() bool {
	return len(r.Anomalies) == 0
}

// Reconciler checks the ledger against external truth.
type Reconciler interface {
	Reconcile(ctx context.Context, at time.Time) (Report, error)
}

// LiveReconciler reconciles against a venue balance query. Only the cash
// asset and the configured trading assets are compared; dust and airdrops in
// other assets are none of the engine's business.
type LiveReconciler struct {
	source    BalanceSource
	ledger    Corrector
	cashAsset string
	assets    []string
	tolerance float64
	logger    *logger.Logger
}

var _ Reconciler = (*LiveReconciler)(nil)

// NewLiveReconciler creates a reconciler over the given balance source.
// tolerance is relative to the ledger quantity; when the ledger holds zero it
// is applied as an absolute bound.
func NewLiveReconciler(source BalanceSource, ledger Corrector, cashAsset string, assets []string, tolerance float64, logger *logger.Logger) (*LiveReconciler, error) {
	if tolerance < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "drift tolerance cannot be negative, got %f", tolerance)
	}

	if cashAsset == "" {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "cash asset is required")
	}

	return &LiveReconciler{
		source:    source,
		ledger:    ledger,
		cashAsset: cashAsset,
		assets:    assets,
		tolerance: tolerance,
		logger:    logger,
	}, nil
}

// Reconcile implements Reconciler.
func (r *LiveReconciler) Reconcile(ctx context.Context, at time.Time) (Report, error) {
	report := Report{CheckedAt: at, Anomalies: []types.Anomaly{}}

	balances, err := r.source.Balances(ctx)
	if err != nil {
		return report, errors.Wrap(errors.ErrCodeAdapterTransient, "failed to fetch external balances", err)
	}

	observed := make(map[string]float64, len(balances))
	for _, balance := range balances {
		observed[balance.Asset] = balance.Quantity
	}

	snapshot := r.ledger.GetSnapshot()

	if anomaly, ok := r.checkCash(snapshot.Cash, observed[r.cashAsset], at); ok {
		report.Anomalies = append(report.Anomalies, anomaly)
	}

	for _, asset := range r.assets {
		ledgerQuantity := 0.0
		if position, ok := snapshot.Positions[asset]; ok {
			ledgerQuantity = position.Quantity
		}

		anomaly, ok := r.checkPosition(asset, ledgerQuantity, observed[asset], at)
		if ok {
			report.Anomalies = append(report.Anomalies, anomaly)
		}
	}

	if !report.Clean() {
		r.logger.Warn("reconciliation corrected drift",
			zap.Time("at", at),
			zap.Int("anomalies", len(report.Anomalies)))
	}

	return report, nil
}

func (r *LiveReconciler) checkCash(ledgerCash, observedCash float64, at time.Time) (types.Anomaly, bool) {
	if !drifted(ledgerCash, observedCash, r.tolerance) {
		return types.Anomaly{}, false
	}

	anomaly := types.Anomaly{
		Asset:            r.cashAsset,
		LedgerQuantity:   ledgerCash,
		ObservedQuantity: observedCash,
		DetectedAt:       at,
		Corrected:        false,
	}

	drift := errors.NewDriftErrorf(r.cashAsset, ledgerCash, observedCash,
		"ledger cash %.8f, venue reports %.8f", ledgerCash, observedCash)

	if _, err := r.ledger.ForceSetCash(observedCash); err != nil {
		r.logger.Error("failed to correct cash drift", zap.Error(drift), zap.Error(err))

		return anomaly, true
	}

	anomaly.Corrected = true
	r.logger.Warn("cash drift corrected", zap.Error(drift))

	return anomaly, true
}

func (r *LiveReconciler) checkPosition(asset string, ledgerQuantity, observedQuantity float64, at time.Time) (types.Anomaly, bool) {
	if !drifted(ledgerQuantity, observedQuantity, r.tolerance) {
		return types.Anomaly{}, false
	}

	anomaly := types.Anomaly{
		Asset:            asset,
		LedgerQuantity:   ledgerQuantity,
		ObservedQuantity: observedQuantity,
		DetectedAt:       at,
		Corrected:        false,
	}

	drift := errors.NewDriftErrorf(asset, ledgerQuantity, observedQuantity,
		"ledger holds %.8f %s, venue reports %.8f", ledgerQuantity, asset, observedQuantity)

	if _, err := r.ledger.ForceSetPositionQuantity(asset, observedQuantity, at); err != nil {
		r.logger.Error("failed to correct position drift", zap.Error(drift), zap.Error(err))

		return anomaly, true
	}

	anomaly.Corrected = true
	r.logger.Warn("position drift corrected", zap.Error(drift))

	return anomaly, true
}

// drifted applies the tolerance relative to the ledger quantity, absolute
// when the ledger holds zero.
func drifted(ledger, observed, tolerance float64) bool {
	diff := math.Abs(observed - ledger)

	if ledger == 0 {
		return diff > tolerance
	}

	return diff/math.Abs(ledger) > tolerance
}

// NoopReconciler is the backtest variant. Simulated fills settle straight
// from the ledger's own quotes, so there is no external state to drift from.
type NoopReconciler struct{}

var _ Reconciler = (*NoopReconciler)(nil)

func NewNoopReconciler() *NoopReconciler {
	return &NoopReconciler{}
}

// Reconcile implements Reconciler.
func (r *NoopReconciler) Reconcile(_ context.Context, at time.Time) (Report, error) {
	return Report{CheckedAt: at, Anomalies: nil}, nil
}
