// Package journal keeps the append-only record of sealed strategy cycles.
// One row per cycle plus the terminal trades and reconciliation anomalies
// that belong to it; statistics replay these tables without ever touching
// the live portfolio.
package journal

import (
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

// Journal is a DuckDB-backed cycle journal. Records are written once, when a
// cycle seals, and never updated.
type Journal struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger
}

// NewJournal opens (or creates) the journal database at path. The path may be
// ":memory:" for tests and throwaway backtests.
func NewJournal(path string, logger *logger.Logger) (*Journal, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalFailed, "failed to open journal database", err)
	}

	journal := &Journal{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: logger,
	}

	if err := journal.initialize(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return journal, nil
}

func (j *Journal) initialize() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS cycles (
			number BIGINT PRIMARY KEY,
			decided_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			value_before DOUBLE NOT NULL,
			cash_before DOUBLE NOT NULL,
			value_after DOUBLE NOT NULL,
			cash_after DOUBLE NOT NULL,
			timed_out BOOLEAN NOT NULL,
			sealed_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			cycle_number BIGINT NOT NULL,
			sequence_number BIGINT NOT NULL,
			asset TEXT NOT NULL,
			side TEXT NOT NULL,
			direction TEXT NOT NULL,
			planned_quantity DOUBLE NOT NULL,
			planned_price DOUBLE NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			venue_order_id TEXT,
			filled_quantity DOUBLE NOT NULL,
			filled_price DOUBLE NOT NULL,
			realized_pnl DOUBLE NOT NULL,
			reason TEXT NOT NULL,
			failure_reason TEXT,
			failure_message TEXT,
			created_at TIMESTAMP NOT NULL,
			settled_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS anomalies (
			cycle_number BIGINT NOT NULL,
			asset TEXT NOT NULL,
			ledger_quantity DOUBLE NOT NULL,
			observed_quantity DOUBLE NOT NULL,
			detected_at TIMESTAMP NOT NULL,
			corrected BOOLEAN NOT NULL
		);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to create journal tables", err)
	}

	return nil
}

// Append seals one cycle: the record, its terminal trades, and its anomalies
// are written in a single transaction. Appending an already-sealed cycle
// number fails.
func (j *Journal) Append(record types.CycleRecord, trades []types.Trade) error {
	tx, err := j.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to begin journal transaction", err)
	}

	defer func() { _ = tx.Rollback() }()

	_, err = j.sq.
		Insert("cycles").
		Columns("number", "decided_at", "status", "value_before", "cash_before", "value_after", "cash_after", "timed_out", "sealed_at").
		Values(record.Number, record.DecidedAt, string(record.Status), record.ValueBefore, record.CashBefore, record.ValueAfter, record.CashAfter, record.TimedOut, record.SealedAt).
		RunWith(tx).
		Exec()
	if err != nil {
		return errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to seal cycle %d", record.Number)
	}

	for _, trade := range trades {
		if err := j.appendTrade(tx, trade); err != nil {
			return err
		}
	}

	for _, anomaly := range record.Anomalies {
		_, err = j.sq.
			Insert("anomalies").
			Columns("cycle_number", "asset", "ledger_quantity", "observed_quantity", "detected_at", "corrected").
			Values(record.Number, anomaly.Asset, anomaly.LedgerQuantity, anomaly.ObservedQuantity, anomaly.DetectedAt, anomaly.Corrected).
			RunWith(tx).
			Exec()
		if err != nil {
			return errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to journal anomaly for %s in cycle %d", anomaly.Asset, record.Number)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to commit cycle %d", record.Number)
	}

	j.logger.Debug("cycle sealed",
		zap.Int64("cycle", record.Number),
		zap.String("status", string(record.Status)),
		zap.Int("trades", len(trades)),
		zap.Int("anomalies", len(record.Anomalies)))

	return nil
}

func (j *Journal) appendTrade(tx *sql.Tx, trade types.Trade) error {
	if !trade.State.IsTerminal() {
		return errors.Newf(errors.ErrCodeJournalFailed, "trade %s is %s, only terminal trades are journaled", trade.ID, trade.State)
	}

	var venueOrderID any
	if id, err := trade.VenueOrderID.Take(); err == nil {
		venueOrderID = id
	}

	var failureReason, failureMessage any
	if reason, err := trade.FailureReason.Take(); err == nil {
		failureReason = reason.Reason
		failureMessage = reason.Message
	}

	var settledAt any
	if at, err := trade.SettledAt.Take(); err == nil {
		settledAt = at
	}

	_, err := j.sq.
		Insert("trades").
		Columns("id", "cycle_number", "sequence_number", "asset", "side", "direction",
			"planned_quantity", "planned_price", "state", "attempts", "venue_order_id",
			"filled_quantity", "filled_price", "realized_pnl", "reason",
			"failure_reason", "failure_message", "created_at", "settled_at").
		Values(trade.ID, trade.CycleNumber, trade.SequenceNumber, trade.Asset, string(trade.Side), string(trade.Direction),
			trade.PlannedQuantity, trade.PlannedPrice, string(trade.State), trade.Attempts, venueOrderID,
			trade.FilledQuantity, trade.FilledPrice, trade.RealizedPnL, trade.Reason.Reason,
			failureReason, failureMessage, trade.CreatedAt, settledAt).
		RunWith(tx).
		Exec()
	if err != nil {
		return errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to journal trade %s", trade.ID)
	}

	return nil
}

// Cycles yields sealed cycles in ascending number order. Each call re-queries
// the journal, so the iterator can be ranged over any number of times and
// sees cycles sealed since the previous pass.
func (j *Journal) Cycles(filter types.CycleFilter) func(yield func(types.CycleRecord, error) bool) {
	return func(yield func(types.CycleRecord, error) bool) {
		builder := j.sq.
			Select("number", "decided_at", "status", "value_before", "cash_before", "value_after", "cash_after", "timed_out", "sealed_at").
			From("cycles").
			OrderBy("number ASC")

		if filter.AfterNumber > 0 {
			builder = builder.Where(squirrel.Gt{"number": filter.AfterNumber})
		}

		if filter.Status.IsSome() {
			builder = builder.Where(squirrel.Eq{"status": string(filter.Status.Unwrap())})
		}

		if filter.Limit > 0 {
			builder = builder.Limit(uint64(filter.Limit))
		}

		query, args, err := builder.ToSql()
		if err != nil {
			yield(types.CycleRecord{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build cycles query", err))

			return
		}

		rows, err := j.db.Query(query, args...)
		if err != nil {
			yield(types.CycleRecord{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read cycles", err))

			return
		}

		defer rows.Close()

		for rows.Next() {
			record, err := j.scanCycle(rows)
			if err != nil {
				yield(types.CycleRecord{}, err)

				return
			}

			if !yield(record, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.CycleRecord{}, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating cycles", err))
		}
	}
}

// LastSealed returns the most recent sealed cycle, or false when the journal
// is empty. Restarts resume cycle numbering from here.
func (j *Journal) LastSealed() (types.CycleRecord, bool, error) {
	query, args, err := j.sq.
		Select("number", "decided_at", "status", "value_before", "cash_before", "value_after", "cash_after", "timed_out", "sealed_at").
		From("cycles").
		OrderBy("number DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return types.CycleRecord{}, false, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build last cycle query", err)
	}

	row := j.db.QueryRow(query, args...)

	record, err := j.scanCycle(row)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeStateNotFound) {
			return types.CycleRecord{}, false, nil
		}

		return types.CycleRecord{}, false, err
	}

	return record, true, nil
}

// CycleCount returns the number of sealed cycles.
func (j *Journal) CycleCount() (int, error) {
	var count int

	err := j.db.QueryRow("SELECT count(*) FROM cycles").Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count cycles", err)
	}

	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (j *Journal) scanCycle(row rowScanner) (types.CycleRecord, error) {
	var (
		record types.CycleRecord
		status string
	)

	err := row.Scan(&record.Number, &record.DecidedAt, &status,
		&record.ValueBefore, &record.CashBefore, &record.ValueAfter, &record.CashAfter,
		&record.TimedOut, &record.SealedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.CycleRecord{}, errors.Wrap(errors.ErrCodeStateNotFound, "no sealed cycles", err)
		}

		return types.CycleRecord{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan cycle", err)
	}

	record.Status = types.CycleStatus(status)

	record.TradeIDs, err = j.tradeIDs(record.Number)
	if err != nil {
		return types.CycleRecord{}, err
	}

	record.Anomalies, err = j.anomalies(record.Number)
	if err != nil {
		return types.CycleRecord{}, err
	}

	return record, nil
}

func (j *Journal) tradeIDs(cycleNumber int64) ([]string, error) {
	query, args, err := j.sq.
		Select("id").
		From("trades").
		Where(squirrel.Eq{"cycle_number": cycleNumber}).
		OrderBy("sequence_number ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build trade ids query", err)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read trade ids", err)
	}

	defer rows.Close()

	ids := make([]string, 0)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan trade id", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating trade ids", err)
	}

	return ids, nil
}

func (j *Journal) anomalies(cycleNumber int64) ([]types.Anomaly, error) {
	query, args, err := j.sq.
		Select("asset", "ledger_quantity", "observed_quantity", "detected_at", "corrected").
		From("anomalies").
		Where(squirrel.Eq{"cycle_number": cycleNumber}).
		OrderBy("asset ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build anomalies query", err)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read anomalies", err)
	}

	defer rows.Close()

	anomalies := make([]types.Anomaly, 0)

	for rows.Next() {
		var anomaly types.Anomaly
		if err := rows.Scan(&anomaly.Asset, &anomaly.LedgerQuantity, &anomaly.ObservedQuantity, &anomaly.DetectedAt, &anomaly.Corrected); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan anomaly", err)
		}

		anomalies = append(anomalies, anomaly)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating anomalies", err)
	}

	return anomalies, nil
}

// ExportParquet writes the journal tables as parquet files under dir.
func (j *Journal) ExportParquet(dir string) error {
	for _, table := range []string{"cycles", "trades", "anomalies"} {
		query := fmt.Sprintf(`COPY %s TO '%s/%s.parquet' (FORMAT PARQUET);`, table, dir, table)

		if _, err := j.db.Exec(query); err != nil {
			return errors.Wrapf(errors.ErrCodeJournalFailed, err, "failed to export %s", table)
		}
	}

	return nil
}

// Close releases the journal database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}

	return nil
}
