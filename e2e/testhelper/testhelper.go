// Package testhelper holds shared helpers for the end-to-end suites: candle
// fixture generation and readers for the Parquet exports a finished run
// leaves in its results folder.
package testhelper

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/require"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/mocks"
	"github.com/pyxis-lab/pyxis-executor/pkg/marketdata/writer"
)

// TestingT is an interface that matches testing.T
type TestingT interface {
	require.TestingT
	TempDir() string
}

// WriteCandleFixture generates a reproducible candle series for symbol and
// writes it as a Parquet file under dir. Returns the file path and the
// generated candles so tests can derive the backtest period from them.
func WriteCandleFixture(t TestingT, dir, symbol string, count int) (string, []types.MarketData) {
	candles := mocks.GenerateSeries(symbol, count)

	return writeCandles(t, dir, candles), candles
}

// WriteSeriesFixture generates a candle series from an explicit configuration
// and writes it as a Parquet file under dir. Use this when a test needs a
// shaped price path, for example a deterministic decline.
func WriteSeriesFixture(t TestingT, dir string, config mocks.SeriesConfig) (string, []types.MarketData) {
	gen := mocks.NewCandleGenerator(42)
	candles := gen.Generate(config)

	return writeCandles(t, dir, candles), candles
}

// WriteMultiAssetFixture generates one series per symbol on a shared
// timestamp grid and writes them into a single Parquet file under dir.
func WriteMultiAssetFixture(t TestingT, dir string, symbols []string, count int) (string, []types.MarketData) {
	config := mocks.DefaultSeriesConfig()
	config.Count = count

	gen := mocks.NewCandleGenerator(42)
	candles := gen.GenerateMultiSymbol(symbols, config)

	return writeCandles(t, dir, candles), candles
}

func writeCandles(t TestingT, dir string, candles []types.MarketData) string {
	path := filepath.Join(dir, "candles.parquet")

	w := writer.NewDuckDBWriter(path)
	require.NoError(t, w.Initialize())

	defer func() {
		require.NoError(t, w.Close())
	}()

	for _, candle := range candles {
		require.NoError(t, w.Write(candle))
	}

	_, err := w.Finalize()
	require.NoError(t, err)

	return path
}

// ReadCycles reads sealed cycle records from the cycles.parquet files under
// resultsFolder, ordered by cycle number. The export carries the per-cycle
// scalar columns; trade IDs and anomalies live in their own tables.
func ReadCycles(t TestingT, resultsFolder string) ([]types.CycleRecord, error) {
	paths, err := findParquet(resultsFolder, "cycles.parquet")
	if err != nil {
		return nil, err
	}

	var records []types.CycleRecord

	for _, path := range paths {
		fileRecords, err := readCyclesFromParquet(path)
		if err != nil {
			return nil, err
		}

		records = append(records, fileRecords...)
	}

	return records, nil
}

func readCyclesFromParquet(path string) ([]types.CycleRecord, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB connection: %w", err)
	}
	defer db.Close()

	createViewSQL := fmt.Sprintf(`CREATE VIEW cycles_view AS SELECT * FROM read_parquet('%s');`, path)
	if _, err = db.Exec(createViewSQL); err != nil {
		return nil, fmt.Errorf("failed to create view from parquet file: %w", err)
	}

	sq := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	query, args, err := sq.
		Select(
			"number", "decided_at", "status",
			"value_before", "cash_before", "value_after", "cash_after",
			"timed_out", "sealed_at",
		).
		From("cycles_view").
		OrderBy("number ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query: %w", err)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var records []types.CycleRecord

	for rows.Next() {
		var (
			record types.CycleRecord
			status string
		)

		err := rows.Scan(
			&record.Number, &record.DecidedAt, &status,
			&record.ValueBefore, &record.CashBefore, &record.ValueAfter, &record.CashAfter,
			&record.TimedOut, &record.SealedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}

		record.Status = types.CycleStatus(status)
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle rows: %w", err)
	}

	return records, nil
}

// ReadTrades reads terminal trades from the trades.parquet files under
// resultsFolder, ordered by sequence number.
func ReadTrades(t TestingT, resultsFolder string) ([]types.Trade, error) {
	paths, err := findParquet(resultsFolder, "trades.parquet")
	if err != nil {
		return nil, err
	}

	var trades []types.Trade

	for _, path := range paths {
		fileTrades, err := readTradesFromParquet(path)
		if err != nil {
			return nil, err
		}

		trades = append(trades, fileTrades...)
	}

	return trades, nil
}

func readTradesFromParquet(path string) ([]types.Trade, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB connection: %w", err)
	}
	defer db.Close()

	createViewSQL := fmt.Sprintf(`CREATE VIEW trades_view AS SELECT * FROM read_parquet('%s');`, path)
	if _, err = db.Exec(createViewSQL); err != nil {
		return nil, fmt.Errorf("failed to create view from parquet file: %w", err)
	}

	sq := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	query, args, err := sq.
		Select(
			"id", "cycle_number", "sequence_number", "asset", "side", "direction",
			"planned_quantity", "planned_price", "state", "attempts", "venue_order_id",
			"filled_quantity", "filled_price", "realized_pnl", "reason",
			"failure_reason", "failure_message", "created_at", "settled_at",
		).
		From("trades_view").
		OrderBy("sequence_number ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query: %w", err)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		var (
			trade          types.Trade
			side           string
			direction      string
			state          string
			reason         string
			venueOrderID   sql.NullString
			failureReason  sql.NullString
			failureMessage sql.NullString
			settledAt      sql.NullTime
		)

		err := rows.Scan(
			&trade.ID, &trade.CycleNumber, &trade.SequenceNumber, &trade.Asset, &side, &direction,
			&trade.PlannedQuantity, &trade.PlannedPrice, &state, &trade.Attempts, &venueOrderID,
			&trade.FilledQuantity, &trade.FilledPrice, &trade.RealizedPnL, &reason,
			&failureReason, &failureMessage, &trade.CreatedAt, &settledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}

		trade.Side = types.TradeSide(side)
		trade.Direction = types.TradeDirection(direction)
		trade.State = types.TradeState(state)
		trade.Reason = types.Reason{Reason: reason, Message: ""}

		if venueOrderID.Valid {
			trade.VenueOrderID = optional.Some(venueOrderID.String)
		} else {
			trade.VenueOrderID = optional.None[string]()
		}

		if failureReason.Valid {
			trade.FailureReason = optional.Some(types.Reason{
				Reason:  failureReason.String,
				Message: failureMessage.String,
			})
		} else {
			trade.FailureReason = optional.None[types.Reason]()
		}

		if settledAt.Valid {
			trade.SettledAt = optional.Some(settledAt.Time)
		} else {
			trade.SettledAt = optional.None[time.Time]()
		}

		trades = append(trades, trade)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}

	return trades, nil
}

// AnomalyRow is one journaled reconciliation anomaly together with the cycle
// that recorded it.
type AnomalyRow struct {
	CycleNumber int64
	Anomaly     types.Anomaly
}

// ReadAnomalies reads reconciliation anomalies from the anomalies.parquet
// files under resultsFolder, ordered by cycle number.
func ReadAnomalies(t TestingT, resultsFolder string) ([]AnomalyRow, error) {
	paths, err := findParquet(resultsFolder, "anomalies.parquet")
	if err != nil {
		return nil, err
	}

	var anomalies []AnomalyRow

	for _, path := range paths {
		fileAnomalies, err := readAnomaliesFromParquet(path)
		if err != nil {
			return nil, err
		}

		anomalies = append(anomalies, fileAnomalies...)
	}

	return anomalies, nil
}

func readAnomaliesFromParquet(path string) ([]AnomalyRow, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB connection: %w", err)
	}
	defer db.Close()

	createViewSQL := fmt.Sprintf(`CREATE VIEW anomalies_view AS SELECT * FROM read_parquet('%s');`, path)
	if _, err = db.Exec(createViewSQL); err != nil {
		return nil, fmt.Errorf("failed to create view from parquet file: %w", err)
	}

	sq := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	query, args, err := sq.
		Select("cycle_number", "asset", "ledger_quantity", "observed_quantity", "detected_at", "corrected").
		From("anomalies_view").
		OrderBy("cycle_number ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query: %w", err)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []AnomalyRow

	for rows.Next() {
		var row AnomalyRow

		err := rows.Scan(
			&row.CycleNumber, &row.Anomaly.Asset,
			&row.Anomaly.LedgerQuantity, &row.Anomaly.ObservedQuantity,
			&row.Anomaly.DetectedAt, &row.Anomaly.Corrected,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly row: %w", err)
		}

		anomalies = append(anomalies, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomaly rows: %w", err)
	}

	return anomalies, nil
}

func findParquet(root, name string) ([]string, error) {
	var paths []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && filepath.Base(path) == name {
			paths = append(paths, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s files found in %s", name, root)
	}

	return paths, nil
}
