package writer

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

// DuckDBWriter stages candles in an in-memory DuckDB table and exports them
// as a single Parquet file on Finalize. The column layout is the one the
// backtest pricing provider reads back through read_parquet.
type DuckDBWriter struct {
	db         *sql.DB
	tx         *sql.Tx
	stmt       *sql.Stmt
	outputPath string
}

var _ CandleWriter = (*DuckDBWriter)(nil)

// NewDuckDBWriter creates a writer that exports to the given Parquet path.
func NewDuckDBWriter(outputPath string) *DuckDBWriter {
	return &DuckDBWriter{
		db:         nil,
		tx:         nil,
		stmt:       nil,
		outputPath: outputPath,
	}
}

// Initialize opens the in-memory database, creates the staging table, and
// prepares the insert statement all writes go through.
func (w *DuckDBWriter) Initialize() error {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open DuckDB: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS market_data (
			id TEXT,
			time TIMESTAMP,
			symbol TEXT,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE
		)
	`)
	if err != nil {
		db.Close()

		return fmt.Errorf("failed to create staging table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()

		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO market_data (id, time, symbol, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		db.Close()

		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	w.db = db
	w.tx = tx
	w.stmt = stmt

	return nil
}

// Write stages a single candle. Candles arriving without an id get one
// assigned so downstream consumers can rely on the column being populated.
func (w *DuckDBWriter) Write(data types.MarketData) error {
	if w.stmt == nil {
		return fmt.Errorf("writer is not initialized")
	}

	id := data.Id
	if id == "" {
		id = uuid.New().String()
	}

	_, err := w.stmt.Exec(id, data.Time, data.Symbol, data.Open, data.High, data.Low, data.Close, data.Volume)
	if err != nil {
		return fmt.Errorf("failed to insert candle: %w", err)
	}

	return nil
}

// Finalize commits the staged rows and exports them to the output path.
func (w *DuckDBWriter) Finalize() (string, error) {
	if w.tx == nil {
		return "", fmt.Errorf("writer is not initialized")
	}

	if err := w.tx.Commit(); err != nil {
		w.tx = nil
		w.stmt = nil

		return "", fmt.Errorf("failed to commit staged rows: %w", err)
	}

	w.tx = nil
	w.stmt = nil

	exportQuery := fmt.Sprintf(`COPY market_data TO '%s' (FORMAT PARQUET)`, w.outputPath)
	if _, err := w.db.Exec(exportQuery); err != nil {
		return "", fmt.Errorf("failed to export to Parquet: %w", err)
	}

	return w.outputPath, nil
}

// Close rolls back any uncommitted rows and releases the database. It is
// safe to call multiple times.
func (w *DuckDBWriter) Close() error {
	var errs []error

	if w.stmt != nil {
		if err := w.stmt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close statement: %w", err))
		}

		w.stmt = nil
	}

	if w.tx != nil {
		if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("failed to roll back transaction: %w", err))
		}

		w.tx = nil
	}

	if w.db != nil {
		if err := w.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}

		w.db = nil
	}

	return errors.Join(errs...)
}

// GetOutputPath implements CandleWriter.
func (w *DuckDBWriter) GetOutputPath() string {
	return w.outputPath
}
