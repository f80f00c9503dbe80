package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

// HistoricalProvider replays recorded candles from a parquet file through
// DuckDB. A quote at time t is the most recent candle at or before t; asking
// far past the last candle fails with ErrCodeStaleData instead of silently
// serving old prices. The provider also exposes the candle timestamps, which
// drive the simulated clock during a backtest.
type HistoricalProvider struct {
	db             *sql.DB
	logger         *logger.Logger
	sq             squirrel.StatementBuilderType
	staleTolerance time.Duration
}

var _ Provider = (*HistoricalProvider)(nil)

// NewHistoricalProvider opens the DuckDB database at path. The path may be
// ":memory:". staleTolerance bounds how far a quote may trail the requested
// instant before it counts as stale.
func NewHistoricalProvider(path string, staleTolerance time.Duration, logger *logger.Logger) (*HistoricalProvider, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to open DuckDB", err)
	}

	// Set DuckDB-specific optimizations
	_, err = db.Exec(`
		SET memory_limit='8GB';
		SET threads=4;
		SET temp_directory='./temp';
	`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to set DuckDB optimizations", err)
	}

	return &HistoricalProvider{
		db:             db,
		logger:         logger,
		sq:             squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		staleTolerance: staleTolerance,
	}, nil
}

// Initialize points the provider at a parquet file of candles.
func (p *HistoricalProvider) Initialize(path string) error {
	p.logger.Debug("Initializing historical pricing", zap.String("path", path))

	// First drop the view if it exists
	_, err := p.db.Exec(`DROP VIEW IF EXISTS market_data;`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to drop existing view", err)
	}

	// Create a view from the parquet file - raw SQL as Squirrel doesn't support CREATE VIEW
	query := fmt.Sprintf(`
		CREATE VIEW market_data AS
		SELECT * FROM read_parquet('%s');
	`, path)

	_, err = p.db.Exec(query)
	if err != nil {
		return errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to create market data view", err)
	}

	return nil
}

// Quote implements Provider. The price is the close of the latest candle at
// or before the requested instant; the liquidity is that candle's volume.
func (p *HistoricalProvider) Quote(ctx context.Context, asset string, at time.Time) (types.Quote, error) {
	query, args, err := p.sq.
		Select("time", "close", "volume").
		From("market_data").
		Where(squirrel.And{
			squirrel.Eq{"symbol": asset},
			squirrel.LtOrEq{"time": at},
		}).
		OrderBy("time DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return types.Quote{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build quote query", err)
	}

	var (
		candleTime    time.Time
		close, volume float64
	)

	err = p.db.QueryRowContext(ctx, query, args...).Scan(&candleTime, &close, &volume)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Quote{}, errors.Newf(errors.ErrCodeNoLiquidity, "no candle for %s at or before %s", asset, at.Format(time.RFC3339))
		}

		return types.Quote{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to read quote", err)
	}

	if at.Sub(candleTime) > p.staleTolerance {
		return types.Quote{}, errors.Newf(errors.ErrCodeStaleData,
			"latest candle for %s is %s old at %s, tolerance is %s",
			asset, at.Sub(candleTime), at.Format(time.RFC3339), p.staleTolerance)
	}

	return types.Quote{
		Asset:     asset,
		Price:     close,
		Liquidity: volume,
		Time:      candleTime,
	}, nil
}

// Timestamps yields the distinct candle timestamps in ascending order,
// bounded by the optional start and end. The simulated clock advances
// through these during a backtest.
func (p *HistoricalProvider) Timestamps(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(time.Time, error) bool) {
	return func(yield func(time.Time, error) bool) {
		builder := p.sq.
			Select("DISTINCT time").
			From("market_data").
			OrderBy("time ASC")

		if start.IsSome() {
			builder = builder.Where(squirrel.GtOrEq{"time": start.Unwrap()})
		}

		if end.IsSome() {
			builder = builder.Where(squirrel.LtOrEq{"time": end.Unwrap()})
		}

		query, args, err := builder.ToSql()
		if err != nil {
			yield(time.Time{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build timestamps query", err))

			return
		}

		rows, err := p.db.Query(query, args...)
		if err != nil {
			yield(time.Time{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to read timestamps", err))

			return
		}

		defer rows.Close()

		for rows.Next() {
			var timestamp time.Time

			if err := rows.Scan(&timestamp); err != nil {
				yield(time.Time{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to scan timestamp", err))

				return
			}

			if !yield(timestamp, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(time.Time{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "error iterating timestamps", err))
		}
	}
}

// Count returns the number of candle rows between the optional bounds.
func (p *HistoricalProvider) Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	builder := p.sq.
		Select("COUNT(*)").
		From("market_data")

	if start.IsSome() {
		builder = builder.Where(squirrel.GtOrEq{"time": start.Unwrap()})
	}

	if end.IsSome() {
		builder = builder.Where(squirrel.LtOrEq{"time": end.Unwrap()})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int

	err = p.db.QueryRow(query, args...).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to count candles", err)
	}

	return count, nil
}

// GetAllAssets returns all distinct symbols present in the candle data.
func (p *HistoricalProvider) GetAllAssets() ([]string, error) {
	rows, err := p.db.Query("SELECT DISTINCT symbol FROM market_data ORDER BY symbol")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to get symbols", err)
	}
	defer rows.Close()

	var assets []string

	for rows.Next() {
		var asset string
		if err := rows.Scan(&asset); err != nil {
			return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to scan symbol", err)
		}

		assets = append(assets, asset)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "error iterating symbols", err)
	}

	return assets, nil
}

// LastCandle returns the most recent candle for the asset.
func (p *HistoricalProvider) LastCandle(asset string) (types.MarketData, error) {
	query, args, err := p.sq.
		Select("time", "symbol", "open", "high", "low", "close", "volume").
		From("market_data").
		Where(squirrel.Eq{"symbol": asset}).
		OrderBy("time DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return types.MarketData{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	var (
		timestamp                      time.Time
		symbol                         string
		open, high, low, close, volume float64
	)

	err = p.db.QueryRow(query, args...).Scan(&timestamp, &symbol, &open, &high, &low, &close, &volume)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.MarketData{}, errors.Newf(errors.ErrCodeNoLiquidity, "no data found for symbol: %s", asset)
		}

		return types.MarketData{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to scan row", err)
	}

	return types.MarketData{
		Id:     "",
		Symbol: symbol,
		Time:   timestamp,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
	}, nil
}

// Close implements Provider.
func (p *HistoricalProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}

	return nil
}
