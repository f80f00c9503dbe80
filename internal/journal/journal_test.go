package journal

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type JournalTestSuite struct {
	suite.Suite
	journal  *Journal
	logger   *logger.Logger
	baseTime time.Time
}

func TestJournalSuite(t *testing.T) {
	suite.Run(t, new(JournalTestSuite))
}

func (suite *JournalTestSuite) SetupSuite() {
	// Create a no-op logger
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.OutputPaths = []string{}
	loggerConfig.ErrorOutputPaths = []string{}
	zapLogger, err := loggerConfig.Build()
	suite.Require().NoError(err)
	suite.logger = &logger.Logger{Logger: zapLogger}

	suite.baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (suite *JournalTestSuite) SetupTest() {
	path := filepath.Join(suite.T().TempDir(), "journal.db")

	journal, err := NewJournal(path, suite.logger)
	suite.Require().NoError(err)
	suite.journal = journal
}

func (suite *JournalTestSuite) TearDownTest() {
	if suite.journal != nil {
		suite.journal.Close()
	}
}

// sealedCycle builds a cycle record numbered n, decided n minutes into the
// run and sealed thirty seconds later.
func (suite *JournalTestSuite) sealedCycle(number int64, status types.CycleStatus) types.CycleRecord {
	decidedAt := suite.baseTime.Add(time.Duration(number) * time.Minute)

	return types.CycleRecord{
		Number:      number,
		DecidedAt:   decidedAt,
		Status:      status,
		ValueBefore: 10000,
		CashBefore:  10000,
		ValueAfter:  10000,
		CashAfter:   10000,
		SealedAt:    decidedAt.Add(30 * time.Second),
	}
}

func (suite *JournalTestSuite) settledTrade(id string, cycle, sequence int64, side types.TradeSide, realized float64) types.Trade {
	createdAt := suite.baseTime.Add(time.Duration(cycle) * time.Minute)

	return types.Trade{
		ID:              id,
		SequenceNumber:  sequence,
		CycleNumber:     cycle,
		Asset:           "BTC",
		Side:            side,
		Direction:       types.TradeDirectionOpen,
		PlannedQuantity: 1.5,
		PlannedPrice:    100,
		Reason:          types.Reason{Reason: types.IntentReasonStrategy, Message: "rebalance"},
		State:           types.TradeStateSettled,
		Attempts:        1,
		VenueOrderID:    optional.Some("venue-" + id),
		FilledQuantity:  1.5,
		FilledPrice:     100.2,
		RealizedPnL:     realized,
		CreatedAt:       createdAt,
		SubmittedAt:     optional.Some(createdAt.Add(time.Second)),
		SettledAt:       optional.Some(createdAt.Add(5 * time.Second)),
	}
}

func (suite *JournalTestSuite) failedTrade(id string, cycle, sequence int64) types.Trade {
	trade := suite.settledTrade(id, cycle, sequence, types.TradeSideBuy, 0)
	trade.State = types.TradeStateFailed
	trade.VenueOrderID = optional.None[string]()
	trade.FilledQuantity = 0
	trade.FilledPrice = 0
	trade.SettledAt = optional.None[time.Time]()
	trade.FailureReason = optional.Some(types.Reason{
		Reason:  types.FailureReasonSlippageViolation,
		Message: "fill price 105.00 deviates from plan 100.00",
	})

	return trade
}

func (suite *JournalTestSuite) collectCycles(filter types.CycleFilter) []types.CycleRecord {
	var records []types.CycleRecord

	for record, err := range suite.journal.Cycles(filter) {
		suite.Require().NoError(err)

		records = append(records, record)
	}

	return records
}

func (suite *JournalTestSuite) TestAppendAndReadBack() {
	record := suite.sealedCycle(1, types.CycleStatusPartial)
	record.ValueAfter = 10150
	record.CashAfter = 9800
	record.TimedOut = true
	record.Anomalies = []types.Anomaly{
		{
			Asset:            "BTC",
			LedgerQuantity:   1.5,
			ObservedQuantity: 1.2,
			DetectedAt:       record.SealedAt,
			Corrected:        true,
		},
	}

	trades := []types.Trade{
		suite.settledTrade("trade-2", 1, 2, types.TradeSideSell, 40),
		suite.settledTrade("trade-1", 1, 1, types.TradeSideBuy, 0),
		suite.failedTrade("trade-3", 1, 3),
	}

	suite.Require().NoError(suite.journal.Append(record, trades))

	records := suite.collectCycles(types.CycleFilter{})
	suite.Require().Len(records, 1)

	got := records[0]
	suite.Equal(int64(1), got.Number)
	suite.Equal(types.CycleStatusPartial, got.Status)
	suite.True(got.DecidedAt.Equal(record.DecidedAt))
	suite.True(got.SealedAt.Equal(record.SealedAt))
	suite.Equal(10000.0, got.ValueBefore)
	suite.Equal(10150.0, got.ValueAfter)
	suite.Equal(9800.0, got.CashAfter)
	suite.True(got.TimedOut)

	// Trade ids come back in sequence order regardless of append order
	suite.Equal([]string{"trade-1", "trade-2", "trade-3"}, got.TradeIDs)

	suite.Require().Len(got.Anomalies, 1)
	suite.Equal("BTC", got.Anomalies[0].Asset)
	suite.Equal(1.5, got.Anomalies[0].LedgerQuantity)
	suite.Equal(1.2, got.Anomalies[0].ObservedQuantity)
	suite.True(got.Anomalies[0].Corrected)
}

func (suite *JournalTestSuite) TestAppendDuplicateCycleFails() {
	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(1, types.CycleStatusEmpty), nil))

	err := suite.journal.Append(suite.sealedCycle(1, types.CycleStatusEmpty), nil)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeJournalFailed))

	count, err := suite.journal.CycleCount()
	suite.NoError(err)
	suite.Equal(1, count)
}

func (suite *JournalTestSuite) TestAppendRejectsNonTerminalTrade() {
	inFlight := suite.settledTrade("trade-1", 1, 1, types.TradeSideBuy, 0)
	inFlight.State = types.TradeStateConfirming

	err := suite.journal.Append(suite.sealedCycle(1, types.CycleStatusComplete), []types.Trade{inFlight})
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeJournalFailed))

	// The whole append rolls back, including the cycle row
	count, err := suite.journal.CycleCount()
	suite.NoError(err)
	suite.Equal(0, count)
}

func (suite *JournalTestSuite) TestCyclesFilters() {
	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(1, types.CycleStatusComplete), nil))
	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(2, types.CycleStatusPartial), nil))
	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(3, types.CycleStatusEmpty), nil))
	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(4, types.CycleStatusComplete), nil))

	all := suite.collectCycles(types.CycleFilter{})
	suite.Len(all, 4)
	suite.Equal(int64(1), all[0].Number)
	suite.Equal(int64(4), all[3].Number)

	after := suite.collectCycles(types.CycleFilter{AfterNumber: 2})
	suite.Len(after, 2)
	suite.Equal(int64(3), after[0].Number)

	complete := suite.collectCycles(types.CycleFilter{Status: optional.Some(types.CycleStatusComplete)})
	suite.Len(complete, 2)
	suite.Equal(int64(1), complete[0].Number)
	suite.Equal(int64(4), complete[1].Number)

	limited := suite.collectCycles(types.CycleFilter{Limit: 2})
	suite.Len(limited, 2)
	suite.Equal(int64(2), limited[1].Number)
}

func (suite *JournalTestSuite) TestCyclesIteratorRestarts() {
	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(1, types.CycleStatusComplete), nil))

	iterator := suite.journal.Cycles(types.CycleFilter{})

	first := 0
	for _, err := range iterator {
		suite.Require().NoError(err)

		first++
	}
	suite.Equal(1, first)

	// A cycle sealed between passes shows up on the next range
	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(2, types.CycleStatusComplete), nil))

	second := 0
	for _, err := range iterator {
		suite.Require().NoError(err)

		second++
	}
	suite.Equal(2, second)
}

func (suite *JournalTestSuite) TestCyclesEarlyBreak() {
	for number := int64(1); number <= 5; number++ {
		suite.Require().NoError(suite.journal.Append(suite.sealedCycle(number, types.CycleStatusEmpty), nil))
	}

	count := 0

	for record, err := range suite.journal.Cycles(types.CycleFilter{}) {
		suite.Require().NoError(err)
		suite.Equal(int64(count+1), record.Number)

		count++
		if count == 2 {
			break
		}
	}

	suite.Equal(2, count)
}

func (suite *JournalTestSuite) TestLastSealed() {
	_, found, err := suite.journal.LastSealed()
	suite.NoError(err)
	suite.False(found)

	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(1, types.CycleStatusComplete), nil))
	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(2, types.CycleStatusPartial), nil))

	last, found, err := suite.journal.LastSealed()
	suite.NoError(err)
	suite.True(found)
	suite.Equal(int64(2), last.Number)
	suite.Equal(types.CycleStatusPartial, last.Status)
}

func (suite *JournalTestSuite) TestCycleCount() {
	count, err := suite.journal.CycleCount()
	suite.NoError(err)
	suite.Equal(0, count)

	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(1, types.CycleStatusComplete), nil))
	suite.Require().NoError(suite.journal.Append(suite.sealedCycle(2, types.CycleStatusComplete), nil))

	count, err = suite.journal.CycleCount()
	suite.NoError(err)
	suite.Equal(2, count)
}

func (suite *JournalTestSuite) TestExportParquet() {
	record := suite.sealedCycle(1, types.CycleStatusComplete)
	trades := []types.Trade{suite.settledTrade("trade-1", 1, 1, types.TradeSideBuy, 0)}
	suite.Require().NoError(suite.journal.Append(record, trades))

	dir := suite.T().TempDir()
	suite.Require().NoError(suite.journal.ExportParquet(dir))

	db, err := sql.Open("duckdb", ":memory:")
	suite.Require().NoError(err)

	defer db.Close()

	var cycleRows, tradeRows int
	suite.Require().NoError(db.QueryRow(fmt.Sprintf(
		`SELECT count(*) FROM read_parquet('%s')`, filepath.Join(dir, "cycles.parquet"))).Scan(&cycleRows))
	suite.Require().NoError(db.QueryRow(fmt.Sprintf(
		`SELECT count(*) FROM read_parquet('%s')`, filepath.Join(dir, "trades.parquet"))).Scan(&tradeRows))

	suite.Equal(1, cycleRows)
	suite.Equal(1, tradeRows)
}

func (suite *JournalTestSuite) TestTradeRoundTrip() {
	record := suite.sealedCycle(1, types.CycleStatusPartial)
	settled := suite.settledTrade("trade-1", 1, 1, types.TradeSideSell, 40)
	failed := suite.failedTrade("trade-2", 1, 2)

	suite.Require().NoError(suite.journal.Append(record, []types.Trade{settled, failed}))

	rows, err := suite.journal.db.Query(
		`SELECT id, state, attempts, venue_order_id, realized_pnl, failure_reason FROM trades ORDER BY sequence_number`)
	suite.Require().NoError(err)

	defer rows.Close()

	type journaledTrade struct {
		id            string
		state         string
		attempts      int
		venueOrderID  sql.NullString
		realizedPnl   float64
		failureReason sql.NullString
	}

	var trades []journaledTrade

	for rows.Next() {
		var trade journaledTrade
		suite.Require().NoError(rows.Scan(&trade.id, &trade.state, &trade.attempts,
			&trade.venueOrderID, &trade.realizedPnl, &trade.failureReason))

		trades = append(trades, trade)
	}

	suite.Require().NoError(rows.Err())
	suite.Require().Len(trades, 2)

	suite.Equal("trade-1", trades[0].id)
	suite.Equal(string(types.TradeStateSettled), trades[0].state)
	suite.Equal("venue-trade-1", trades[0].venueOrderID.String)
	suite.Equal(40.0, trades[0].realizedPnl)
	suite.False(trades[0].failureReason.Valid)

	suite.Equal("trade-2", trades[1].id)
	suite.Equal(string(types.TradeStateFailed), trades[1].state)
	suite.False(trades[1].venueOrderID.Valid)
	suite.Equal(types.FailureReasonSlippageViolation, trades[1].failureReason.String)
}
