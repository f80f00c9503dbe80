package logger

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (suite *LoggerTestSuite) TestNewLogger() {
	log, err := NewLogger()
	suite.NoError(err)
	suite.NotNil(log)
	suite.NotNil(log.Logger)
}

func (suite *LoggerTestSuite) TestLoggerSync() {
	log, err := NewLogger()
	suite.NoError(err)
	suite.NotNil(log)

	// Sync may return an error on some systems (e.g., when syncing stdout)
	// but it should not panic
	err = log.Sync()
	_ = err
}

func (suite *LoggerTestSuite) TestLoggerSyncNilLogger() {
	log := &Logger{Logger: nil}

	// Sync should not panic and should return nil for a nil inner logger
	err := log.Sync()
	suite.NoError(err)
}

func (suite *LoggerTestSuite) TestLoggerLogging() {
	log, err := NewLogger()
	suite.NoError(err)
	suite.NotNil(log)

	// These should not panic
	log.Info("test info message")
	log.Debug("test debug message")
	log.Warn("test warn message")
	log.Error("test error message")
}

func (suite *LoggerTestSuite) TestLoggerWithFields() {
	log, err := NewLogger()
	suite.NoError(err)
	suite.NotNil(log)

	// Should not panic
	log.Info("settlement recorded",
		zap.String("asset", "ETH"),
		zap.Float64("quantity", 1.5),
	)
	log.With(zap.Int64("cycle", 42)).Info("cycle sealed")
}
