package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (suite *LoggerTestSuite) TestNewLogger() {
	logger, err := NewLogger()
	suite.Require().NoError(err)
	suite.NotNil(logger.Logger)
	suite.True(logger.Core().Enabled(zapcore.InfoLevel))
	suite.False(logger.Core().Enabled(zapcore.DebugLevel))
}

func (suite *LoggerTestSuite) TestNewLoggerWithLevel() {
	logger, err := NewLoggerWithLevel(zapcore.ErrorLevel)
	suite.Require().NoError(err)
	suite.False(logger.Core().Enabled(zapcore.WarnLevel))
	suite.True(logger.Core().Enabled(zapcore.ErrorLevel))
}

func (suite *LoggerTestSuite) TestNewWritesToConfiguredPath() {
	tests := []struct {
		name     string
		encoding string
		contains string
	}{
		{name: "json", encoding: "json", contains: `"run_id":"r-1"`},
		{name: "console", encoding: "console", contains: "WARN"},
		{name: "default encoding", encoding: "", contains: `"msg":"Order rejected"`},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			path := filepath.Join(suite.T().TempDir(), "engine.log")

			logger, err := New(Config{
				Level:       zapcore.DebugLevel,
				Encoding:    tt.encoding,
				OutputPaths: []string{path},
			})
			suite.Require().NoError(err)

			logger.Warn("Order rejected", zap.String("run_id", "r-1"))
			suite.Require().NoError(logger.Sync())

			data, err := os.ReadFile(path)
			suite.Require().NoError(err)
			suite.Contains(string(data), tt.contains)
		})
	}
}

func (suite *LoggerTestSuite) TestCLIConfig() {
	config := CLIConfig(zapcore.WarnLevel)

	suite.Equal(zapcore.WarnLevel, config.Level)
	suite.Equal("console", config.Encoding)
	suite.Equal([]string{"stderr"}, config.OutputPaths)
}

func (suite *LoggerTestSuite) TestInvalidEncoding() {
	_, err := New(Config{Level: zapcore.InfoLevel, Encoding: "xml", OutputPaths: []string{"stdout"}})
	suite.Error(err)
}

func (suite *LoggerTestSuite) TestSyncNilLogger() {
	logger := &Logger{Logger: nil}
	suite.NoError(logger.Sync())
}

func (suite *LoggerTestSuite) TestNewNopLogger() {
	logger := NewNopLogger()
	suite.NotNil(logger.Logger)

	logger.Warn("dropped")
	suite.NoError(logger.Sync())
}

func (suite *LoggerTestSuite) TestNamed() {
	logger := NewNopLogger().Named("simulator")
	suite.NotNil(logger.Logger)

	var nilLogger *Logger
	suite.NotNil(nilLogger.Named("walkforward").Logger)
}
