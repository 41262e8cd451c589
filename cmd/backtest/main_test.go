package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	engine_v1 "github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/version"
	"github.com/rxtech-lab/argo-backtest/mocks"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type BacktestCmdTestSuite struct {
	suite.Suite
	dir  string
	data string
}

func TestBacktestCmdSuite(t *testing.T) {
	suite.Run(t, new(BacktestCmdTestSuite))
}

func (suite *BacktestCmdTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()

	bars := mocks.NewDataGenerator(11).GenerateMultiTicker([]string{"AAA", "BBB"}, mocks.GeneratorConfig{
		Region:         "US",
		Currency:       "USD",
		StartDate:      time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC),
		Count:          200,
		InitialPrice:   50,
		Volatility:     0.02,
		VolumeBase:     50_000,
		VolumeVariance: 0.2,
	})

	suite.data = suite.writeCSV("prices.csv", bars)
}

func (suite *BacktestCmdTestSuite) writeCSV(name string, bars []types.OHLCV) string {
	var buf strings.Builder

	buf.WriteString("date,ticker,open,high,low,close,volume\n")

	for _, bar := range bars {
		fmt.Fprintf(&buf, "%s,%s,%g,%g,%g,%g,%g\n",
			bar.Date.Format(types.DateLayout), bar.Ticker, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}

	path := filepath.Join(suite.dir, name)
	suite.Require().NoError(os.WriteFile(path, []byte(buf.String()), 0644))

	return path
}

func (suite *BacktestCmdTestSuite) run(args ...string) (string, error) {
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard

	err := app.Run(context.Background(), append([]string{"backtest", "--log-level", "error"}, args...))

	return out.String(), err
}

func (suite *BacktestCmdTestSuite) TestRun() {
	results := filepath.Join(suite.dir, "results")

	out, err := suite.run("run",
		"--data", suite.data,
		"--start", "2024-01-01",
		"--end", "2024-06-01",
		"--strategy", "sma_crossover",
		"--params", "fast=3,slow=8,notional=3000",
		"--initial-capital", "20000",
		"--results", results,
	)
	suite.Require().NoError(err)

	suite.Contains(out, "Trades executed:")
	suite.Contains(out, "Data gaps:        0")

	runs, err := filepath.Glob(filepath.Join(results, "sma_crossover", "*"))
	suite.Require().NoError(err)
	suite.Require().Len(runs, 1)

	for _, file := range []string{
		engine_v1.TradesFileName,
		engine_v1.EquityFileName,
		engine_v1.EventsFileName,
		engine_v1.MetricsFileName,
	} {
		suite.FileExists(filepath.Join(runs[0], file))
	}
}

func (suite *BacktestCmdTestSuite) TestRunWithConfigFile() {
	config := filepath.Join(suite.dir, "config.yaml")
	suite.Require().NoError(os.WriteFile(config, []byte(`
initial_capital: 50000
cost_profile: institutional
start_time: 2024-01-01T00:00:00Z
end_time: 2024-03-01T00:00:00Z
`), 0644))

	// the flag overrides the profile from the file
	out, err := suite.run("run",
		"--data", suite.data,
		"--config", config,
		"--cost-profile", "zero",
		"--results", filepath.Join(suite.dir, "results"),
	)
	suite.Require().NoError(err)
	suite.Contains(out, "Trades executed:  4")
}

func (suite *BacktestCmdTestSuite) TestRunErrors() {
	_, err := suite.run("run", "--data", suite.data, "--end", "2024-06-01")
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidDateRange), "got %v", err)

	_, err = suite.run("run", "--data", suite.data, "--start", "2024-01-01", "--end", "2024-06-01", "--strategy", "momentum")
	suite.True(errors.HasCode(err, errors.ErrCodeStrategyNotFound), "got %v", err)

	_, err = suite.run("run", "--data", suite.data, "--start", "2024-01-01", "--end", "2024-06-01", "--cost-profile", "cheap")
	suite.True(errors.IsValidationError(err), "got %v", err)

	_, err = suite.run("run", "--data", filepath.Join(suite.dir, "prices.txt"), "--start", "2024-01-01", "--end", "2024-06-01")
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter), "got %v", err)
}

func (suite *BacktestCmdTestSuite) TestValidate() {
	out, err := suite.run("validate",
		"--data", suite.data,
		"--start", "2024-01-01",
		"--end", "2024-06-01",
		"--strategy", "sma_crossover",
		"--params", "fast=3,slow=8,notional=3000",
		"--initial-capital", "20000",
	)
	suite.Require().NoError(err)
	suite.Contains(out, "engine_v1 vs vectorized")
	suite.Contains(out, "Engines agree")
}

func (suite *BacktestCmdTestSuite) TestWalkForward() {
	data := suite.writeCSV("years.csv", mocks.GenerateYears("TEST", 5))

	sweep := filepath.Join(suite.dir, "walkforward.yaml")
	suite.Require().NoError(os.WriteFile(sweep, []byte(`
schedule:
  train: 2y
  test: 1y
  step: 1y
parameters:
  - name: small
    values: {notional: 2000}
  - name: large
    values: {notional: 8000}
`), 0644))

	report := filepath.Join(suite.dir, "report.json")

	out, err := suite.run("walkforward",
		"--data", data,
		"--walkforward-config", sweep,
		"--start", "2020-01-01",
		"--end", "2024-10-01",
		"--strategy", "buy_and_hold",
		"--initial-capital", "20000",
		"--parallelism", "2",
		"--report", report,
	)
	suite.Require().NoError(err)

	suite.Contains(out, "Window 0  train 2020-01-01..2022-01-01  test 2022-01-01..2023-01-01")
	suite.Contains(out, "Windows completed:     2/2")
	suite.FileExists(report)
}

func (suite *BacktestCmdTestSuite) TestSchema() {
	out, err := suite.run("schema")
	suite.Require().NoError(err)
	suite.Contains(out, "backtest-engine-v1-config")

	out, err = suite.run("schema", "--walkforward")
	suite.Require().NoError(err)
	suite.Contains(out, "walkforward-config")

	dir := filepath.Join(suite.dir, "config")

	_, err = suite.run("schema", "--output", dir)
	suite.Require().NoError(err)
	suite.FileExists(filepath.Join(dir, schemaFileName))
	suite.FileExists(filepath.Join(dir, walkForwardSchemaFileName))

	sample, err := os.ReadFile(filepath.Join(dir, sampleConfigFileName))
	suite.Require().NoError(err)
	suite.True(strings.HasPrefix(string(sample), "# yaml-language-server: $schema="+schemaFileName))

	config, err := engine_v1.LoadConfig(sample)
	suite.Require().NoError(err)
	suite.Equal(version.GetVersion(), config.EngineVersion)
}

func (suite *BacktestCmdTestSuite) TestParseParams() {
	tests := []struct {
		name     string
		raw      string
		expected map[string]float64
		wantErr  bool
	}{
		{name: "empty", raw: "", expected: map[string]float64{}},
		{name: "pairs", raw: "fast=5, slow=20", expected: map[string]float64{"fast": 5, "slow": 20}},
		{name: "missing value", raw: "fast", wantErr: true},
		{name: "missing key", raw: "=5", wantErr: true},
		{name: "not a number", raw: "fast=quick", wantErr: true},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			params, err := parseParams("sma_crossover", tt.raw)
			if tt.wantErr {
				suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter), "got %v", err)

				return
			}

			suite.Require().NoError(err)
			suite.Equal("sma_crossover", params.Name)
			suite.Equal(tt.expected, params.Values)
		})
	}
}
