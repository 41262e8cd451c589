package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	engine_v1 "github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost_model"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/strategy"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap/zapcore"
)

// inputs are the resolved collaborators shared by run, walkforward and validate.
type inputs struct {
	config       engine_v1.BacktestEngineV1Config
	strategyName string
	factory      strategy.Factory
	params       types.ParameterSet
	signalFile   string
	prices       *datasource.InMemoryPriceProvider
	costModel    cost_model.CostModel
	dateRange    types.DateRange
}

// factoryContext returns the strategy context for a run over dateRange.
func (in inputs) factoryContext(params types.ParameterSet, dateRange types.DateRange) strategy.FactoryContext {
	return strategy.FactoryContext{
		Params:     params,
		Prices:     in.prices,
		Range:      dateRange,
		SignalFile: in.signalFile,
	}
}

// request builds the engine request of a single run over the configured range.
func (in inputs) request() (engine.RunRequest, error) {
	signals, err := in.factory(in.factoryContext(in.params, in.dateRange))
	if err != nil {
		return engine.RunRequest{}, errors.Wrapf(errors.GetCode(err), err, "failed to build strategy %s", in.strategyName)
	}

	return engine.RunRequest{
		Signals:            signals,
		Prices:             in.prices,
		CostModel:          in.costModel,
		Range:              in.dateRange,
		InitialCapital:     in.config.InitialCapital,
		RiskFreeRate:       in.config.RiskFreeRate,
		VolumeLookbackDays: in.config.VolumeLookbackDays,
		Sink:               optional.None[engine.PersistenceSink](),
		Callbacks:          engine.LifecycleCallbacks{},
	}, nil
}

func inputFlags() []cli.Flag {
	dateConfig := cli.TimestampConfig{
		Layouts: []string{types.DateLayout},
	}

	return []cli.Flag{
		&cli.StringFlag{
			Name:     "data",
			Aliases:  []string{"d"},
			Usage:    "Daily bars as a `parquet or CSV` file (glob patterns allowed)",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Backtest configuration YAML. Flags override its values",
		},
		&cli.StringFlag{
			Name:    "strategy",
			Aliases: []string{"s"},
			Usage:   fmt.Sprintf("Strategy id (one of %s)", strings.Join(strategy.NewDefaultRegistry().List(), ", ")),
			Value:   strategy.BuyAndHoldName,
		},
		&cli.StringFlag{
			Name:  "params",
			Usage: "Strategy parameters as `key=value,...`",
		},
		&cli.StringFlag{
			Name:  "signal-file",
			Usage: "Signal file used by the file strategy",
		},
		&cli.TimestampFlag{
			Name:   "start",
			Usage:  "First trading day in `YYYY-MM-DD` format (inclusive)",
			Config: dateConfig,
		},
		&cli.TimestampFlag{
			Name:   "end",
			Usage:  "End of the backtest in `YYYY-MM-DD` format (exclusive)",
			Config: dateConfig,
		},
		&cli.FloatFlag{
			Name:  "initial-capital",
			Usage: "Starting cash of the portfolio",
			Value: 100_000,
		},
		&cli.StringFlag{
			Name:  "cost-profile",
			Usage: fmt.Sprintf("Cost profile (one of %v)", cost_model.AllProfiles),
			Value: string(cost_model.ProfileStandard),
		},
		&cli.FloatFlag{
			Name:  "risk-free-rate",
			Usage: "Annual risk-free rate used by Sharpe and Sortino",
		},
		&cli.StringFlag{
			Name:  "region",
			Usage: "Region used when the data file has no region column",
			Value: "US",
		},
		&cli.StringFlag{
			Name:  "currency",
			Usage: "Currency used when the data file has no currency column",
			Value: "USD",
		},
	}
}

// loadInputs resolves the configuration, the strategy and the market data of a command.
func loadInputs(ctx context.Context, cmd *cli.Command, log *logger.Logger) (inputs, error) {
	config, err := resolveConfig(cmd)
	if err != nil {
		return inputs{}, err
	}

	dateRange, err := config.DateRange()
	if err != nil {
		return inputs{}, err
	}

	costModel, err := config.CostModel()
	if err != nil {
		return inputs{}, err
	}

	name := cmd.String("strategy")

	factory, err := strategy.NewDefaultRegistry().Get(name)
	if err != nil {
		return inputs{}, err
	}

	params, err := parseParams(name, cmd.String("params"))
	if err != nil {
		return inputs{}, err
	}

	loader, err := datasource.NewDuckDBLoader(log)
	if err != nil {
		return inputs{}, err
	}
	defer loader.Close()

	// the whole file is loaded so that volume lookback before the start has bars to average
	prices, err := loader.Load(ctx, datasource.LoadOptions{
		Path:            cmd.String("data"),
		Range:           optional.None[types.DateRange](),
		DefaultRegion:   cmd.String("region"),
		DefaultCurrency: cmd.String("currency"),
	})
	if err != nil {
		return inputs{}, err
	}

	return inputs{
		config:       config,
		strategyName: name,
		factory:      factory,
		params:       params,
		signalFile:   cmd.String("signal-file"),
		prices:       prices,
		costModel:    costModel,
		dateRange:    dateRange,
	}, nil
}

// resolveConfig loads the configuration file, if any, and applies the flags that were set.
// Without a file, flag defaults apply.
func resolveConfig(cmd *cli.Command) (engine_v1.BacktestEngineV1Config, error) {
	config := engine_v1.EmptyConfig()
	fromFile := cmd.String("config") != ""

	if fromFile {
		data, err := os.ReadFile(cmd.String("config"))
		if err != nil {
			return config, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read %s", cmd.String("config"))
		}

		config, err = engine_v1.LoadConfig(data)
		if err != nil {
			return config, err
		}
	}

	override := func(flag string) bool {
		return cmd.IsSet(flag) || !fromFile
	}

	if override("initial-capital") {
		config.InitialCapital = cmd.Float("initial-capital")
	}

	if override("cost-profile") {
		config.CostProfile = cost_model.ProfileName(cmd.String("cost-profile"))
	}

	if cmd.IsSet("risk-free-rate") {
		config.RiskFreeRate = cmd.Float("risk-free-rate")
	}

	if cmd.IsSet("start") {
		config.StartTime = optional.Some(types.TruncateToDay(cmd.Timestamp("start")))
	}

	if cmd.IsSet("end") {
		config.EndTime = optional.Some(types.TruncateToDay(cmd.Timestamp("end")))
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// parseParams parses "fast=5,slow=20" into a parameter set named after the strategy.
func parseParams(name string, raw string) (types.ParameterSet, error) {
	params := types.ParameterSet{
		Name:   name,
		Values: make(map[string]float64),
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return params, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)

		if !ok || key == "" {
			return params, errors.Newf(errors.ErrCodeInvalidParameter, "parameter %q is not key=value", pair)
		}

		number, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return params, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "parameter %s is not a number", key)
		}

		params.Values[key] = number
	}

	return params, nil
}

func newLogger(cmd *cli.Command) (*logger.Logger, error) {
	level, err := zapcore.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid log level", err)
	}

	return logger.New(logger.CLIConfig(level))
}

func formatOptional(value optional.Option[float64]) string {
	if value.IsNone() {
		return "n/a"
	}

	return strconv.FormatFloat(value.Unwrap(), 'f', 4, 64)
}

func formatDate(date time.Time) string {
	return date.Format(types.DateLayout)
}
