package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	engine_v1 "github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a single backtest",
		Flags: append(inputFlags(),
			&cli.StringFlag{
				Name:    "results",
				Aliases: []string{"r"},
				Usage:   "Results folder. Each run is written to `DIR`/<strategy>/<run_id>",
				Value:   "results",
			},
		),
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	in, err := loadInputs(ctx, cmd, log)
	if err != nil {
		return err
	}

	req, err := in.request()
	if err != nil {
		return err
	}

	state, err := engine_v1.NewBacktestState(log)
	if err != nil {
		return err
	}
	defer state.Close()

	if err := state.Initialize(); err != nil {
		return err
	}

	var runID string

	req.Sink = optional.Some[engine.PersistenceSink](state)
	req.Callbacks = progressCallbacks(cmd.Root().ErrWriter, &runID)

	result, err := engine_v1.NewBacktestEngineV1(log).Run(ctx, req)
	if err != nil {
		return err
	}

	path := filepath.Join(cmd.String("results"), in.strategyName, runID)

	err = state.Write(path, engine_v1.RunInfo{
		ID:          runID,
		Strategy:    in.strategyName,
		CostProfile: string(in.costModel.Profile().Name),
		Range:       in.dateRange,
	})
	if err != nil {
		return err
	}

	log.Info("Run written", zap.String("run_id", runID), zap.String("path", path))

	printSummary(cmd.Root().Writer, result)
	fmt.Fprintf(cmd.Root().Writer, "Results:          %s\n", path)

	return nil
}

// progressCallbacks draws a per-day progress bar on w and records the run id.
func progressCallbacks(w io.Writer, runID *string) engine.LifecycleCallbacks {
	var bar *progressbar.ProgressBar

	onStart := engine.OnRunStartCallback(func(id string, dateRange types.DateRange, totalDays int) error {
		*runID = id
		bar = progressbar.NewOptions(totalDays,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(fmt.Sprintf("Backtesting %s", dateRange)),
			progressbar.OptionShowCount(),
		)

		return nil
	})

	onProcess := engine.OnProcessDataCallback(func(current int, total int) error {
		return bar.Set(current)
	})

	onEnd := engine.OnRunEndCallback(func(id string, err error) {
		if bar != nil {
			_ = bar.Finish()
		}

		fmt.Fprintln(w)
	})

	return engine.LifecycleCallbacks{
		OnRunStart:    &onStart,
		OnRunEnd:      &onEnd,
		OnProcessData: &onProcess,
	}
}

// printSummary reports trades executed, rejections by reason, data gaps and headline metrics.
func printSummary(w io.Writer, result engine.RunResult) {
	summary := result.Summary
	metrics := result.Metrics

	fmt.Fprintln(w, TitleStyle.Render("Backtest summary"))
	fmt.Fprintf(w, "Trading days:     %d\n", summary.TradingDays)
	fmt.Fprintf(w, "Trades executed:  %d\n", summary.TradesExecuted)
	fmt.Fprintf(w, "Rejected:         %d\n", summary.Rejected)

	reasons := make([]string, 0, len(summary.RejectedByReason))
	for reason := range summary.RejectedByReason {
		reasons = append(reasons, reason)
	}

	sort.Strings(reasons)

	for _, reason := range reasons {
		fmt.Fprintf(w, "  %-16s%d\n", reason+":", summary.RejectedByReason[reason])
	}

	fmt.Fprintf(w, "Data gaps:        %d\n", summary.DataGaps)
	fmt.Fprintf(w, "Final equity:     %.2f\n", metrics.FinalEquity)
	fmt.Fprintf(w, "Total return:     %s\n", formatOptional(metrics.TotalReturn))
	fmt.Fprintf(w, "Sharpe:           %s\n", formatOptional(metrics.Sharpe))
	fmt.Fprintf(w, "Max drawdown:     %.4f\n", metrics.MaxDrawdown)
}
