package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	engine_v1 "github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-backtest/internal/walkforward"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

func walkForwardCommand() *cli.Command {
	return &cli.Command{
		Name:  "walkforward",
		Usage: "Run a walk-forward parameter sweep",
		Flags: append(inputFlags(),
			&cli.StringFlag{
				Name:     "walkforward-config",
				Aliases:  []string{"w"},
				Usage:    "Schedule and parameter space `YAML`",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "parallelism",
				Usage: "Windows evaluated at once. Overrides the sweep configuration",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write the full report as JSON to `FILE`",
			},
		),
		Action: walkForwardAction,
	}
}

func walkForwardAction(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	data, err := os.ReadFile(cmd.String("walkforward-config"))
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read %s", cmd.String("walkforward-config"))
	}

	sweep, err := walkforward.LoadConfig(data)
	if err != nil {
		return err
	}

	if cmd.IsSet("parallelism") {
		sweep.Parallelism = int(cmd.Int("parallelism"))
	}

	in, err := loadInputs(ctx, cmd, log)
	if err != nil {
		return err
	}

	windows, err := walkforward.GenerateWindows(in.dateRange, sweep.Schedule)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(windows),
		progressbar.OptionSetWriter(cmd.Root().ErrWriter),
		progressbar.OptionSetDescription("Walk-forward windows"),
		progressbar.OptionShowCount(),
	)

	optimizer := walkforward.NewOptimizer(engine_v1.NewBacktestEngineV1(log), walkforward.OptimizerConfig{
		OverfitThreshold: sweep.OverfitThreshold,
		Parallelism:      sweep.Parallelism,
		OnWindowDone: func(walkforward.WindowResult) {
			_ = bar.Add(1)
		},
	}, log)

	report, err := optimizer.Run(ctx, walkforward.Request{
		Range:              in.dateRange,
		Schedule:           sweep.Schedule,
		Parameters:         sweep.Parameters,
		Strategy:           in.factory,
		SignalFile:         in.signalFile,
		Prices:             in.prices,
		CostModel:          in.costModel,
		InitialCapital:     in.config.InitialCapital,
		RiskFreeRate:       in.config.RiskFreeRate,
		VolumeLookbackDays: in.config.VolumeLookbackDays,
	})

	_ = bar.Finish()
	fmt.Fprintln(cmd.Root().ErrWriter)

	if err != nil {
		return err
	}

	printWalkForward(cmd.Root().Writer, report)

	if path := cmd.String("report"); path != "" {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}

		if err := os.WriteFile(path, out, 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	return nil
}

func printWalkForward(w io.Writer, report walkforward.Report) {
	for _, result := range report.Windows {
		window := result.Window

		fmt.Fprintf(w, "Window %d  train %s..%s  test %s..%s  ",
			window.Index,
			formatDate(window.TrainStart), formatDate(window.TrainEnd),
			formatDate(window.TestStart), formatDate(window.TestEnd),
		)

		if result.Outcome.IsNone() {
			fmt.Fprintln(w, FailStyle.Render("failed: "+result.Error))

			continue
		}

		outcome := result.Outcome.Unwrap()

		overfit := ""
		if outcome.Overfit {
			overfit = "  " + FailStyle.Render("overfit")
		}

		fmt.Fprintf(w, "selected %s  IS sharpe %s  OOS sharpe %s%s\n",
			outcome.Selected.Name,
			formatOptional(outcome.InSample.Sharpe),
			formatOptional(outcome.OutOfSample.Sharpe),
			overfit,
		)
	}

	aggregate := report.Aggregate

	fmt.Fprintln(w, TitleStyle.Render("Walk-forward summary"))
	fmt.Fprintf(w, "Windows completed:     %d/%d\n", aggregate.Completed, aggregate.Windows)
	fmt.Fprintf(w, "Mean IS sharpe:        %s\n", formatOptional(aggregate.MeanInSampleSharpe))
	fmt.Fprintf(w, "Mean OOS sharpe:       %s\n", formatOptional(aggregate.MeanOutOfSampleSharpe))
	fmt.Fprintf(w, "Median OOS sharpe:     %s\n", formatOptional(aggregate.MedianOutOfSampleSharpe))
	fmt.Fprintf(w, "Positive OOS windows:  %s\n", formatOptional(aggregate.PositiveFraction))
	fmt.Fprintf(w, "Overfit windows:       %d\n", aggregate.OverfitWindows)
	fmt.Fprintf(w, "Overfit:               %t\n", aggregate.Overfit)
}
