package main

import (
	"context"
	"fmt"

	"github.com/rxtech-lab/argo-backtest/internal/consistency"
	"github.com/urfave/cli/v3"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Run the event-driven and vectorized engines on the same inputs and compare them",
		Flags: append(inputFlags(),
			&cli.FloatFlag{
				Name:  "tolerance",
				Usage: "Relative difference above which two values disagree",
				Value: consistency.DefaultTolerance,
			},
		),
		Action: validateAction,
	}
}

func validateAction(ctx context.Context, cmd *cli.Command) error {
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

	report, err := consistency.NewDefaultValidator(cmd.Float("tolerance"), log).Validate(ctx, req)
	if err != nil {
		return err
	}

	w := cmd.Root().Writer

	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("%s vs %s (tolerance %.2f%%)", report.ExpectedEngine, report.ActualEngine, report.Tolerance*100)))
	fmt.Fprintf(w, "Trades:        %d vs %d\n", len(report.Expected.TradeLog), len(report.Actual.TradeLog))
	fmt.Fprintf(w, "Final equity:  %.2f vs %.2f\n", report.Expected.FinalEquity(), report.Actual.FinalEquity())

	for _, discrepancy := range report.Discrepancies {
		fmt.Fprintln(w, FailStyle.Render(discrepancy.String()))
	}

	if !report.Passed {
		return fmt.Errorf("engines disagree on %d values", len(report.Discrepancies))
	}

	fmt.Fprintln(w, PassStyle.Render("Engines agree"))

	return nil
}
