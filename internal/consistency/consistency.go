// Package consistency cross-checks two engine implementations on identical inputs.
package consistency

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTolerance is the relative delta above which two values disagree.
const DefaultTolerance = 0.01

// Compared fields.
const (
	FieldFinalEquity  = "final_equity"
	FieldTradeCount   = "trade_count"
	FieldTotalEquity  = "total_equity"
	FieldEquityPoints = "equity_points"
	FieldEquityDate   = "equity_date"
	FieldPrice        = "price"
	FieldShares       = "shares"
	FieldCommission   = "commission"
	FieldSlippage     = "slippage"
	FieldMarketImpact = "market_impact"
	FieldTotalCost    = "total_cost"
	FieldTicker       = "ticker"
	FieldSide         = "side"
)

// Discrepancy is one value on which the engines disagree beyond tolerance.
type Discrepancy struct {
	// Date is the trading day of the value. None for run-level fields.
	Date          optional.Option[time.Time] `json:"date"`
	Field         string                     `json:"field"`
	Ticker        string                     `json:"ticker,omitempty"`
	Expected      float64                    `json:"expected"`
	Actual        float64                    `json:"actual"`
	RelativeDelta float64                    `json:"relative_delta"`
	// ExpectedText and ActualText hold non-numeric values such as the ticker or side of a trade.
	ExpectedText string `json:"expected_text,omitempty"`
	ActualText   string `json:"actual_text,omitempty"`
}

// String formats the discrepancy for CLI output.
func (d Discrepancy) String() string {
	date := "-"
	if d.Date.IsSome() {
		date = d.Date.Unwrap().Format(types.DateLayout)
	}

	if d.ExpectedText != "" || d.ActualText != "" {
		return fmt.Sprintf("%s %s %s expected=%s actual=%s", date, d.Field, d.Ticker, d.ExpectedText, d.ActualText)
	}

	return fmt.Sprintf("%s %s %s expected=%g actual=%g delta=%.4f%%",
		date, d.Field, d.Ticker, d.Expected, d.Actual, d.RelativeDelta*100)
}

// Report is the outcome of one validation. Mismatches are reported here and never returned as errors.
type Report struct {
	ExpectedEngine string        `json:"expected_engine"`
	ActualEngine   string        `json:"actual_engine"`
	Tolerance      float64       `json:"tolerance"`
	Discrepancies  []Discrepancy `json:"discrepancies"`
	Passed         bool          `json:"passed"`

	Expected engine.RunResult `json:"-"`
	Actual   engine.RunResult `json:"-"`
}

// Validator runs an expected and an actual engine side by side.
type Validator struct {
	expected  engine.Engine
	actual    engine.Engine
	tolerance float64
	log       *logger.Logger
}

// NewValidator creates a validator. A non-positive tolerance uses DefaultTolerance.
func NewValidator(expected engine.Engine, actual engine.Engine, tolerance float64, log *logger.Logger) *Validator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Validator{
		expected:  expected,
		actual:    actual,
		tolerance: tolerance,
		log:       log.Named("consistency"),
	}
}

// Validate runs both engines concurrently on req and diffs their output. An engine error is returned
// as an error; disagreement is not.
func (v *Validator) Validate(ctx context.Context, req engine.RunRequest) (Report, error) {
	// each engine writes its own output; a shared sink would interleave both runs
	req.Sink = optional.None[engine.PersistenceSink]()
	req.Callbacks = engine.LifecycleCallbacks{}

	var expected, actual engine.RunResult

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		result, err := v.expected.Run(gctx, req)
		if err != nil {
			return errors.Wrapf(errors.GetCode(err), err, "%s run failed", v.expected.Name())
		}

		expected = result

		return nil
	})

	g.Go(func() error {
		result, err := v.actual.Run(gctx, req)
		if err != nil {
			return errors.Wrapf(errors.GetCode(err), err, "%s run failed", v.actual.Name())
		}

		actual = result

		return nil
	})

	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{
		ExpectedEngine: v.expected.Name(),
		ActualEngine:   v.actual.Name(),
		Tolerance:      v.tolerance,
		Discrepancies:  v.Compare(expected, actual),
		Expected:       expected,
		Actual:         actual,
	}
	report.Passed = len(report.Discrepancies) == 0

	if report.Passed {
		v.log.Info("Engines agree",
			zap.String("expected", report.ExpectedEngine),
			zap.String("actual", report.ActualEngine),
			zap.Int("trades", len(expected.TradeLog)),
		)
	} else {
		v.log.Warn("Engines disagree",
			zap.String("expected", report.ExpectedEngine),
			zap.String("actual", report.ActualEngine),
			zap.Int("discrepancies", len(report.Discrepancies)),
		)
	}

	return report, nil
}

// Compare diffs two results. Trades are matched by position in the trade log and equity points by
// position in the curve; counts that differ are reported once and the common prefix is compared.
// A trade whose ticker or side differs is reported for those fields only.
func (v *Validator) Compare(expected engine.RunResult, actual engine.RunResult) []Discrepancy {
	var discrepancies []Discrepancy

	check := func(date optional.Option[time.Time], field string, ticker string, e float64, a float64) {
		delta := RelativeDelta(e, a)
		if delta > v.tolerance {
			discrepancies = append(discrepancies, Discrepancy{
				Date:          date,
				Field:         field,
				Ticker:        ticker,
				Expected:      e,
				Actual:        a,
				RelativeDelta: delta,
			})
		}
	}

	none := optional.None[time.Time]()

	check(none, FieldFinalEquity, "", expected.FinalEquity(), actual.FinalEquity())

	if len(expected.TradeLog) != len(actual.TradeLog) {
		discrepancies = append(discrepancies, Discrepancy{
			Date:          none,
			Field:         FieldTradeCount,
			Expected:      float64(len(expected.TradeLog)),
			Actual:        float64(len(actual.TradeLog)),
			RelativeDelta: RelativeDelta(float64(len(expected.TradeLog)), float64(len(actual.TradeLog))),
		})
	}

	for i := 0; i < min(len(expected.TradeLog), len(actual.TradeLog)); i++ {
		e, a := expected.TradeLog[i], actual.TradeLog[i]
		date := optional.Some(e.Date)

		identity := []struct {
			field    string
			expected string
			actual   string
		}{
			{field: FieldTicker, expected: e.Ticker, actual: a.Ticker},
			{field: FieldSide, expected: string(e.Side), actual: string(a.Side)},
		}

		matched := true

		for _, id := range identity {
			if id.expected == id.actual {
				continue
			}

			matched = false

			discrepancies = append(discrepancies, Discrepancy{
				Date:          date,
				Field:         id.field,
				Ticker:        e.Ticker,
				RelativeDelta: math.Inf(1),
				ExpectedText:  id.expected,
				ActualText:    id.actual,
			})
		}

		// amounts of different trades are not comparable
		if !matched {
			continue
		}

		check(date, FieldPrice, e.Ticker, e.Price, a.Price)
		check(date, FieldShares, e.Ticker, float64(e.Shares), float64(a.Shares))
		check(date, FieldCommission, e.Ticker, e.Commission, a.Commission)
		check(date, FieldSlippage, e.Ticker, e.Slippage, a.Slippage)
		check(date, FieldMarketImpact, e.Ticker, e.MarketImpact, a.MarketImpact)
		check(date, FieldTotalCost, e.Ticker, e.TotalCost, a.TotalCost)
	}

	if len(expected.EquityCurve) != len(actual.EquityCurve) {
		discrepancies = append(discrepancies, Discrepancy{
			Date:          none,
			Field:         FieldEquityPoints,
			Expected:      float64(len(expected.EquityCurve)),
			Actual:        float64(len(actual.EquityCurve)),
			RelativeDelta: RelativeDelta(float64(len(expected.EquityCurve)), float64(len(actual.EquityCurve))),
		})
	}

	for i := 0; i < min(len(expected.EquityCurve), len(actual.EquityCurve)); i++ {
		e, a := expected.EquityCurve[i], actual.EquityCurve[i]

		if !e.Date.Equal(a.Date) {
			discrepancies = append(discrepancies, Discrepancy{
				Date:          optional.Some(e.Date),
				Field:         FieldEquityDate,
				Expected:      float64(e.Date.Unix()),
				Actual:        float64(a.Date.Unix()),
				RelativeDelta: math.Inf(1),
			})

			continue
		}

		check(optional.Some(e.Date), FieldTotalEquity, "", e.TotalEquity, a.TotalEquity)
	}

	return discrepancies
}

// RelativeDelta is |actual - expected| / max(|expected|, 1).
func RelativeDelta(expected float64, actual float64) float64 {
	return math.Abs(actual-expected) / math.Max(math.Abs(expected), 1)
}
