package strategy

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// NewSMACrossover buys when the fast simple moving average of closes crosses above the slow one and
// sells the full position when it crosses back below. Averages only use bars strictly before the trading
// day and orders execute at that day's open, so no signal sees the price it trades at.
//
// Parameters:
//   - fast: fast window in bars (default 5)
//   - slow: slow window in bars (default 20)
//   - notional: amount invested per entry (default 10,000)
func NewSMACrossover(ctx FactoryContext) (SignalProvider, error) {
	if ctx.Prices == nil {
		return nil, errors.New(errors.ErrCodeStrategyConfigError, "sma crossover requires a price provider")
	}

	fast := int(ctx.Params.Get("fast").TakeOr(5))
	slow := int(ctx.Params.Get("slow").TakeOr(20))
	notional := ctx.Params.Get("notional").TakeOr(DefaultNotional)

	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, errors.Newf(errors.ErrCodeStrategyConfigError,
			"sma crossover needs 0 < fast < slow, got fast=%d slow=%d", fast, slow)
	}

	if notional <= 0 {
		return nil, errors.Newf(errors.ErrCodeStrategyConfigError, "notional must be positive, got %g", notional)
	}

	schedule := make(map[time.Time][]types.Signal)
	days := ctx.Prices.TradingDays(ctx.Range)

	for _, instrument := range ctx.Prices.Instruments() {
		holding := false

		for _, day := range days {
			// one extra bar gives the previous day's averages
			bars := ctx.Prices.PreviousBars(instrument.Ticker, instrument.Region, day, slow+1)
			if len(bars) < slow+1 {
				continue
			}

			fastNow := closeAverage(bars[len(bars)-fast:])
			slowNow := closeAverage(bars[len(bars)-slow:])
			fastPrev := closeAverage(bars[len(bars)-fast-1 : len(bars)-1])
			slowPrev := closeAverage(bars[:slow])

			switch {
			case !holding && fastPrev <= slowPrev && fastNow > slowNow:
				schedule[day] = append(schedule[day], types.Signal{
					Ticker:         instrument.Ticker,
					Region:         instrument.Region,
					Side:           types.SideBuy,
					Shares:         optional.None[int64](),
					TargetNotional: optional.Some(notional),
					TimeOfDay:      types.TimeOfDayOpen,
				})
				holding = true
			case holding && fastPrev >= slowPrev && fastNow < slowNow:
				schedule[day] = append(schedule[day], types.Signal{
					Ticker:         instrument.Ticker,
					Region:         instrument.Region,
					Side:           types.SideSell,
					Shares:         optional.None[int64](),
					TargetNotional: optional.None[float64](),
					TimeOfDay:      types.TimeOfDayOpen,
				})
				holding = false
			}
		}
	}

	return NewStaticSignalProvider(schedule), nil
}

func closeAverage(bars []types.OHLCV) float64 {
	if len(bars) == 0 {
		return 0
	}

	total := 0.0
	for _, bar := range bars {
		total += bar.Close
	}

	return total / float64(len(bars))
}
