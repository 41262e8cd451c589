package strategy

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// DefaultNotional is the amount invested per instrument and entry when no notional parameter is given.
const DefaultNotional = 10_000.0

// NewBuyAndHold buys every instrument at the open of the first trading day of the run and sells the
// full position at the close of the last trading day.
//
// Parameters:
//   - notional: amount invested per instrument (default 10,000)
func NewBuyAndHold(ctx FactoryContext) (SignalProvider, error) {
	if ctx.Prices == nil {
		return nil, errors.New(errors.ErrCodeStrategyConfigError, "buy and hold requires a price provider")
	}

	notional := ctx.Params.Get("notional").TakeOr(DefaultNotional)
	if notional <= 0 {
		return nil, errors.Newf(errors.ErrCodeStrategyConfigError, "notional must be positive, got %g", notional)
	}

	days := ctx.Prices.TradingDays(ctx.Range)
	schedule := make(map[time.Time][]types.Signal)

	if len(days) == 0 {
		return NewStaticSignalProvider(schedule), nil
	}

	first, last := days[0], days[len(days)-1]

	for _, instrument := range ctx.Prices.Instruments() {
		schedule[first] = append(schedule[first], types.Signal{
			Ticker:         instrument.Ticker,
			Region:         instrument.Region,
			Side:           types.SideBuy,
			Shares:         optional.None[int64](),
			TargetNotional: optional.Some(notional),
			TimeOfDay:      types.TimeOfDayOpen,
		})

		if last.Equal(first) {
			continue
		}

		schedule[last] = append(schedule[last], types.Signal{
			Ticker:         instrument.Ticker,
			Region:         instrument.Region,
			Side:           types.SideSell,
			Shares:         optional.None[int64](),
			TargetNotional: optional.None[float64](),
			TimeOfDay:      types.TimeOfDayClose,
		})
	}

	return NewStaticSignalProvider(schedule), nil
}
