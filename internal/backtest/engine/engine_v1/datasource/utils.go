package datasource

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// AverageDailyVolume returns the mean volume of up to lookback bars strictly before date.
// It returns None when the instrument has no earlier bars or lookback is not positive.
func AverageDailyVolume(provider PriceProvider, ticker string, region string, date time.Time, lookback int) optional.Option[float64] {
	if lookback <= 0 {
		return optional.None[float64]()
	}

	return MeanVolume(provider.PreviousBars(ticker, region, date, lookback))
}

// MeanVolume returns the mean volume of the valid bars, or None when there are none.
func MeanVolume(bars []types.OHLCV) optional.Option[float64] {
	total := 0.0
	count := 0

	for _, bar := range bars {
		if bar.Validate() != nil {
			continue
		}

		total += bar.Volume
		count++
	}

	if count == 0 {
		return optional.None[float64]()
	}

	return optional.Some(total / float64(count))
}

func dayKey(date time.Time) int64 {
	return types.TruncateToDay(date).Unix()
}
