package datasource

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// PriceProvider is a read-only handle to daily historical prices. Implementations must be safe for
// concurrent reads because one provider is shared by every run of a walk-forward sweep.
type PriceProvider interface {
	// GetOHLCV returns the bar of an instrument on a calendar day, or None if no bar exists.
	GetOHLCV(ticker string, region string, date time.Time) optional.Option[types.OHLCV]
	// PreviousBars returns at most count bars of an instrument strictly before date, oldest first.
	PreviousBars(ticker string, region string, date time.Time, count int) []types.OHLCV
	// TradingDays returns every day in the range on which at least one instrument has a bar, ascending.
	TradingDays(dateRange types.DateRange) []time.Time
	// Instruments returns every instrument with at least one bar, ordered by key.
	Instruments() []types.Instrument
}
