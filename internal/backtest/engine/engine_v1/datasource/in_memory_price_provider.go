package datasource

import (
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// InMemoryPriceProvider provides indexed access to daily bars held in memory.
// It is immutable after construction, so a single instance can be shared by concurrent runs.
type InMemoryPriceProvider struct {
	// bars[instrumentKey] = bars of that instrument in chronological order
	bars map[string][]types.OHLCV

	// dayIndex[instrumentKey][unixDay] = index into bars[instrumentKey]
	dayIndex map[string]map[int64]int

	// Union of all bar dates, ascending and unique.
	days []time.Time

	instruments []types.Instrument
}

// NewInMemoryPriceProvider indexes the given bars. Bar dates are normalized to calendar days; when an
// instrument has more than one bar on a day the last one wins. Bars failing OHLCV.Validate are not
// indexed, so their days read as missing data.
func NewInMemoryPriceProvider(bars []types.OHLCV) *InMemoryPriceProvider {
	sorted := make([]types.OHLCV, 0, len(bars))

	for _, bar := range bars {
		if bar.Validate() != nil {
			continue
		}

		bar.Date = types.TruncateToDay(bar.Date)
		sorted = append(sorted, bar)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	provider := &InMemoryPriceProvider{
		bars:        make(map[string][]types.OHLCV),
		dayIndex:    make(map[string]map[int64]int),
		days:        nil,
		instruments: nil,
	}

	seenDays := make(map[int64]struct{})

	for _, bar := range sorted {
		instrument := types.Instrument{Ticker: bar.Ticker, Region: bar.Region}
		key := instrument.Key()
		day := bar.Date.Unix()

		if _, ok := provider.bars[key]; !ok {
			provider.bars[key] = make([]types.OHLCV, 0)
			provider.dayIndex[key] = make(map[int64]int)
			provider.instruments = append(provider.instruments, instrument)
		}

		if index, ok := provider.dayIndex[key][day]; ok {
			provider.bars[key][index] = bar
		} else {
			provider.dayIndex[key][day] = len(provider.bars[key])
			provider.bars[key] = append(provider.bars[key], bar)
		}

		if _, ok := seenDays[day]; !ok {
			seenDays[day] = struct{}{}
			provider.days = append(provider.days, bar.Date)
		}
	}

	sort.Slice(provider.instruments, func(i, j int) bool {
		return provider.instruments[i].Key() < provider.instruments[j].Key()
	})

	return provider
}

// GetOHLCV implements PriceProvider.
func (p *InMemoryPriceProvider) GetOHLCV(ticker string, region string, date time.Time) optional.Option[types.OHLCV] {
	key := types.Instrument{Ticker: ticker, Region: region}.Key()

	index, ok := p.dayIndex[key][dayKey(date)]
	if !ok {
		return optional.None[types.OHLCV]()
	}

	return optional.Some(p.bars[key][index])
}

// PreviousBars implements PriceProvider.
func (p *InMemoryPriceProvider) PreviousBars(ticker string, region string, date time.Time, count int) []types.OHLCV {
	if count <= 0 {
		return nil
	}

	bars := p.bars[types.Instrument{Ticker: ticker, Region: region}.Key()]
	day := types.TruncateToDay(date)

	// first bar on or after date
	end := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Date.Before(day)
	})

	start := max(end-count, 0)

	result := make([]types.OHLCV, end-start)
	copy(result, bars[start:end])

	return result
}

// TradingDays implements PriceProvider.
func (p *InMemoryPriceProvider) TradingDays(dateRange types.DateRange) []time.Time {
	start := sort.Search(len(p.days), func(i int) bool {
		return !p.days[i].Before(dateRange.Start)
	})
	end := sort.Search(len(p.days), func(i int) bool {
		return !p.days[i].Before(dateRange.End)
	})

	if start >= end {
		return nil
	}

	result := make([]time.Time, end-start)
	copy(result, p.days[start:end])

	return result
}

// Instruments implements PriceProvider.
func (p *InMemoryPriceProvider) Instruments() []types.Instrument {
	result := make([]types.Instrument, len(p.instruments))
	copy(result, p.instruments)

	return result
}

// Bars returns every bar of an instrument in chronological order.
func (p *InMemoryPriceProvider) Bars(ticker string, region string) []types.OHLCV {
	bars := p.bars[types.Instrument{Ticker: ticker, Region: region}.Key()]

	result := make([]types.OHLCV, len(bars))
	copy(result, bars)

	return result
}

// Count returns the total number of bars held.
func (p *InMemoryPriceProvider) Count() int {
	total := 0
	for _, bars := range p.bars {
		total += len(bars)
	}

	return total
}
